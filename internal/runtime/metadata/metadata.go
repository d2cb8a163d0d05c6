package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Metadata is the set of headers carried alongside a message payload.
// Helpers never modify the receiver.
type Metadata map[string]string

// New builds Metadata from alternating key/value pairs. A trailing key
// without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a copy of m; the copy of a nil map is empty, not nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// With returns a copy of m with key set to value.
func (m Metadata) With(key, value string) Metadata {
	c := m.Clone()
	c[key] = value
	return c
}

func (m Metadata) Get(key string) string { return m[key] }

func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }

// ContentType returns the payload content type, defaulting to JSON.
func (m Metadata) ContentType() string {
	if ct := m[KeyContentType]; ct != "" {
		return ct
	}
	return ContentTypeJSON
}

// FromWatermill copies message headers into Metadata.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill copies m into a Watermill header map.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}
