package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	idspkg "github.com/drblury/subserver/internal/runtime/ids"
	jsoncodec "github.com/drblury/subserver/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// NewMessageFromProto encodes event as protojson and tags the message with its
// schema and content type.
func NewMessageFromProto(event proto.Message, metadata metadatapkg.Metadata) (*message.Message, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}
	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return newMessage(payload, metadata, string(event.ProtoReflect().Descriptor().FullName())), nil
}

// NewMessageFromJSON encodes event with the JSON codec used by the typed
// handlers.
func NewMessageFromJSON(event any, metadata metadatapkg.Metadata) (*message.Message, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}
	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return newMessage(payload, metadata, fmt.Sprintf("%T", event)), nil
}

func newMessage(payload []byte, metadata metadatapkg.Metadata, schema string) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata.Set(metadatapkg.KeyEventSchema, schema)
	if msg.Metadata.Get(metadatapkg.KeyContentType) == "" {
		msg.Metadata.Set(metadatapkg.KeyContentType, metadatapkg.ContentTypeJSON)
	}
	return msg
}

// Publish sends msg to topic. A correlation id found on ctx is carried over
// when the message has none, so work triggered by a handler stays linked to
// the message that caused it.
func Publish(ctx context.Context, publisher message.Publisher, topic string, msg *message.Message) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx != nil {
		if id := CorrelationID(ctx); id != "" && msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, id)
		}
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishProto marshals event and publishes it on the service transport.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return err
	}
	return Publish(ctx, s.transport.Publisher, topic, msg)
}

// PublishJSON marshals event and publishes it on the service transport.
func (s *Service) PublishJSON(ctx context.Context, topic string, event any, metadata metadatapkg.Metadata) error {
	msg, err := NewMessageFromJSON(event, metadata)
	if err != nil {
		return err
	}
	return Publish(ctx, s.transport.Publisher, topic, msg)
}
