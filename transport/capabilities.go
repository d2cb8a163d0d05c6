package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// SupportsOrdering indicates the transport guarantees ordering within a
	// partition or queue.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsCompetingConsumers indicates that several Subscribe calls on the
	// same subscription share the work instead of each receiving every message.
	// Listeners only open more than one stream when this is true.
	SupportsCompetingConsumers bool

	// SupportsResolution indicates the transport can check that a subscription
	// exists before consuming from it.
	SupportsResolution bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Streams clamps the requested stream count to what the transport can share.
func (c Capabilities) Streams(requested int) int {
	if requested < 1 {
		return 1
	}
	if !c.SupportsCompetingConsumers {
		return 1
	}
	return requested
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsResolution: true,
	}

	KafkaCapabilities = Capabilities{
		Name:                       "kafka",
		SupportsOrdering:           true,
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsCompetingConsumers: true,
		SupportsResolution:         true,
		MaxMessageSize:             1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                       "rabbitmq",
		SupportsOrdering:           true,
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsCompetingConsumers: true,
		SupportsResolution:         true,
	}

	NATSCapabilities = Capabilities{
		Name:                       "nats",
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsCompetingConsumers: true,
		SupportsResolution:         true,
		MaxMessageSize:             1048576,
	}

	AWSCapabilities = Capabilities{
		Name:                       "aws",
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsCompetingConsumers: true,
		SupportsResolution:         true,
		MaxMessageSize:             262144,
	}

	GoCloudCapabilities = Capabilities{
		Name:                       "gocloud",
		SupportsAck:                true,
		SupportsNack:               true,
		SupportsCompetingConsumers: true,
		SupportsResolution:         true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Returns a Capabilities value carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
