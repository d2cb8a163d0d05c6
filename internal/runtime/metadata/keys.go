package metadata

// Reserved metadata keys.
const (
	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"

	// KeyContentType selects the payload decoding of typed handlers.
	KeyContentType = "content_type"

	// KeyEventSchema names the payload type of a message.
	KeyEventSchema = "event_message_schema"
)

// Content types understood by the typed handlers.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/protobuf"
)
