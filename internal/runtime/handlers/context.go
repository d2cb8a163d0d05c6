package handlers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
)

// PerformFunc processes one delivered message. Its signature matches the
// runtime handler contract.
type PerformFunc func(ctx context.Context, msg *message.Message) error

// MessageContextBase provides common functionality for all message context types.
// It holds the metadata and logger shared by JSON and Proto handlers.
type MessageContextBase struct {
	MessageUUID string
	Metadata    metadatapkg.Metadata
	Logger      loggingpkg.ServiceLogger
}

func newContextBase(msg *message.Message, logger loggingpkg.ServiceLogger) MessageContextBase {
	return MessageContextBase{
		MessageUUID: msg.UUID,
		Metadata:    metadatapkg.FromWatermill(msg.Metadata),
		Logger:      logger.With(loggingpkg.LogFields{"message_uuid": msg.UUID}),
	}
}

// CloneMetadata returns a copy of the current metadata map so handlers can
// mutate it without touching the delivered message.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata.Get(key)
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata.CorrelationID()
}
