package handlers

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
)

func TestMessageContextBase_Get(t *testing.T) {
	ctx := MessageContextBase{
		Metadata: metadatapkg.Metadata{"key1": "value1", "key2": "value2"},
		Logger:   loggingpkg.Discard(),
	}

	assert.Equal(t, "value1", ctx.Get("key1"))
	assert.Equal(t, "value2", ctx.Get("key2"))
	assert.Equal(t, "", ctx.Get("nonexistent"))
}

func TestMessageContextBase_CorrelationID(t *testing.T) {
	tests := []struct {
		name     string
		metadata metadatapkg.Metadata
		want     string
	}{
		{
			name:     "correlation ID present",
			metadata: metadatapkg.Metadata{metadatapkg.KeyCorrelationID: "correlation-123"},
			want:     "correlation-123",
		},
		{
			name:     "correlation ID absent",
			metadata: metadatapkg.Metadata{},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := MessageContextBase{Metadata: tt.metadata, Logger: loggingpkg.Discard()}
			assert.Equal(t, tt.want, ctx.CorrelationID())
		})
	}
}

func TestMessageContextBase_CloneMetadata(t *testing.T) {
	ctx := MessageContextBase{
		Metadata: metadatapkg.Metadata{"key1": "value1"},
		Logger:   loggingpkg.Discard(),
	}

	cloned := ctx.CloneMetadata()
	cloned["key1"] = "modified"
	cloned["key3"] = "new"

	assert.Equal(t, "value1", ctx.Metadata["key1"])
	assert.Equal(t, "", ctx.Metadata["key3"])
}

func TestNewContextBaseCopiesMetadata(t *testing.T) {
	msg := message.NewMessage("uuid-1", nil)
	msg.Metadata.Set("origin", "test")

	base := newContextBase(msg, loggingpkg.Discard())
	base.Metadata["origin"] = "changed"

	assert.Equal(t, "uuid-1", base.MessageUUID)
	assert.Equal(t, "test", msg.Metadata.Get("origin"))
}
