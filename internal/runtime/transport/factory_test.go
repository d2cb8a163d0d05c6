package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/subserver/internal/runtime/config"
	"github.com/drblury/subserver/internal/runtime/logging"
	"github.com/drblury/subserver/transport"
	"github.com/drblury/subserver/transport/transporttest"
)

func testLogger() watermill.LoggerAdapter {
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logging.NewWatermillAdapter(logging.NewSlogServiceLogger(slogger))
}

func TestDefaultFactory_BuildChannel(t *testing.T) {
	cfg := config.Default()
	cfg.PubSubSystem = "channel"

	tr, err := DefaultFactory().Build(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.Equal(t, "channel", tr.Capabilities.Name)
}

func TestDefaultFactory_NilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestDefaultFactory_UnknownTransport(t *testing.T) {
	cfg := config.Default()
	cfg.PubSubSystem = "carrier-pigeon"

	_, err := DefaultFactory().Build(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestRegistryFactory_RequiresSubscriber(t *testing.T) {
	r := transport.NewRegistry()
	r.Register("publish-only", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: &transporttest.Publisher{}}, nil
	})
	cfg := config.Default()
	cfg.PubSubSystem = "publish-only"

	_, err := RegistryFactory(r).Build(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not provide a subscriber")
}

func TestRegistryFactory_PropagatesBuilderError(t *testing.T) {
	boom := errors.New("dial failed")
	r := transport.NewRegistry()
	r.Register("broken", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, boom
	})
	cfg := config.Default()
	cfg.PubSubSystem = "broken"

	_, err := RegistryFactory(r).Build(context.Background(), cfg, testLogger())
	require.ErrorIs(t, err, boom)
}

func TestStatic(t *testing.T) {
	sub := &transporttest.Subscriber{}
	tr, err := Static(transport.Transport{Subscriber: sub}).Build(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Same(t, sub, tr.Subscriber)
}
