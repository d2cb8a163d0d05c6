package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/subserver/internal/runtime/config"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	transportpkg "github.com/drblury/subserver/internal/runtime/transport"
	"github.com/drblury/subserver/subservertest"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestConfig() *configpkg.Config {
	conf := configpkg.Default()
	conf.PauseInterval = 10 * time.Millisecond
	conf.ResolveTimeout = time.Second
	return conf
}

// testEnv is a service wired to an in-memory broker. Tests that check for
// goroutine leaks must defer Close after deferring the leak check.
type testEnv struct {
	svc      *Service
	broker   *subservertest.Broker
	errors   *subservertest.ErrorRecorder
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, conf *configpkg.Config, subscriptions ...string) *testEnv {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	broker := subservertest.NewBroker(subscriptions...)
	recorder := &subservertest.ErrorRecorder{}
	registry := prometheus.NewRegistry()

	svc, err := TryNewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory:  transportpkg.Static(broker.Transport()),
		ErrorHandlers:     []ErrorHandler{recorder},
		MetricsRegisterer: registry,
		MetricsGatherer:   registry,
	})
	require.NoError(t, err)
	return &testEnv{svc: svc, broker: broker, errors: recorder, registry: registry}
}

func (e *testEnv) Close() {
	_ = e.svc.Close()
}

func (e *testEnv) register(t *testing.T, name, subscription string, h HandlerFunc) *Descriptor {
	t.Helper()
	d, err := e.svc.Register(SubscriberRegistration{
		Name:         name,
		Subscription: subscription,
		Handler:      func() Handler { return h },
	})
	require.NoError(t, err)
	return d
}

func (e *testEnv) publish(t *testing.T, subscription string, payload string) string {
	t.Helper()
	id, err := e.broker.PublishPayload(subscription, []byte(payload))
	require.NoError(t, err)
	return id
}

func (e *testEnv) waitFor(t *testing.T, cond func(b *subservertest.Broker) bool) {
	t.Helper()
	require.True(t, e.broker.WaitFor(2*time.Second, cond), "condition not met in time")
}

// gate blocks handlers until it is opened.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) handler(ignoreCtx bool) HandlerFunc {
	return func(ctx context.Context, _ *message.Message) error {
		g.entered <- struct{}{}
		if ignoreCtx {
			<-g.release
			return nil
		}
		select {
		case <-g.release:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not entered")
	}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

func stateOf(t *testing.T, m *Manager, name string) ListenerState {
	t.Helper()
	for _, l := range m.Listeners() {
		if l.Descriptor().Name() == name {
			return l.State()
		}
	}
	t.Fatalf("listener %s not in fleet", name)
	return 0
}
