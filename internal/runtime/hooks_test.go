package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
)

func runJob(t *testing.T, hooks JobHooks, handler func(context.Context) error) error {
	t.Helper()
	d, err := NewRegistry().Register(SubscriberRegistration{
		Name:         "billing",
		Queue:        "critical",
		Subscription: "invoices",
		Handler:      nopHandler,
	})
	require.NoError(t, err)
	msg := message.NewMessage("test-uuid", []byte("payload"))
	msg.Metadata.Set("tenant", "acme")
	return jobHooksInterceptor(hooks).Intercept(context.Background(), d, msg, handler)
}

func TestJobHooks_OnJobStart(t *testing.T) {
	var captured JobContext
	hooks := JobHooks{OnJobStart: func(ctx JobContext) { captured = ctx }}

	require.NoError(t, runJob(t, hooks, func(context.Context) error { return nil }))
	assert.Equal(t, "test-uuid", captured.MessageUUID)
	assert.Equal(t, "billing", captured.Listener)
	assert.Equal(t, "critical", captured.Queue)
	assert.Equal(t, "invoices", captured.Subscription)
	assert.Equal(t, "acme", captured.Metadata.Get("tenant"))
	assert.False(t, captured.StartedAt.IsZero())
	assert.Zero(t, captured.Duration)
}

func TestJobHooks_OnJobDone(t *testing.T) {
	var captured JobContext
	var errorCalled bool
	hooks := JobHooks{
		OnJobDone:  func(ctx JobContext) { captured = ctx },
		OnJobError: func(JobContext, error) { errorCalled = true },
	}

	require.NoError(t, runJob(t, hooks, func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}))
	assert.GreaterOrEqual(t, captured.Duration, 10*time.Millisecond)
	assert.False(t, errorCalled)
}

func TestJobHooks_OnJobError(t *testing.T) {
	var captured error
	var doneCalled bool
	hooks := JobHooks{
		OnJobDone:  func(JobContext) { doneCalled = true },
		OnJobError: func(_ JobContext, err error) { captured = err },
	}

	err := runJob(t, hooks, func(context.Context) error { return errors.New("handler failed") })
	assert.EqualError(t, err, "handler failed")
	assert.EqualError(t, captured, "handler failed")
	assert.False(t, doneCalled)
}

func TestJobHooks_ShutdownIsNotAnError(t *testing.T) {
	var errorCalled, doneCalled bool
	hooks := JobHooks{
		OnJobDone:  func(JobContext) { doneCalled = true },
		OnJobError: func(JobContext, error) { errorCalled = true },
	}

	err := runJob(t, hooks, func(context.Context) error {
		return fmt.Errorf("abandoned: %w", errspkg.ErrShutdown)
	})
	assert.ErrorIs(t, err, errspkg.ErrShutdown)
	assert.False(t, errorCalled)
	assert.False(t, doneCalled)
}

func TestJobHooks_NilHooks(t *testing.T) {
	assert.NoError(t, runJob(t, JobHooks{}, func(context.Context) error { return nil }))
	assert.Error(t, runJob(t, JobHooks{}, func(context.Context) error { return errors.New("x") }))
}

func TestJobHooks_Merge(t *testing.T) {
	var calls []string
	first := JobHooks{
		OnJobStart: func(JobContext) { calls = append(calls, "first-start") },
		OnJobDone:  func(JobContext) { calls = append(calls, "first-done") },
	}
	second := JobHooks{
		OnJobStart: func(JobContext) { calls = append(calls, "second-start") },
		OnJobError: func(JobContext, error) { calls = append(calls, "second-error") },
	}

	merged := first.Merge(second)
	require.NoError(t, runJob(t, merged, func(context.Context) error { return nil }))
	assert.Equal(t, []string{"first-start", "second-start", "first-done"}, calls)

	calls = nil
	_ = runJob(t, merged, func(context.Context) error { return errors.New("x") })
	assert.Equal(t, []string{"first-start", "second-start", "second-error"}, calls)
}

func TestLoggingHooks(t *testing.T) {
	logger := &capturingLogger{}
	hooks := LoggingHooks(logger)

	require.NoError(t, runJob(t, hooks, func(context.Context) error { return nil }))
	_ = runJob(t, hooks, func(context.Context) error { return errors.New("x") })

	assert.Equal(t, []string{"Job failed"}, logger.errors)
}

func TestMetricsHooks(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	count := func(kind string) func(listener, subscription string) {
		return func(listener, subscription string) {
			mu.Lock()
			defer mu.Unlock()
			counts[kind+":"+listener+":"+subscription]++
		}
	}
	hooks := MetricsHooks(count("start"), count("done"), count("error"))

	require.NoError(t, runJob(t, hooks, func(context.Context) error { return nil }))
	_ = runJob(t, hooks, func(context.Context) error { return errors.New("x") })

	assert.Equal(t, map[string]int{
		"start:billing:invoices": 2,
		"done:billing:invoices":  1,
		"error:billing:invoices": 1,
	}, counts)

	assert.NoError(t, runJob(t, MetricsHooks(nil, nil, nil), func(context.Context) error { return nil }))
}

func TestAlertingHooks(t *testing.T) {
	var alerted JobContext
	hooks := AlertingHooks(func(ctx JobContext, err error) { alerted = ctx })

	require.NoError(t, runJob(t, hooks, func(context.Context) error { return nil }))
	assert.Empty(t, alerted.MessageUUID)

	_ = runJob(t, hooks, func(context.Context) error { return errors.New("x") })
	assert.Equal(t, "test-uuid", alerted.MessageUUID)
}

func TestJobHooksInterceptorRegistration(t *testing.T) {
	reg := JobHooksInterceptor(JobHooks{})
	assert.Equal(t, "job_hooks", reg.Name)
	assert.NotNil(t, reg.Interceptor)
}
