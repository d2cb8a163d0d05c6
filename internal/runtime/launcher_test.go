package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLauncherRunPropagatesStartupHookError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env := newTestEnv(t, nil, "orders")
	defer env.Close()
	env.register(t, "orders", "orders", okHandler)

	boom := errors.New("migrations pending")
	require.NoError(t, env.svc.On(EventStartup, func(context.Context) error { return boom }))

	launcher := env.svc.Launcher()
	err := launcher.Run(context.Background())
	require.ErrorIs(t, err, boom)

	// the fleet was never started
	assert.Equal(t, ListenerCreated, launcher.Manager().Listeners()[0].State())
	require.Equal(t, 1, env.errors.Len())
	assert.Equal(t, "Exception during startup event.", env.errors.Reported()[0].Context())
}

func TestLauncherQuietHookErrorIsOnlyReported(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env := newTestEnv(t, nil, "orders")
	defer env.Close()
	env.register(t, "orders", "orders", okHandler)

	boom := errors.New("flush failed")
	var shutdownRan bool
	require.NoError(t, env.svc.On(EventQuiet, func(context.Context) error { return boom }))
	require.NoError(t, env.svc.On(EventShutdown, func(context.Context) error {
		shutdownRan = true
		return nil
	}))

	launcher := env.svc.Launcher()
	require.NoError(t, launcher.Run(context.Background()))
	launcher.Stop(context.Background(), time.Second)

	assert.True(t, shutdownRan)
	assert.Equal(t, 0, launcher.Manager().Len())
	reported := env.errors.Reported()
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0].Err, boom)
	assert.Equal(t, "Exception during quiet event.", reported[0].Context())
}

func TestLauncherStatus(t *testing.T) {
	conf := newTestConfig()
	conf.Tag = "blue"
	conf.Environment = "staging"
	conf.Labels = []string{"eu"}
	env := newTestEnv(t, conf, "orders")
	defer env.Close()
	env.register(t, "orders", "orders", okHandler)
	env.register(t, "ghost", "ghost", okHandler)

	launcher := env.svc.Launcher()
	st := launcher.Status()

	id := env.svc.Identity()
	assert.Equal(t, id.String(), st.Identity)
	assert.Equal(t, id.Hostname, st.Hostname)
	assert.Equal(t, id.PID, st.PID)
	assert.Equal(t, "blue", st.Tag)
	assert.Equal(t, "staging", st.Environment)
	assert.Equal(t, "channel", st.Transport)
	assert.Equal(t, []string{"default"}, st.Queues)
	assert.Equal(t, []string{"eu"}, st.Labels)
	assert.False(t, st.Stopping)
	require.Len(t, st.Listeners, 1)
	assert.Equal(t, ListenerStatus{Name: "orders", Queue: "default", Subscription: "orders", State: "created"}, st.Listeners[0])
	require.Len(t, st.Rejected, 1)
	assert.Equal(t, "ghost", st.Rejected[0].Name)

	launcher.Quiet(context.Background())
	assert.True(t, launcher.Status().Stopping)
}

func TestServiceLauncherIsBuiltOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	defer env.Close()
	assert.Same(t, env.svc.Launcher(), env.svc.Launcher())
}
