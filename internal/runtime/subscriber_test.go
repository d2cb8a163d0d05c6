package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/subserver/internal/runtime/config"
	errspkg "github.com/drblury/subserver/internal/runtime/errors"
)

func nopHandler() Handler {
	return HandlerFunc(func(context.Context, *message.Message) error { return nil })
}

func TestRegistryAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	d, err := r.Register(SubscriberRegistration{
		Name:         " orders ",
		Subscription: "orders-sub",
		Handler:      nopHandler,
	})
	require.NoError(t, err)

	assert.Equal(t, "orders", d.Name())
	assert.Equal(t, configpkg.DefaultQueue, d.Queue())
	assert.Equal(t, Concurrency{
		Streams:         DefaultStreams,
		CallbackThreads: DefaultCallbackThreads,
		PushThreads:     DefaultPushThreads,
		Inventory:       DefaultInventory,
		Deadline:        DefaultDeadline,
	}, d.Concurrency())
	assert.False(t, d.OptsIntoAutoSubscribe())
	assert.True(t, d.ShouldAutoSubscribe())
}

func TestRegistryKeepsExplicitConcurrency(t *testing.T) {
	r := NewRegistry()
	d, err := r.Register(SubscriberRegistration{
		Name:         "orders",
		Queue:        "critical",
		Subscription: "orders-sub",
		Concurrency:  Concurrency{Streams: 1, CallbackThreads: 8, Deadline: time.Second},
		Handler:      nopHandler,
	})
	require.NoError(t, err)

	c := d.Concurrency()
	assert.Equal(t, "critical", d.Queue())
	assert.Equal(t, 1, c.Streams)
	assert.Equal(t, 8, c.CallbackThreads)
	assert.Equal(t, DefaultPushThreads, c.PushThreads)
	assert.Equal(t, time.Second, c.Deadline)
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(SubscriberRegistration{Subscription: "s", Handler: nopHandler})
	assert.ErrorIs(t, err, errspkg.ErrSubscriberNameRequired)

	_, err = r.Register(SubscriberRegistration{Name: "a", Handler: nopHandler})
	assert.ErrorIs(t, err, errspkg.ErrSubscriptionRequired)

	_, err = r.Register(SubscriberRegistration{Name: "a", Subscription: "s"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = r.Register(SubscriberRegistration{Name: "a", Subscription: "s", Handler: nopHandler})
	require.NoError(t, err)
	_, err = r.Register(SubscriberRegistration{Name: "a", Subscription: "other", Handler: nopHandler})
	assert.ErrorIs(t, err, errspkg.ErrDuplicateSubscriber)
}

func TestRegistryQueries(t *testing.T) {
	r := NewRegistry()
	for _, reg := range []SubscriberRegistration{
		{Name: "b", Queue: "low", Subscription: "b-sub", Handler: nopHandler},
		{Name: "a", Queue: "high", Subscription: "a-sub", Handler: nopHandler},
		{Name: "c", Subscription: "c-sub", Handler: nopHandler},
	} {
		_, err := r.Register(reg)
		require.NoError(t, err)
	}

	d, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a-sub", d.Subscription())
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	var names []string
	for _, d := range r.Descriptors() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)

	names = nil
	for _, d := range r.ForQueues([]string{"high", "default"}) {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"a", "c"}, names)
	assert.Empty(t, r.ForQueues(nil))
}

func TestDescriptorAutoSubscribe(t *testing.T) {
	r := NewRegistry()
	d, err := r.Register(SubscriberRegistration{
		Name:          "opt-in",
		Subscription:  "s",
		Handler:       nopHandler,
		AutoSubscribe: func() bool { return false },
	})
	require.NoError(t, err)
	assert.True(t, d.OptsIntoAutoSubscribe())
	assert.False(t, d.ShouldAutoSubscribe())
}

func TestDescriptorNewHandlerIsFresh(t *testing.T) {
	built := 0
	r := NewRegistry()
	d, err := r.Register(SubscriberRegistration{
		Name:         "fresh",
		Subscription: "s",
		Handler: func() Handler {
			built++
			return nopHandler()
		},
	})
	require.NoError(t, err)

	d.NewHandler()
	d.NewHandler()
	assert.Equal(t, 2, built)
}
