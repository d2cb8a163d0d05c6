package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	handlerpkg "github.com/drblury/subserver/internal/runtime/handlers"
	"github.com/drblury/subserver/subservertest"
)

func TestRegisterJSONSubscriberDecodesPayload(t *testing.T) {
	env := newTestEnv(t, nil, "orders")
	defer env.Close()

	received := make(chan orderPlaced, 1)
	d, err := RegisterJSONSubscriber(env.svc, JSONSubscriberRegistration[*orderPlaced]{
		Name:         "orders",
		Subscription: "orders",
		Concurrency:  Concurrency{CallbackThreads: 1},
		Handler: func(_ context.Context, evt handlerpkg.JSONMessageContext[*orderPlaced]) error {
			received <- *evt.Payload
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Concurrency().CallbackThreads)

	launcher := env.svc.Launcher()
	require.NoError(t, launcher.Run(context.Background()))
	defer launcher.Stop(context.Background(), time.Second)

	env.publish(t, "orders", `{"id":"o-7","total":12}`)
	select {
	case got := <-received:
		assert.Equal(t, orderPlaced{ID: "o-7", Total: 12}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("typed handler was not called")
	}
	env.waitFor(t, func(b *subservertest.Broker) bool {
		return b.Count("orders", subservertest.Acked) == 1
	})
}

func TestRegisterJSONSubscriberReportsUndecodablePayload(t *testing.T) {
	env := newTestEnv(t, nil, "orders")
	defer env.Close()

	_, err := RegisterJSONSubscriber(env.svc, JSONSubscriberRegistration[*orderPlaced]{
		Name:         "orders",
		Subscription: "orders",
		Handler: func(context.Context, handlerpkg.JSONMessageContext[*orderPlaced]) error {
			return nil
		},
	})
	require.NoError(t, err)

	launcher := env.svc.Launcher()
	require.NoError(t, launcher.Run(context.Background()))
	defer launcher.Stop(context.Background(), time.Second)

	env.publish(t, "orders", "not json")
	require.Eventually(t, func() bool { return env.errors.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	var unprocessable *handlerpkg.UnprocessableMessageError
	assert.True(t, errors.As(env.errors.Reported()[0].Err, &unprocessable))
}

func TestRegisterProtoSubscriber(t *testing.T) {
	env := newTestEnv(t, nil, "audit")
	defer env.Close()

	received := make(chan string, 1)
	_, err := RegisterProtoSubscriber(env.svc, ProtoSubscriberRegistration[*structpb.Struct]{
		Name:         "audit",
		Subscription: "audit",
		Handler: func(_ context.Context, evt handlerpkg.ProtoMessageContext[*structpb.Struct]) error {
			received <- evt.Payload.GetFields()["actor"].GetStringValue()
			return nil
		},
	})
	require.NoError(t, err)

	launcher := env.svc.Launcher()
	require.NoError(t, launcher.Run(context.Background()))
	defer launcher.Stop(context.Background(), time.Second)

	env.publish(t, "audit", `{"actor":"ops"}`)
	select {
	case got := <-received:
		assert.Equal(t, "ops", got)
	case <-time.After(2 * time.Second):
		t.Fatal("proto handler was not called")
	}
}

func TestTypedRegistrationValidation(t *testing.T) {
	_, err := RegisterJSONSubscriber[*orderPlaced](nil, JSONSubscriberRegistration[*orderPlaced]{})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
	_, err = RegisterProtoSubscriber[*structpb.Struct](nil, ProtoSubscriberRegistration[*structpb.Struct]{})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)

	env := newTestEnv(t, nil)
	defer env.Close()
	_, err = RegisterJSONSubscriber(env.svc, JSONSubscriberRegistration[*orderPlaced]{Name: "a", Subscription: "a"})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = RegisterJSONSubscriber(env.svc, JSONSubscriberRegistration[orderPlaced]{
		Name:         "b",
		Subscription: "b",
		Handler:      func(context.Context, handlerpkg.JSONMessageContext[orderPlaced]) error { return nil },
	})
	assert.ErrorIs(t, err, errspkg.ErrMessagePointerNeeded)
}

func TestMustProtoMessage(t *testing.T) {
	msg := MustProtoMessage[*structpb.Struct]()
	assert.NotNil(t, msg)
}
