package runtime

import (
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	handlerpkg "github.com/drblury/subserver/internal/runtime/handlers"
)

// JSONSubscriberRegistration declares a subscriber whose payloads are decoded
// from JSON into T before the handler runs. T must be a pointer type.
type JSONSubscriberRegistration[T any] struct {
	Name          string
	Queue         string
	Subscription  string
	Concurrency   Concurrency
	AutoSubscribe func() bool
	Handler       handlerpkg.JSONMessageHandler[T]
}

// RegisterJSONSubscriber wraps the typed handler and registers it on svc.
func RegisterJSONSubscriber[T any](svc *Service, reg JSONSubscriberRegistration[T]) (*Descriptor, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	perform, err := handlerpkg.BuildJSONHandler(reg.Handler, svc.Logger)
	if err != nil {
		return nil, err
	}
	return svc.Register(SubscriberRegistration{
		Name:          reg.Name,
		Queue:         reg.Queue,
		Subscription:  reg.Subscription,
		Concurrency:   reg.Concurrency,
		AutoSubscribe: reg.AutoSubscribe,
		Handler:       performFactory(perform),
	})
}

// ProtoSubscriberRegistration declares a subscriber whose payloads are decoded
// into the protobuf message T.
type ProtoSubscriberRegistration[T proto.Message] struct {
	Name          string
	Queue         string
	Subscription  string
	Concurrency   Concurrency
	AutoSubscribe func() bool
	Handler       handlerpkg.ProtoMessageHandler[T]
}

// RegisterProtoSubscriber wraps the typed handler and registers it on svc.
func RegisterProtoSubscriber[T proto.Message](svc *Service, reg ProtoSubscriberRegistration[T]) (*Descriptor, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	prototype, err := NewProtoMessage[T]()
	if err != nil {
		return nil, err
	}
	perform, err := handlerpkg.BuildProtoHandler(prototype, reg.Handler, svc.Logger)
	if err != nil {
		return nil, err
	}
	return svc.Register(SubscriberRegistration{
		Name:          reg.Name,
		Queue:         reg.Queue,
		Subscription:  reg.Subscription,
		Concurrency:   reg.Concurrency,
		AutoSubscribe: reg.AutoSubscribe,
		Handler:       performFactory(perform),
	})
}

// performFactory shares one stateless typed handler across messages.
func performFactory(perform handlerpkg.PerformFunc) HandlerFactory {
	h := HandlerFunc(perform)
	return func() Handler { return h }
}

// NewProtoMessage instantiates a zero-value protobuf message for the provided generic type.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerpkg.EnsureProtoPrototype(zero)
}

// MustProtoMessage instantiates the protobuf message and panics if the type cannot be created.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
