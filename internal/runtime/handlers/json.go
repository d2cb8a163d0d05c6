package handlers

import (
	"context"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	jsoncodec "github.com/drblury/subserver/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// JSONMessageContext exposes the decoded payload and metadata for JSON handlers.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageHandler processes a decoded JSON payload.
type JSONMessageHandler[T any] func(ctx context.Context, event JSONMessageContext[T]) error

// BuildJSONHandler decodes each payload into a fresh T before calling handler.
// T must be a pointer type.
func BuildJSONHandler[T any](handler JSONMessageHandler[T], logger loggingpkg.ServiceLogger) (PerformFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}

	newPayload, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, msg *message.Message) error {
		typed := newPayload()
		if err := jsoncodec.Unmarshal(msg.Payload, typed); err != nil {
			return &UnprocessableMessageError{UUID: msg.UUID, Schema: reflect.TypeOf(typed).String(), Err: err}
		}
		return handler(ctx, JSONMessageContext[T]{
			MessageContextBase: newContextBase(msg, logger),
			Payload:            typed,
		})
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}
