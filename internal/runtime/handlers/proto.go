package handlers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
)

// ProtoMessageContext provides strongly typed access to the incoming message payload.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageHandler processes a decoded protobuf payload.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, event ProtoMessageContext[T]) error

var protoJSON = protojson.UnmarshalOptions{DiscardUnknown: true}

// BuildProtoHandler decodes each payload into a fresh copy of prototype before
// calling handler. Payloads are protojson unless the message metadata declares
// the protobuf wire format.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], logger loggingpkg.ServiceLogger) (PerformFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	prototype, err := EnsureProtoPrototype(prototype)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	schema := string(prototype.ProtoReflect().Descriptor().FullName())

	return func(ctx context.Context, msg *message.Message) error {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return err
		}

		base := newContextBase(msg, logger)
		if err := unmarshalProto(base.Metadata, msg.Payload, typed); err != nil {
			return &UnprocessableMessageError{UUID: msg.UUID, Schema: schema, Err: err}
		}

		return handler(ctx, ProtoMessageContext[T]{
			MessageContextBase: base,
			Payload:            typed,
		})
	}, nil
}

func unmarshalProto(md metadatapkg.Metadata, payload []byte, into proto.Message) error {
	if md.ContentType() == metadatapkg.ContentTypeProtobuf {
		return proto.Unmarshal(payload, into)
	}
	return protoJSON.Unmarshal(payload, into)
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a new zero message of its type
// when candidate is a typed nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrMessageTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrMessagePointerNeeded
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
