package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
)

func TestBuildProtoHandlerDecodesProtoJSON(t *testing.T) {
	var got *structpb.Struct
	perform, err := BuildProtoHandler(&structpb.Struct{}, func(_ context.Context, evt ProtoMessageContext[*structpb.Struct]) error {
		got = evt.Payload
		return nil
	}, loggingpkg.Discard())
	require.NoError(t, err)

	msg := message.NewMessage("1", []byte(`{"order":"A-1"}`))
	require.NoError(t, perform(context.Background(), msg))
	require.NotNil(t, got)
	assert.Equal(t, "A-1", got.GetFields()["order"].GetStringValue())
}

func TestBuildProtoHandlerDecodesWireFormat(t *testing.T) {
	payload, err := proto.Marshal(wrapperspb.String("hello"))
	require.NoError(t, err)

	var got string
	perform, err := BuildProtoHandler(&wrapperspb.StringValue{}, func(_ context.Context, evt ProtoMessageContext[*wrapperspb.StringValue]) error {
		got = evt.Payload.GetValue()
		return nil
	}, nil)
	require.NoError(t, err)

	msg := message.NewMessage("1", payload)
	msg.Metadata.Set(metadatapkg.KeyContentType, metadatapkg.ContentTypeProtobuf)
	require.NoError(t, perform(context.Background(), msg))
	assert.Equal(t, "hello", got)
}

func TestBuildProtoHandlerDoesNotShareInstances(t *testing.T) {
	prototype := wrapperspb.String("prototype")
	var seen []*wrapperspb.StringValue
	perform, err := BuildProtoHandler(prototype, func(_ context.Context, evt ProtoMessageContext[*wrapperspb.StringValue]) error {
		seen = append(seen, evt.Payload)
		return nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, perform(context.Background(), message.NewMessage("1", []byte(`"a"`))))
	require.NoError(t, perform(context.Background(), message.NewMessage("2", []byte(`"b"`))))

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
	assert.Equal(t, "prototype", prototype.GetValue())
}

func TestBuildProtoHandlerUnmarshalError(t *testing.T) {
	perform, err := BuildProtoHandler(&structpb.Struct{}, func(context.Context, ProtoMessageContext[*structpb.Struct]) error {
		t.Fatal("handler must not run")
		return nil
	}, nil)
	require.NoError(t, err)

	err = perform(context.Background(), message.NewMessage("bad", []byte("not json")))
	var unprocessable *UnprocessableMessageError
	require.ErrorAs(t, err, &unprocessable)
	assert.Equal(t, "google.protobuf.Struct", unprocessable.Schema)
}

func TestBuildProtoHandlerHandlerError(t *testing.T) {
	boom := errors.New("boom")
	perform, err := BuildProtoHandler(&structpb.Struct{}, func(context.Context, ProtoMessageContext[*structpb.Struct]) error {
		return boom
	}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, perform(context.Background(), message.NewMessage("1", []byte(`{}`))), boom)
}

func TestBuildProtoHandlerValidations(t *testing.T) {
	_, err := BuildProtoHandler[*structpb.Struct](&structpb.Struct{}, nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	var nilStruct *structpb.Struct
	_, err = BuildProtoHandler(nilStruct, func(context.Context, ProtoMessageContext[*structpb.Struct]) error { return nil }, nil)
	assert.NoError(t, err, "typed nil prototypes are replaced by a zero message")
}

func TestEnsureProtoPrototype(t *testing.T) {
	var nilStruct *structpb.Struct
	got, err := EnsureProtoPrototype(nilStruct)
	require.NoError(t, err)
	assert.NotNil(t, got)

	existing := &structpb.Struct{}
	got, err = EnsureProtoPrototype(existing)
	require.NoError(t, err)
	assert.Same(t, existing, got)

	var iface proto.Message
	_, err = EnsureProtoPrototype(iface)
	assert.ErrorIs(t, err, errspkg.ErrMessageTypeRequired)
}

func TestIsNilProto(t *testing.T) {
	var nilStruct *structpb.Struct
	assert.True(t, isNilProto(nilStruct))
	assert.False(t, isNilProto(&structpb.Struct{}))
}
