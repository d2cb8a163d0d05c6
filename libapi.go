package subserver

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	clipkg "github.com/drblury/subserver/internal/cli"
	runtimepkg "github.com/drblury/subserver/internal/runtime"
	configpkg "github.com/drblury/subserver/internal/runtime/config"
	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	handlerpkg "github.com/drblury/subserver/internal/runtime/handlers"
	idspkg "github.com/drblury/subserver/internal/runtime/ids"
	jsoncodec "github.com/drblury/subserver/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	metadatapkg "github.com/drblury/subserver/internal/runtime/metadata"
	transportpkg "github.com/drblury/subserver/internal/runtime/transport"
	"github.com/drblury/subserver/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Identity             = runtimepkg.Identity
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Handler                = runtimepkg.Handler
	HandlerFunc            = runtimepkg.HandlerFunc
	HandlerFactory         = runtimepkg.HandlerFactory
	Concurrency            = runtimepkg.Concurrency
	SubscriberRegistration = runtimepkg.SubscriberRegistration
	Descriptor             = runtimepkg.Descriptor
	Registry               = runtimepkg.Registry

	JSONSubscriberRegistration[T any]            = runtimepkg.JSONSubscriberRegistration[T]
	ProtoSubscriberRegistration[T proto.Message] = runtimepkg.ProtoSubscriberRegistration[T]
	JSONMessageContext[T any]                    = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any]                    = handlerpkg.JSONMessageHandler[T]
	ProtoMessageContext[T proto.Message]         = handlerpkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message]         = handlerpkg.ProtoMessageHandler[T]
	MessageContextBase                           = handlerpkg.MessageContextBase
	UnprocessableMessageError                    = handlerpkg.UnprocessableMessageError

	Interceptor             = runtimepkg.Interceptor
	InterceptorFunc         = runtimepkg.InterceptorFunc
	InterceptorBuilder      = runtimepkg.InterceptorBuilder
	InterceptorFactory      = runtimepkg.InterceptorFactory
	InterceptorRegistration = runtimepkg.InterceptorRegistration
	Next                    = runtimepkg.Next
	Chain                   = runtimepkg.Chain

	Event           = runtimepkg.Event
	LifecycleHook   = runtimepkg.LifecycleHook
	LifecycleEvents = runtimepkg.LifecycleEvents

	ErrorHandler     = runtimepkg.ErrorHandler
	ErrorHandlerFunc = runtimepkg.ErrorHandlerFunc

	Launcher       = runtimepkg.Launcher
	Manager        = runtimepkg.Manager
	Listener       = runtimepkg.Listener
	ListenerState  = runtimepkg.ListenerState
	RestartPolicy  = runtimepkg.RestartPolicy
	Status         = runtimepkg.Status
	ListenerStatus = runtimepkg.ListenerStatus
	HealthServer   = runtimepkg.HealthServer

	Stats         = runtimepkg.Stats
	StatsSnapshot = runtimepkg.StatsSnapshot
	WorkerState   = runtimepkg.WorkerState

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	Message  = message.Message
	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError

	CLIOptions = clipkg.Options

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

// Lifecycle events.
const (
	EventStartup         = runtimepkg.EventStartup
	EventListenerStartup = runtimepkg.EventListenerStartup
	EventQuiet           = runtimepkg.EventQuiet
	EventShutdown        = runtimepkg.EventShutdown
	EventHeartbeat       = runtimepkg.EventHeartbeat
)

// Listener states.
const (
	ListenerCreated  = runtimepkg.ListenerCreated
	ListenerRunning  = runtimepkg.ListenerRunning
	ListenerStopping = runtimepkg.ListenerStopping
	ListenerStopped  = runtimepkg.ListenerStopped
	ListenerDied     = runtimepkg.ListenerDied
)

// Metadata keys and content types understood by the typed handlers.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema

	ContentTypeJSON     = metadatapkg.ContentTypeJSON
	ContentTypeProtobuf = metadatapkg.ContentTypeProtobuf
)

// HealthResponse is the body served on /health.
const HealthResponse = runtimepkg.HealthResponse

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig
	NewIdentity    = runtimepkg.NewIdentity
	NewRegistry    = runtimepkg.NewRegistry
	NewChain       = runtimepkg.NewChain
	Static         = runtimepkg.Static

	StaticTransport = transportpkg.Static

	// RunCLI runs the subserver command line with the caller's subscribers.
	RunCLI = clipkg.Run

	DefaultInterceptors      = runtimepkg.DefaultInterceptors
	CorrelationIDInterceptor = runtimepkg.CorrelationIDInterceptor
	MessageLoggerInterceptor = runtimepkg.MessageLoggerInterceptor
	TracerInterceptor        = runtimepkg.TracerInterceptor
	MetricsInterceptor       = runtimepkg.MetricsInterceptor
	CorrelationID            = runtimepkg.CorrelationID

	// Job lifecycle hooks
	JobHooksInterceptor = runtimepkg.JobHooksInterceptor
	LoggingHooks        = runtimepkg.LoggingHooks
	MetricsHooks        = runtimepkg.MetricsHooks
	AlertingHooks       = runtimepkg.AlertingHooks

	LoggingErrorHandler = runtimepkg.LoggingErrorHandler

	NewMessageFromProto = runtimepkg.NewMessageFromProto
	NewMessageFromJSON  = runtimepkg.NewMessageFromJSON
	Publish             = runtimepkg.Publish

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired         = errspkg.ErrServiceRequired
	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrHandlerRequired         = errspkg.ErrHandlerRequired
	ErrSubscriberNameRequired  = errspkg.ErrSubscriberNameRequired
	ErrSubscriptionRequired    = errspkg.ErrSubscriptionRequired
	ErrDuplicateSubscriber     = errspkg.ErrDuplicateSubscriber
	ErrInterceptorNameRequired = errspkg.ErrInterceptorNameRequired
	ErrUnknownLifecycleEvent   = errspkg.ErrUnknownLifecycleEvent
	ErrMessagePointerNeeded    = errspkg.ErrMessagePointerNeeded
	ErrSubscriptionNotFound    = errspkg.ErrSubscriptionNotFound
	ErrPublisherRequired       = errspkg.ErrPublisherRequired
	ErrTopicRequired           = errspkg.ErrTopicRequired
	ErrEventPayloadRequired    = errspkg.ErrEventPayloadRequired
	ErrShutdown                = errspkg.ErrShutdown
	ErrUnresolvable            = transport.ErrUnresolvable

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	DiscardLogger        = loggingpkg.Discard

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// RegisterJSONSubscriber registers a subscriber whose payload is decoded as
// JSON into T before the handler runs.
func RegisterJSONSubscriber[T any](svc *Service, reg JSONSubscriberRegistration[T]) (*Descriptor, error) {
	return runtimepkg.RegisterJSONSubscriber(svc, reg)
}

// RegisterProtoSubscriber registers a subscriber whose payload is decoded
// into the protobuf message T.
func RegisterProtoSubscriber[T proto.Message](svc *Service, reg ProtoSubscriberRegistration[T]) (*Descriptor, error) {
	return runtimepkg.RegisterProtoSubscriber(svc, reg)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
