package errors

import sterrors "errors"

var (
	ErrServiceRequired         = sterrors.New("subserver: service is required")
	ErrConfigRequired          = sterrors.New("subserver: configuration is required")
	ErrLoggerRequired          = sterrors.New("subserver: logger is required")
	ErrHandlerRequired         = sterrors.New("subserver: handler factory is required")
	ErrSubscriberNameRequired  = sterrors.New("subserver: subscriber name is required")
	ErrSubscriptionRequired    = sterrors.New("subserver: subscription name is required")
	ErrDuplicateSubscriber     = sterrors.New("subserver: subscriber already registered")
	ErrInterceptorNameRequired = sterrors.New("subserver: interceptor name is required")
	ErrInterceptorBuilderNil   = sterrors.New("subserver: interceptor builder is required")
	ErrUnknownLifecycleEvent   = sterrors.New("subserver: unknown lifecycle event")
	ErrLifecycleHookRequired   = sterrors.New("subserver: lifecycle hook is required")
	ErrMessageTypeRequired     = sterrors.New("subserver: message type is required")
	ErrMessagePointerNeeded    = sterrors.New("subserver: message type must be a pointer")
	ErrSubscriptionNotFound    = sterrors.New("subserver: subscription not found")
	ErrTransportRequired       = sterrors.New("subserver: transport subscriber is required")
	ErrPublisherRequired       = sterrors.New("subserver: transport has no publisher")
	ErrTopicRequired           = sterrors.New("subserver: topic is required")
	ErrEventPayloadRequired    = sterrors.New("subserver: event payload is required")
)

// ErrShutdown is the cooperative cancellation cause used when a listener is
// killed. Handlers must not swallow it: a message that observes it is always
// rejected for redelivery.
var ErrShutdown = sterrors.New("subserver: shutdown")

// ConfigValidationError wraps the joined errors reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "subserver: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
