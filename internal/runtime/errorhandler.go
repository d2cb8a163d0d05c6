package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// ErrorHandler receives errors raised by handlers, hooks and the runtime
// together with a description of where they happened.
type ErrorHandler interface {
	HandleError(ctx context.Context, err error, fields loggingpkg.LogFields)
}

// ErrorHandlerFunc adapts a function into an ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, err error, fields loggingpkg.LogFields)

// HandleError implements ErrorHandler.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, err error, fields loggingpkg.LogFields) {
	f(ctx, err, fields)
}

// LoggingErrorHandler logs every error it receives.
func LoggingErrorHandler(logger loggingpkg.ServiceLogger) ErrorHandler {
	return ErrorHandlerFunc(func(_ context.Context, err error, fields loggingpkg.LogFields) {
		msg := "Error"
		if c, ok := fields["context"].(string); ok && c != "" {
			msg = c
		}
		logger.Error(msg, err, fields)
	})
}

// ErrorHandlers is the ordered list of handlers notified about errors. A
// handler that panics is logged and skipped.
type ErrorHandlers struct {
	mu       sync.RWMutex
	handlers []ErrorHandler
	logger   loggingpkg.ServiceLogger
}

// NewErrorHandlers returns a list seeded with handlers.
func NewErrorHandlers(logger loggingpkg.ServiceLogger, handlers ...ErrorHandler) *ErrorHandlers {
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	e := &ErrorHandlers{logger: logger}
	for _, h := range handlers {
		if h != nil {
			e.handlers = append(e.handlers, h)
		}
	}
	return e
}

// Add appends a handler.
func (e *ErrorHandlers) Add(h ErrorHandler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Len returns the number of handlers.
func (e *ErrorHandlers) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Handle calls every handler synchronously. Shutdown cancellations are not
// application errors and are never reported.
func (e *ErrorHandlers) Handle(ctx context.Context, err error, fields loggingpkg.LogFields) {
	if e == nil || err == nil || errors.Is(err, errspkg.ErrShutdown) {
		return
	}
	e.mu.RLock()
	handlers := make([]ErrorHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		e.call(ctx, h, err, fields)
	}
}

func (e *ErrorHandlers) call(ctx context.Context, h ErrorHandler, err error, fields loggingpkg.LogFields) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("!!! ERROR HANDLER THREW AN ERROR !!!", fmt.Errorf("%v", r), loggingpkg.LogFields{
				"handler": fmt.Sprintf("%T", h),
			})
		}
	}()
	h.HandleError(ctx, err, fields)
}
