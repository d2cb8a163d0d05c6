package subservertest

import (
	"context"
	"sync"

	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// ReportedError is one call received by an ErrorRecorder.
type ReportedError struct {
	Err    error
	Fields loggingpkg.LogFields
}

// Context returns the "context" field describing where the error happened.
func (r ReportedError) Context() string {
	c, _ := r.Fields["context"].(string)
	return c
}

// ErrorRecorder is an error handler that keeps everything it receives.
type ErrorRecorder struct {
	mu       sync.Mutex
	reported []ReportedError
}

// HandleError records err.
func (r *ErrorRecorder) HandleError(_ context.Context, err error, fields loggingpkg.LogFields) {
	copied := make(loggingpkg.LogFields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ReportedError{Err: err, Fields: copied})
}

// Reported returns every recorded error in order.
func (r *ErrorRecorder) Reported() []ReportedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReportedError, len(r.reported))
	copy(out, r.reported)
	return out
}

// Len returns the number of recorded errors.
func (r *ErrorRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reported)
}
