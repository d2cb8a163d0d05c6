package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// JobContext provides information about a job execution to hooks.
type JobContext struct {
	// Listener is the name of the subscriber processing the job.
	Listener string
	// Queue is the queue the subscriber belongs to.
	Queue string
	// Subscription is the broker subscription the message came from.
	Subscription string
	// MessageUUID is the unique identifier of the message.
	MessageUUID string
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context the handler runs with.
	Context context.Context
	// StartedAt is when the job started processing.
	StartedAt time.Time
	// Duration is how long the job took (only set in OnJobDone and OnJobError).
	Duration time.Duration
}

// JobHooks defines callbacks for job lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called before the rest of the chain runs.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when the handler returned successfully.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when the handler or an inner interceptor failed.
	// Shutdown cancellations are not reported.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainJobHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainJobHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainJobHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksInterceptor runs hooks around every message.
func JobHooksInterceptor(hooks JobHooks) InterceptorRegistration {
	return InterceptorRegistration{
		Name:        "job_hooks",
		Interceptor: jobHooksInterceptor(hooks),
	}
}

func jobHooksInterceptor(hooks JobHooks) Interceptor {
	return InterceptorFunc(func(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error {
		job := JobContext{
			Listener:     desc.Name(),
			Queue:        desc.Queue(),
			Subscription: desc.Subscription(),
			MessageUUID:  msg.UUID,
			Metadata:     msg.Metadata,
			Context:      ctx,
			StartedAt:    time.Now(),
		}
		if hooks.OnJobStart != nil {
			hooks.OnJobStart(job)
		}

		err := next(ctx)
		job.Duration = time.Since(job.StartedAt)

		switch {
		case err == nil:
			if hooks.OnJobDone != nil {
				hooks.OnJobDone(job)
			}
		case !isShutdown(err):
			if hooks.OnJobError != nil {
				hooks.OnJobError(job, err)
			}
		}
		return err
	})
}

// LoggingHooks returns pre-built hooks that log job lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", loggingpkg.LogFields{
				"listener":     ctx.Listener,
				"subscription": ctx.Subscription,
				"message_uuid": ctx.MessageUUID,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Debug("Job completed", loggingpkg.LogFields{
				"listener":     ctx.Listener,
				"subscription": ctx.Subscription,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, loggingpkg.LogFields{
				"listener":     ctx.Listener,
				"subscription": ctx.Subscription,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that forward job events to counters.
func MetricsHooks(onStart, onDone, onError func(listener, subscription string)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.Listener, ctx.Subscription)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.Listener, ctx.Subscription)
			}
		},
		OnJobError: func(ctx JobContext, err error) {
			if onError != nil {
				onError(ctx.Listener, ctx.Subscription)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on job errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
