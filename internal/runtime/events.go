package runtime

import (
	"context"
	"fmt"
	"slices"
	"sync"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// Event names a point in the process lifecycle.
type Event string

const (
	EventStartup         Event = "startup"
	EventListenerStartup Event = "listener_startup"
	EventQuiet           Event = "quiet"
	EventShutdown        Event = "shutdown"
	// EventHeartbeat accepts hooks but is never fired by the runtime itself.
	EventHeartbeat Event = "heartbeat"
)

var knownEvents = []Event{EventStartup, EventListenerStartup, EventQuiet, EventShutdown, EventHeartbeat}

// Valid reports whether e is one of the lifecycle events.
func (e Event) Valid() bool {
	for _, k := range knownEvents {
		if e == k {
			return true
		}
	}
	return false
}

// LifecycleHook runs when its event fires.
type LifecycleHook func(ctx context.Context) error

// FireOptions controls a single Fire call.
type FireOptions struct {
	// Reverse runs hooks in reverse registration order.
	Reverse bool
	// Reraise returns the first hook error and skips the remaining hooks. The
	// failed hook and the skipped ones stay registered for the next Fire.
	// Without it errors are reported and the next hook runs.
	Reraise bool
}

// LifecycleEvents maps events to their registered hooks. Each list is drained
// when fired, so a hook runs at most once.
type LifecycleEvents struct {
	mu     sync.Mutex
	hooks  map[Event][]LifecycleHook
	errors *ErrorHandlers
	logger loggingpkg.ServiceLogger
}

// NewLifecycleEvents returns an empty registry reporting hook failures to
// handlers.
func NewLifecycleEvents(handlers *ErrorHandlers, logger loggingpkg.ServiceLogger) *LifecycleEvents {
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &LifecycleEvents{
		hooks:  make(map[Event][]LifecycleHook),
		errors: handlers,
		logger: logger,
	}
}

// On registers hook under event.
func (l *LifecycleEvents) On(event Event, hook LifecycleHook) error {
	if !event.Valid() {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownLifecycleEvent, event)
	}
	if hook == nil {
		return errspkg.ErrLifecycleHookRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[event] = append(l.hooks[event], hook)
	return nil
}

// Count returns the number of hooks waiting on event.
func (l *LifecycleEvents) Count(event Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hooks[event])
}

// Fire runs and clears the hooks registered for event.
func (l *LifecycleEvents) Fire(ctx context.Context, event Event, opts FireOptions) error {
	l.mu.Lock()
	hooks := l.hooks[event]
	delete(l.hooks, event)
	l.mu.Unlock()

	if len(hooks) == 0 {
		return nil
	}
	l.logger.Debug("Firing lifecycle event", loggingpkg.LogFields{"event": string(event), "hooks": len(hooks)})

	for i := range hooks {
		hook := hooks[i]
		if opts.Reverse {
			hook = hooks[len(hooks)-1-i]
		}
		err := runHook(ctx, hook)
		if err == nil {
			continue
		}
		l.errors.Handle(ctx, err, loggingpkg.LogFields{"context": fmt.Sprintf("Exception during %s event.", event), "event": string(event)})
		if opts.Reraise {
			pending := hooks[i:]
			if opts.Reverse {
				pending = hooks[:len(hooks)-i]
			}
			l.restore(event, pending)
			return fmt.Errorf("%s hook: %w", event, err)
		}
	}
	return nil
}

// restore puts hooks back ahead of any registered since the event fired.
func (l *LifecycleEvents) restore(event Event, hooks []LifecycleHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[event] = append(slices.Clone(hooks), l.hooks[event]...)
}

func runHook(ctx context.Context, hook LifecycleHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx)
}
