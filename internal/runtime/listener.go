package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	"github.com/drblury/subserver/transport"
)

// ListenerState is a position in the listener lifecycle.
type ListenerState int32

const (
	ListenerCreated ListenerState = iota
	ListenerRunning
	ListenerStopping
	ListenerStopped
	ListenerDied
)

func (s ListenerState) String() string {
	switch s {
	case ListenerCreated:
		return "created"
	case ListenerRunning:
		return "running"
	case ListenerStopping:
		return "stopping"
	case ListenerStopped:
		return "stopped"
	case ListenerDied:
		return "died"
	default:
		return fmt.Sprintf("ListenerState(%d)", int32(s))
	}
}

// processingErrorContext is attached to errors reported from message handling.
const processingErrorContext = "exception during message processing"

// supervisor is told when a listener leaves the running state.
type supervisor interface {
	listenerStopped(l *Listener)
	listenerDied(l *Listener, d *Descriptor, reason error)
}

// fleetDeps are the collaborators shared by every listener of a manager.
type fleetDeps struct {
	Chain     *Chain
	Events    *LifecycleEvents
	Errors    *ErrorHandlers
	Transport transport.Transport
	Stats     *Stats
	Logger    loggingpkg.ServiceLogger
}

// Listener owns the consumption lifecycle of one subscription.
type Listener struct {
	deps       fleetDeps
	supervisor supervisor
	desc       *Descriptor
	logger     loggingpkg.ServiceLogger

	valid      bool
	resolveErr error

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	state   ListenerState
	started bool
	conn    *connection

	done     atomic.Bool
	exited   chan struct{}
	stopOnce sync.Once
	dieOnce  sync.Once
}

func newListener(parent context.Context, sup supervisor, desc *Descriptor, deps fleetDeps) *Listener {
	ctx, cancel := context.WithCancelCause(parent)
	return &Listener{
		deps:       deps,
		supervisor: sup,
		desc:       desc,
		logger: deps.Logger.With(loggingpkg.LogFields{
			"listener":     desc.Name(),
			"subscription": desc.Subscription(),
		}),
		valid:  true,
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
}

// resolve checks the subscription with the broker and records the outcome.
func (l *Listener) resolve(ctx context.Context) bool {
	if err := l.deps.Transport.Resolve(ctx, l.desc.Subscription()); err != nil {
		l.valid = false
		l.resolveErr = err
	}
	return l.valid
}

// Descriptor returns the subscriber the listener consumes for.
func (l *Listener) Descriptor() *Descriptor { return l.desc }

// Valid reports whether the subscription resolved.
func (l *Listener) Valid() bool { return l.valid }

// ResolveError returns why the subscription failed to resolve.
func (l *Listener) ResolveError() error { return l.resolveErr }

// State returns the current lifecycle state.
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed when the worker goroutine has returned.
func (l *Listener) Done() <-chan struct{} { return l.exited }

func (l *Listener) String() string {
	return fmt.Sprintf("<Listener %s subscription=%s>", l.desc.Name(), l.desc.Subscription())
}

// Start spawns the worker goroutine. Later calls do nothing.
func (l *Listener) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.state = ListenerRunning
	l.mu.Unlock()

	go l.run()
}

func (l *Listener) run() {
	defer close(l.exited)

	if err := l.deps.Events.Fire(l.ctx, EventListenerStartup, FireOptions{Reraise: true}); err != nil {
		l.die(err)
		return
	}

	streams := l.deps.Transport.Capabilities.Streams(l.desc.Concurrency().Streams)
	conn, err := openConnection(l.ctx, l.deps.Transport.Subscriber, connectionOptions{
		Subscription: l.desc.Subscription(),
		Streams:      streams,
		Concurrency:  l.desc.Concurrency(),
	}, l.processMessage, l.logger)
	if err != nil {
		l.deps.Errors.Handle(l.ctx, err, loggingpkg.LogFields{"context": "listener failed to connect", "listener": l.desc.Name()})
		l.die(err)
		return
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	if l.done.Load() {
		conn.Stop()
		return
	}

	l.logger.Info("Listening", loggingpkg.LogFields{"streams": streams, "queue": l.desc.Queue()})
	<-conn.Stopped()
}

// processMessage runs msg through the chain and the subscriber's handler. A
// nil result acknowledges the message.
func (l *Listener) processMessage(msg *message.Message) error {
	if l.ctx.Err() != nil {
		return shutdownError(l.ctx)
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.desc.Concurrency().Deadline)
	defer cancel()
	msg.SetContext(ctx)

	finish := l.deps.Stats.begin(l.desc, msg)
	err := l.invoke(ctx, msg)
	if l.ctx.Err() != nil {
		err = shutdownError(l.ctx)
	}
	finish(err)
	if err == nil || isShutdown(err) {
		return err
	}

	l.deps.Errors.Handle(ctx, err, loggingpkg.LogFields{
		"context":      processingErrorContext,
		"listener":     l.desc.Name(),
		"subscription": l.desc.Subscription(),
		"message_uuid": msg.UUID,
	})
	go l.die(err)
	return err
}

func (l *Listener) invoke(ctx context.Context, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return l.deps.Chain.Invoke(ctx, l.desc, msg, func(ctx context.Context) error {
		return l.desc.NewHandler().Perform(ctx, msg)
	})
}

// Stop stops accepting deliveries, waits for in-flight messages and reports
// the listener as stopped. It blocks as long as the handlers take.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.done.Store(true)
		l.transition(ListenerStopping)

		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn != nil {
			conn.Stop()
		}

		l.transition(ListenerStopped)
		l.cancel(errspkg.ErrShutdown)
		l.supervisor.listenerStopped(l)
	})
}

// Kill stops accepting deliveries and cancels in-flight handlers without
// waiting for them. Unacknowledged messages are left to the broker.
func (l *Listener) Kill() {
	l.done.Store(true)
	l.transition(ListenerStopped)

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		conn.StopNow()
	}
	l.cancel(errspkg.ErrShutdown)
}

func (l *Listener) die(reason error) {
	l.dieOnce.Do(func() {
		if l.done.Load() {
			return
		}
		l.mu.Lock()
		l.state = ListenerDied
		conn := l.conn
		l.mu.Unlock()
		if conn != nil {
			// drain so the failed message's nack reaches the broker
			go conn.Stop()
		}
		l.supervisor.listenerDied(l, l.desc, reason)
	})
}

// transition moves forward to next. A died listener keeps its state.
func (l *Listener) transition(next ListenerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == ListenerDied || l.state >= next {
		return
	}
	l.state = next
}

func shutdownError(ctx context.Context) error {
	if cause := context.Cause(ctx); isShutdown(cause) {
		return cause
	}
	return fmt.Errorf("%w: %v", errspkg.ErrShutdown, context.Cause(ctx))
}
