package runtime

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	configpkg "github.com/drblury/subserver/internal/runtime/config"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// RestartPolicy decides what happens to a listener whose worker died. The zero
// value keeps the dead listener in the fleet, logged but not replaced, until
// shutdown reaps it.
type RestartPolicy struct {
	MaxRestarts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Enabled reports whether dead listeners are replaced.
func (p RestartPolicy) Enabled() bool {
	return p.MaxRestarts > 0
}

func (p RestartPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	return b
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Queues selects the registered subscribers the fleet serves.
	Queues []string
	// PauseInterval is the polling period of the shutdown loop.
	PauseInterval time.Duration
	// ResolveTimeout bounds each subscription check; zero means no bound.
	ResolveTimeout time.Duration
	Restart        RestartPolicy
}

// Manager owns the listener fleet for the configured queues.
type Manager struct {
	deps   fleetDeps
	ctx    context.Context
	opts   ManagerOptions
	logger loggingpkg.ServiceLogger

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	rejected  []*Listener
	restarts  map[string]int
	backoffs  map[string]*backoff.ExponentialBackOff

	done          atomic.Bool
	quieting      chan struct{}
	hardShutdowns atomic.Int32
}

func newManager(ctx context.Context, registry *Registry, deps fleetDeps, opts ManagerOptions) *Manager {
	if opts.PauseInterval <= 0 {
		opts.PauseInterval = configpkg.DefaultPauseInterval
	}
	m := &Manager{
		deps:      deps,
		ctx:       ctx,
		opts:      opts,
		logger:    deps.Logger,
		listeners: make(map[*Listener]struct{}),
		restarts:  make(map[string]int),
		backoffs:  make(map[string]*backoff.ExponentialBackOff),
		quieting:  make(chan struct{}),
	}

	for _, d := range registry.ForQueues(opts.Queues) {
		if d.OptsIntoAutoSubscribe() && !d.ShouldAutoSubscribe() {
			m.logger.Debug("Skipping subscriber", loggingpkg.LogFields{"listener": d.Name(), "reason": "auto subscribe declined"})
			continue
		}
		l := newListener(ctx, m, d, deps)
		if !m.resolve(l) {
			m.logger.Warn("Subscription could not be resolved, listener will not start", loggingpkg.LogFields{
				"listener":     d.Name(),
				"subscription": d.Subscription(),
				"error":        l.ResolveError().Error(),
			})
			l.cancel(l.ResolveError())
			m.rejected = append(m.rejected, l)
			continue
		}
		m.listeners[l] = struct{}{}
	}
	return m
}

func (m *Manager) resolve(l *Listener) bool {
	ctx := m.ctx
	if m.opts.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ResolveTimeout)
		defer cancel()
	}
	return l.resolve(ctx)
}

// Start starts every listener in the fleet.
func (m *Manager) Start() {
	listeners := m.Listeners()
	if len(listeners) == 0 {
		m.logger.Warn("No listeners to start", loggingpkg.LogFields{"queues": m.opts.Queues})
		return
	}
	for _, l := range listeners {
		l.Start()
	}
	m.logger.Info("Started listeners", loggingpkg.LogFields{"count": len(listeners)})
}

// Quiet asks every listener to stop accepting work and fires the quiet hooks
// in reverse order. Only the first call has any effect.
func (m *Manager) Quiet(ctx context.Context) {
	if !m.done.CompareAndSwap(false, true) {
		return
	}
	close(m.quieting)
	m.logger.Info("Terminating quiet listeners", nil)

	for _, l := range m.Listeners() {
		go l.Stop()
	}
	_ = m.deps.Events.Fire(ctx, EventQuiet, FireOptions{Reverse: true})
}

// Stop quiets the fleet, fires the shutdown hooks and waits for listeners to
// drain until deadline. Listeners still running at the deadline are killed.
func (m *Manager) Stop(ctx context.Context, deadline time.Time) {
	m.Quiet(ctx)
	_ = m.deps.Events.Fire(ctx, EventShutdown, FireOptions{Reverse: true})

	if !time.Now().Before(deadline) {
		m.hardShutdown()
		return
	}

	if !m.pause(ctx, deadline) {
		m.hardShutdown()
		return
	}
	for m.Len() > 0 && time.Now().Before(deadline) {
		if !m.pause(ctx, deadline) {
			break
		}
	}

	if m.Len() > 0 {
		m.hardShutdown()
		return
	}
	m.logger.Info("All listeners stopped", nil)
}

// pause sleeps one interval, never past deadline. It reports false when ctx
// ends first.
func (m *Manager) pause(ctx context.Context, deadline time.Time) bool {
	wait := m.opts.PauseInterval
	if remaining := time.Until(deadline); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) hardShutdown() {
	m.mu.Lock()
	remaining := make([]*Listener, 0, len(m.listeners))
	for l := range m.listeners {
		remaining = append(remaining, l)
	}
	m.mu.Unlock()

	if len(remaining) == 0 {
		return
	}
	m.hardShutdowns.Add(1)
	m.logger.Warn("Terminating busy listeners", loggingpkg.LogFields{"count": len(remaining)})
	for _, l := range remaining {
		l.Kill()
	}
}

func (m *Manager) listenerStopped(l *Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, l)
}

func (m *Manager) listenerDied(l *Listener, d *Descriptor, reason error) {
	fields := loggingpkg.LogFields{"listener": d.Name(), "subscription": d.Subscription()}
	if reason != nil {
		fields["reason"] = reason.Error()
	}
	m.logger.Warn("Listener died", fields)

	if !m.opts.Restart.Enabled() || m.done.Load() {
		return
	}

	m.mu.Lock()
	attempt := m.restarts[d.Name()]
	if attempt >= m.opts.Restart.MaxRestarts {
		m.mu.Unlock()
		m.logger.Warn("Listener exhausted its restarts", loggingpkg.LogFields{"listener": d.Name(), "restarts": attempt})
		return
	}
	m.restarts[d.Name()] = attempt + 1
	b, ok := m.backoffs[d.Name()]
	if !ok {
		b = m.opts.Restart.newBackOff()
		m.backoffs[d.Name()] = b
	}
	wait := b.NextBackOff()
	m.mu.Unlock()

	go m.restart(l, d, attempt+1, wait)
}

func (m *Manager) restart(dead *Listener, d *Descriptor, attempt int, wait time.Duration) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.quieting:
		return
	}

	m.mu.Lock()
	if m.done.Load() {
		m.mu.Unlock()
		return
	}
	delete(m.listeners, dead)
	fresh := newListener(m.ctx, m, d, m.deps)
	m.listeners[fresh] = struct{}{}
	m.mu.Unlock()

	go dead.Stop()
	m.logger.Info("Restarting listener", loggingpkg.LogFields{"listener": d.Name(), "attempt": attempt, "backoff": wait.String()})
	fresh.Start()
}

// Listeners returns the current fleet ordered by name.
func (m *Manager) Listeners() []*Listener {
	m.mu.Lock()
	out := make([]*Listener, 0, len(m.listeners))
	for l := range m.listeners {
		out = append(out, l)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].desc.Name() < out[j].desc.Name() })
	return out
}

// Rejected returns the listeners excluded because their subscription did not
// resolve.
func (m *Manager) Rejected() []*Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Listener, len(m.rejected))
	copy(out, m.rejected)
	return out
}

// Len returns the fleet size.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Done reports whether the manager has been quieted.
func (m *Manager) Done() bool {
	return m.done.Load()
}

// HardShutdowns returns how many times listeners had to be killed.
func (m *Manager) HardShutdowns() int {
	return int(m.hardShutdowns.Load())
}
