package runtime

import (
	"context"
	"sync/atomic"
	"time"

	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// ListenerStatus describes one member of the fleet.
type ListenerStatus struct {
	Name         string `json:"name"`
	Queue        string `json:"queue"`
	Subscription string `json:"subscription"`
	State        string `json:"state"`
}

// Status is what the process reports about itself.
type Status struct {
	Identity    string           `json:"identity"`
	Hostname    string           `json:"hostname"`
	PID         int              `json:"pid"`
	StartedAt   time.Time        `json:"started_at"`
	Tag         string           `json:"tag,omitempty"`
	Environment string           `json:"environment,omitempty"`
	Transport   string           `json:"transport"`
	Queues      []string         `json:"queues"`
	Labels      []string         `json:"labels"`
	Stopping    bool             `json:"stopping"`
	Listeners   []ListenerStatus `json:"listeners"`
	Rejected    []ListenerStatus `json:"rejected,omitempty"`
	Stats       StatsSnapshot    `json:"stats"`
}

// Launcher is the process entry point. It owns one Manager.
type Launcher struct {
	svc       *Service
	manager   *Manager
	startedAt time.Time
	stopping  atomic.Bool
}

// Manager returns the fleet supervisor.
func (l *Launcher) Manager() *Manager {
	return l.manager
}

// Run fires the startup hooks and starts the fleet. A failing startup hook
// aborts the launch and its error is returned.
func (l *Launcher) Run(ctx context.Context) error {
	l.svc.Logger.Info("Starting subserver", loggingpkg.LogFields{
		"identity":  l.svc.identity.String(),
		"queues":    l.svc.Conf.Queues,
		"transport": l.svc.transport.Capabilities.Name,
	})
	if err := l.svc.events.Fire(ctx, EventStartup, FireOptions{Reraise: true}); err != nil {
		return err
	}
	l.startedAt = time.Now()
	l.manager.Start()
	return nil
}

// Quiet stops the fleet from taking new work.
func (l *Launcher) Quiet(ctx context.Context) {
	l.stopping.Store(true)
	l.manager.Quiet(ctx)
}

// Stop shuts the fleet down, killing whatever is still running once timeout
// has elapsed. It returns when shutdown has completed or been forced.
func (l *Launcher) Stop(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	l.stopping.Store(true)
	l.svc.Logger.Info("Shutting down", loggingpkg.LogFields{"timeout": timeout.String()})
	l.manager.Stop(ctx, deadline)
}

// Stopping reports whether Quiet or Stop has been called.
func (l *Launcher) Stopping() bool {
	return l.stopping.Load()
}

// Status reports identity, fleet membership and counters.
func (l *Launcher) Status() Status {
	id := l.svc.identity
	st := Status{
		Identity:    id.String(),
		Hostname:    id.Hostname,
		PID:         id.PID,
		StartedAt:   l.startedAt,
		Tag:         l.svc.Conf.Tag,
		Environment: l.svc.Conf.Environment,
		Transport:   l.svc.transport.Capabilities.Name,
		Queues:      l.svc.Conf.Queues,
		Labels:      l.svc.Conf.Labels,
		Stopping:    l.Stopping(),
		Stats:       l.svc.stats.Snapshot(),
	}
	for _, ls := range l.manager.Listeners() {
		st.Listeners = append(st.Listeners, listenerStatus(ls))
	}
	for _, ls := range l.manager.Rejected() {
		st.Rejected = append(st.Rejected, listenerStatus(ls))
	}
	return st
}

func listenerStatus(l *Listener) ListenerStatus {
	return ListenerStatus{
		Name:         l.desc.Name(),
		Queue:        l.desc.Queue(),
		Subscription: l.desc.Subscription(),
		State:        l.State().String(),
	}
}
