package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/subserver/internal/runtime/config"
	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
	transportpkg "github.com/drblury/subserver/internal/runtime/transport"
	"github.com/drblury/subserver/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	// TransportFactory builds the broker transport. Defaults to the registry
	// entry named by Config.PubSubSystem.
	TransportFactory transportpkg.Factory

	// Interceptors are appended after the default chain.
	Interceptors []InterceptorRegistration
	// DisableDefaultInterceptors skips the default chain when true.
	DisableDefaultInterceptors bool

	// ErrorHandlers are notified after the default logging handler.
	ErrorHandlers []ErrorHandler
	// DisableDefaultErrorHandler skips the logging error handler when true.
	DisableDefaultErrorHandler bool

	// MetricsRegisterer receives the runtime collectors. Defaults to the
	// Prometheus default registerer.
	MetricsRegisterer prometheus.Registerer
	// MetricsGatherer backs the /metrics endpoint. Defaults to the Prometheus
	// default gatherer.
	MetricsGatherer prometheus.Gatherer
}

// Service is the process context: configuration, logger, broker transport,
// subscriber registry, interceptor chain, lifecycle events and error handlers.
// Create one per process with NewService and release it with Close.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	ctx       context.Context
	transport transport.Transport
	chain     *Chain
	registry  *Registry
	events    *LifecycleEvents
	errors    *ErrorHandlers
	stats     *Stats
	identity  Identity
	gatherer  prometheus.Gatherer

	mu       sync.Mutex
	launcher *Launcher
	closed   bool
}

// NewService constructs a Service for the supplied configuration. Register
// subscribers on the returned Service before creating its Launcher. It panics
// when the service cannot be built; use TryNewService to handle the error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService returning errors instead of panicking.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := errspkg.NewConfigValidationError(conf.Validate()); err != nil {
		return nil, err
	}

	log.Info("Creating subserver service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	registerer := deps.MetricsRegisterer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := deps.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	stats, err := NewStats(registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var handlers []ErrorHandler
	if !deps.DisableDefaultErrorHandler {
		handlers = append(handlers, LoggingErrorHandler(log))
	}
	handlers = append(handlers, deps.ErrorHandlers...)
	errorHandlers := NewErrorHandlers(log, handlers...)

	s := &Service{
		Conf:     conf,
		Logger:   log,
		ctx:      ctx,
		chain:    &Chain{},
		registry: NewRegistry(),
		errors:   errorHandlers,
		events:   NewLifecycleEvents(errorHandlers, log),
		stats:    stats,
		identity: NewIdentity(),
		gatherer: gatherer,
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, err
	}
	if tr.Subscriber == nil {
		return nil, errspkg.ErrTransportRequired
	}
	s.transport = tr

	if err := s.registerConfiguredInterceptors(deps); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) registerConfiguredInterceptors(deps ServiceDependencies) error {
	var defaults []InterceptorRegistration
	if !deps.DisableDefaultInterceptors {
		defaults = DefaultInterceptors()
	}
	registrations := make([]InterceptorRegistration, 0, len(defaults)+len(deps.Interceptors))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Interceptors...)

	for _, reg := range registrations {
		if err := s.RegisterInterceptor(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_interceptor"
			}
			return fmt.Errorf("failed to register interceptor %s: %w", name, err)
		}
	}
	return nil
}

// Register adds a subscriber. Registrations made after the Launcher was
// created are not picked up by it.
func (s *Service) Register(reg SubscriberRegistration) (*Descriptor, error) {
	d, err := s.registry.Register(reg)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug("Registered subscriber", loggingpkg.LogFields{
		"listener":     d.Name(),
		"queue":        d.Queue(),
		"subscription": d.Subscription(),
	})
	return d, nil
}

// On registers a lifecycle hook.
func (s *Service) On(event Event, hook LifecycleHook) error {
	return s.events.On(event, hook)
}

// AddErrorHandler appends an error handler.
func (s *Service) AddErrorHandler(h ErrorHandler) {
	s.errors.Add(h)
}

// Chain returns the interceptor chain. Mutate it only before the Launcher
// runs.
func (s *Service) Chain() *Chain { return s.chain }

// Registry returns the subscriber registry.
func (s *Service) Registry() *Registry { return s.registry }

// Events returns the lifecycle event registry.
func (s *Service) Events() *LifecycleEvents { return s.events }

// ErrorHandlers returns the error handler list.
func (s *Service) ErrorHandlers() *ErrorHandlers { return s.errors }

// Stats returns the processing counters.
func (s *Service) Stats() *Stats { return s.stats }

// Identity returns the process identity.
func (s *Service) Identity() Identity { return s.identity }

// Transport returns the broker transport.
func (s *Service) Transport() transport.Transport { return s.transport }

// Publisher returns the transport publisher, which may be nil.
func (s *Service) Publisher() message.Publisher { return s.transport.Publisher }

// Launcher returns the service launcher, building its Manager on first use.
// Subscriptions are resolved at that point.
func (s *Service) Launcher() *Launcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launcher != nil {
		return s.launcher
	}

	deps := fleetDeps{
		Chain:     s.chain,
		Events:    s.events,
		Errors:    s.errors,
		Transport: s.transport,
		Stats:     s.stats,
		Logger:    s.Logger,
	}
	manager := newManager(s.ctx, s.registry, deps, ManagerOptions{
		Queues:         s.Conf.Queues,
		PauseInterval:  s.Conf.PauseInterval,
		ResolveTimeout: s.Conf.ResolveTimeout,
		Restart: RestartPolicy{
			MaxRestarts:    s.Conf.RestartMaxAttempts,
			InitialBackoff: s.Conf.RestartInitialBackoff,
			MaxBackoff:     s.Conf.RestartMaxBackoff,
		},
	})
	s.launcher = &Launcher{svc: s, manager: manager}
	return s.launcher
}

// Close releases the transport. It is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.transport.Close()
}
