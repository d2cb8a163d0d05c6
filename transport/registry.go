package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/puzpuzpuz/xsync/v3"
)

type registration struct {
	build Builder
	caps  *Capabilities
}

// Registry maps Config.PubSubSystem values to transport builders. Transport
// packages add themselves from init through Register.
type Registry struct {
	entries *xsync.MapOf[string, registration]
}

// DefaultRegistry holds the built-in transports.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: xsync.NewMapOf[string, registration]()}
}

// Register adds or replaces the builder for name.
func (r *Registry) Register(name string, builder Builder) {
	r.entries.Compute(name, func(old registration, _ bool) (registration, bool) {
		return registration{build: builder, caps: old.caps}, false
	})
}

// RegisterWithCapabilities also records what the transport supports, for
// builders that do not fill Transport.Capabilities themselves.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.entries.Store(name, registration{build: builder, caps: &caps})
}

// GetCapabilities returns the recorded capabilities of name, or a value
// carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if e, ok := r.entries.Load(name); ok && e.caps != nil {
		return *e.caps
	}
	return Capabilities{Name: name}
}

// Build runs the builder selected by cfg.GetPubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("transport: config is required")
	}
	name := cfg.GetPubSubSystem()
	e, ok := r.entries.Load(name)
	if !ok || e.build == nil {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	tr, err := e.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	if tr.Capabilities.Name == "" {
		tr.Capabilities = r.GetCapabilities(name)
	}
	return tr, nil
}

// Names returns the registered transport names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.entries.Size())
	r.entries.Range(func(name string, _ registration) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.entries.Load(name)
	return ok
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build builds a transport from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
