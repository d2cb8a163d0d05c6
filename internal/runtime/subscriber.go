package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/puzpuzpuz/xsync/v3"

	configpkg "github.com/drblury/subserver/internal/runtime/config"
	errspkg "github.com/drblury/subserver/internal/runtime/errors"
)

// Default concurrency options applied to registrations that leave them unset.
const (
	DefaultStreams         = 2
	DefaultCallbackThreads = 4
	DefaultPushThreads     = 2
	DefaultInventory       = 1000
	DefaultDeadline        = 60 * time.Second
)

// Handler processes a single delivered message. Returning nil acknowledges it.
type Handler interface {
	Perform(ctx context.Context, msg *message.Message) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, msg *message.Message) error

// Perform implements Handler.
func (f HandlerFunc) Perform(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

// HandlerFactory returns a fresh Handler for every delivered message.
type HandlerFactory func() Handler

// Concurrency bounds how a listener pulls from its subscription.
type Concurrency struct {
	// Streams is the number of parallel pull streams.
	Streams int
	// CallbackThreads bounds concurrently running handlers.
	CallbackThreads int
	// PushThreads bounds concurrent ack/nack calls to the broker.
	PushThreads int
	// Inventory bounds messages held but not yet settled.
	Inventory int
	// Deadline bounds a single message's processing time.
	Deadline time.Duration
}

func (c Concurrency) withDefaults() Concurrency {
	if c.Streams <= 0 {
		c.Streams = DefaultStreams
	}
	if c.CallbackThreads <= 0 {
		c.CallbackThreads = DefaultCallbackThreads
	}
	if c.PushThreads <= 0 {
		c.PushThreads = DefaultPushThreads
	}
	if c.Inventory <= 0 {
		c.Inventory = DefaultInventory
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	return c
}

// SubscriberRegistration declares a handler and the subscription it consumes.
type SubscriberRegistration struct {
	Name         string
	Queue        string
	Subscription string
	Concurrency  Concurrency
	Handler      HandlerFactory

	// AutoSubscribe opts the subscriber into conditional start: when set and
	// it returns false the manager skips the subscriber entirely.
	AutoSubscribe func() bool
}

// Descriptor is the resolved, immutable form of a SubscriberRegistration.
type Descriptor struct {
	name          string
	queue         string
	subscription  string
	concurrency   Concurrency
	factory       HandlerFactory
	autoSubscribe func() bool
}

func newDescriptor(reg SubscriberRegistration) (*Descriptor, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, errspkg.ErrSubscriberNameRequired
	}
	if strings.TrimSpace(reg.Subscription) == "" {
		return nil, fmt.Errorf("%s: %w", name, errspkg.ErrSubscriptionRequired)
	}
	if reg.Handler == nil {
		return nil, fmt.Errorf("%s: %w", name, errspkg.ErrHandlerRequired)
	}
	queue := strings.TrimSpace(reg.Queue)
	if queue == "" {
		queue = configpkg.DefaultQueue
	}
	return &Descriptor{
		name:          name,
		queue:         queue,
		subscription:  strings.TrimSpace(reg.Subscription),
		concurrency:   reg.Concurrency.withDefaults(),
		factory:       reg.Handler,
		autoSubscribe: reg.AutoSubscribe,
	}, nil
}

func (d *Descriptor) Name() string             { return d.name }
func (d *Descriptor) Queue() string            { return d.queue }
func (d *Descriptor) Subscription() string     { return d.subscription }
func (d *Descriptor) Concurrency() Concurrency { return d.concurrency }

// NewHandler instantiates the handler for one message.
func (d *Descriptor) NewHandler() Handler {
	return d.factory()
}

// OptsIntoAutoSubscribe reports whether the subscriber declared an
// auto-subscribe predicate.
func (d *Descriptor) OptsIntoAutoSubscribe() bool {
	return d.autoSubscribe != nil
}

// ShouldAutoSubscribe evaluates the predicate. Subscribers without one always
// subscribe.
func (d *Descriptor) ShouldAutoSubscribe() bool {
	if d.autoSubscribe == nil {
		return true
	}
	return d.autoSubscribe()
}

// Registry holds the explicitly registered subscribers of a service.
type Registry struct {
	descriptors *xsync.MapOf[string, *Descriptor]

	mu    sync.RWMutex
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: xsync.NewMapOf[string, *Descriptor]()}
}

// Register validates reg and adds its descriptor. Names are unique.
func (r *Registry) Register(reg SubscriberRegistration) (*Descriptor, error) {
	d, err := newDescriptor(reg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, loaded := r.descriptors.LoadOrStore(d.name, d); loaded {
		return nil, fmt.Errorf("%s: %w", d.name, errspkg.ErrDuplicateSubscriber)
	}
	r.order = append(r.order, d.name)
	return d, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	return r.descriptors.Load(name)
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		if d, ok := r.descriptors.Load(name); ok {
			out = append(out, d)
		}
	}
	return out
}

// ForQueues returns the descriptors whose queue is in queues, in
// registration order.
func (r *Registry) ForQueues(queues []string) []*Descriptor {
	filter := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		filter[q] = struct{}{}
	}
	var out []*Descriptor
	for _, d := range r.Descriptors() {
		if _, ok := filter[d.queue]; ok {
			out = append(out, d)
		}
	}
	return out
}
