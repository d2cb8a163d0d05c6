package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/subserver/internal/runtime/errors"
)

// Next advances an invocation to the following interceptor, or to the terminal
// handler once the chain is exhausted.
type Next func(ctx context.Context) error

// Interceptor wraps message handling. Code before next runs on the way in,
// code after it on the way out. Returning without calling next short-circuits
// the rest of the chain.
type Interceptor interface {
	Intercept(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error
}

// InterceptorFunc adapts a function into an Interceptor.
type InterceptorFunc func(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(ctx context.Context, desc *Descriptor, msg *message.Message, next Next) error {
	return f(ctx, desc, msg, next)
}

// InterceptorBuilder constructs a fresh interceptor for a single invocation.
// Returning a nil interceptor leaves the entry out of that invocation.
type InterceptorBuilder func() (Interceptor, error)

// Entry is a named slot in a Chain.
type Entry struct {
	Name  string
	Build InterceptorBuilder
}

// Static returns a builder that hands out the same interceptor every time. Use
// it for interceptors without per-message state.
func Static(i Interceptor) InterceptorBuilder {
	return func() (Interceptor, error) { return i, nil }
}

// Chain is an ordered list of interceptor entries, unique by name.
//
// Mutating methods are meant for configuration before the first Invoke and are
// not synchronized. Invoke never mutates the chain and may be called from any
// number of goroutines.
type Chain struct {
	entries []Entry
}

// NewChain returns a chain holding the given entries in order.
func NewChain(entries ...Entry) (*Chain, error) {
	c := &Chain{}
	for _, e := range entries {
		if err := c.Add(e.Name, e.Build); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add appends an entry. An existing entry with the same name is moved to the
// tail and replaced.
func (c *Chain) Add(name string, build InterceptorBuilder) error {
	if err := validateEntry(name, build); err != nil {
		return err
	}
	c.Remove(name)
	c.entries = append(c.entries, Entry{Name: name, Build: build})
	return nil
}

// Prepend places an entry at the head, moving any existing entry with the
// same name.
func (c *Chain) Prepend(name string, build InterceptorBuilder) error {
	if err := validateEntry(name, build); err != nil {
		return err
	}
	c.Remove(name)
	c.entries = append([]Entry{{Name: name, Build: build}}, c.entries...)
	return nil
}

// InsertBefore places an entry directly before anchor, or at the head when
// anchor is not in the chain. An existing entry is moved and keeps its
// builder.
func (c *Chain) InsertBefore(anchor, name string, build InterceptorBuilder) error {
	if err := validateEntry(name, build); err != nil {
		return err
	}
	entry := c.take(name, build)
	i := c.index(anchor)
	if i < 0 {
		i = 0
	}
	c.insertAt(i, entry)
	return nil
}

// InsertAfter places an entry directly after anchor, or at the tail when
// anchor is not in the chain. An existing entry is moved and keeps its
// builder.
func (c *Chain) InsertAfter(anchor, name string, build InterceptorBuilder) error {
	if err := validateEntry(name, build); err != nil {
		return err
	}
	entry := c.take(name, build)
	i := c.index(anchor)
	if i < 0 {
		i = len(c.entries) - 1
	}
	c.insertAt(i+1, entry)
	return nil
}

// take removes the named entry and returns it, or a new entry when there is
// none.
func (c *Chain) take(name string, build InterceptorBuilder) Entry {
	i := c.index(name)
	if i < 0 {
		return Entry{Name: name, Build: build}
	}
	entry := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return entry
}

// Remove drops the entry with the given name. It reports whether one existed.
func (c *Chain) Remove(name string) bool {
	i := c.index(name)
	if i < 0 {
		return false
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return true
}

// Exists reports whether an entry with the given name is present.
func (c *Chain) Exists(name string) bool {
	return c.index(name) >= 0
}

// Len returns the number of entries.
func (c *Chain) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the entries in order.
func (c *Chain) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Names returns the entry names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// Clear removes every entry.
func (c *Chain) Clear() {
	c.entries = nil
}

// Clone returns an independent copy of the chain.
func (c *Chain) Clone() *Chain {
	return &Chain{entries: c.Entries()}
}

// Invoke builds one interceptor per entry and drives msg through them before
// calling terminal. Interceptors run inward in chain order and unwind in
// reverse.
func (c *Chain) Invoke(ctx context.Context, desc *Descriptor, msg *message.Message, terminal Next) error {
	if terminal == nil {
		return errspkg.ErrHandlerRequired
	}
	if c == nil || len(c.entries) == 0 {
		return terminal(ctx)
	}

	interceptors := make([]Interceptor, 0, len(c.entries))
	for _, e := range c.entries {
		i, err := e.Build()
		if err != nil {
			return fmt.Errorf("build interceptor %s: %w", e.Name, err)
		}
		if i != nil {
			interceptors = append(interceptors, i)
		}
	}

	d := &driver{interceptors: interceptors, desc: desc, msg: msg, terminal: terminal}
	return d.next(ctx)
}

type driver struct {
	interceptors []Interceptor
	pos          int
	desc         *Descriptor
	msg          *message.Message
	terminal     Next
}

func (d *driver) next(ctx context.Context) error {
	if d.pos >= len(d.interceptors) {
		return d.terminal(ctx)
	}
	i := d.interceptors[d.pos]
	d.pos++
	return i.Intercept(ctx, d.desc, d.msg, d.next)
}

func (c *Chain) index(name string) int {
	for i, e := range c.entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

func (c *Chain) insertAt(i int, e Entry) {
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = e
}

func validateEntry(name string, build InterceptorBuilder) error {
	if name == "" {
		return errspkg.ErrInterceptorNameRequired
	}
	if build == nil {
		return errspkg.ErrInterceptorBuilderNil
	}
	return nil
}
