// Package subservertest provides an in-memory broker and recording helpers
// for testing subscribers and lifecycle behaviour without a real broker.
package subservertest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/subserver/transport"
	"github.com/drblury/subserver/transport/channel"
)

// Outcome is how a delivered message was settled.
type Outcome int

const (
	Pending Outcome = iota
	Acked
	Nacked
	// Lost means the subscription ended before the message was settled. A
	// real broker redelivers it.
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	case Lost:
		return "lost"
	default:
		return "pending"
	}
}

// Delivery is one hand-over of a message to a subscriber.
type Delivery struct {
	Subscription string
	UUID         string
	Outcome      Outcome
}

// Broker is a persistent in-memory pub/sub that only resolves declared
// subscriptions and records how every delivery was settled. Messages
// published before a subscriber connects are kept for it.
type Broker struct {
	pubsub       *gochannel.GoChannel
	declarations *channel.Declarations

	mu         sync.Mutex
	deliveries []*Delivery
	changed    chan struct{}

	closing   chan struct{}
	closeOnce sync.Once
	watchers  sync.WaitGroup
}

// NewBroker returns a broker with the given subscriptions declared.
func NewBroker(subscriptions ...string) *Broker {
	b := &Broker{
		pubsub:       gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{}),
		declarations: channel.NewDeclarations(true),
		changed:      make(chan struct{}),
		closing:      make(chan struct{}),
	}
	b.Declare(subscriptions...)
	return b
}

// Declare makes subscriptions resolvable.
func (b *Broker) Declare(subscriptions ...string) {
	b.declarations.Declare(subscriptions...)
}

// Transport exposes the broker as a subserver transport.
func (b *Broker) Transport() transport.Transport {
	return transport.Transport{
		Publisher:    b,
		Subscriber:   b,
		Resolver:     b.declarations,
		Capabilities: transport.ChannelCapabilities,
	}
}

// Publish implements message.Publisher.
func (b *Broker) Publish(topic string, messages ...*message.Message) error {
	return b.pubsub.Publish(topic, messages...)
}

// PublishPayload publishes a new message carrying payload and returns its
// UUID.
func (b *Broker) PublishPayload(topic string, payload []byte) (string, error) {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.Publish(topic, msg); err != nil {
		return "", err
	}
	return msg.UUID, nil
}

// Subscribe implements message.Subscriber. Every delivery is recorded; a
// settlement only counts while ctx is live, as with a real broker.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for msg := range in {
			b.record(ctx, topic, msg)
			select {
			case out <- msg:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (b *Broker) record(ctx context.Context, topic string, msg *message.Message) {
	d := &Delivery{Subscription: topic, UUID: msg.UUID}
	b.mu.Lock()
	b.deliveries = append(b.deliveries, d)
	b.notifyLocked()
	b.mu.Unlock()

	b.watchers.Add(1)
	go func() {
		defer b.watchers.Done()
		var outcome Outcome
		select {
		case <-msg.Acked():
			outcome = Acked
		case <-msg.Nacked():
			outcome = Nacked
		case <-ctx.Done():
			outcome = settledBy(msg)
		case <-b.closing:
			return
		}
		b.mu.Lock()
		d.Outcome = outcome
		b.notifyLocked()
		b.mu.Unlock()
	}()
}

// settledBy reports how msg was settled before its subscription ended.
func settledBy(msg *message.Message) Outcome {
	select {
	case <-msg.Acked():
		return Acked
	case <-msg.Nacked():
		return Nacked
	default:
		return Lost
	}
}

func (b *Broker) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Deliveries returns a copy of the deliveries made on subscription.
func (b *Broker) Deliveries(subscription string) []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Delivery
	for _, d := range b.deliveries {
		if d.Subscription == subscription {
			out = append(out, *d)
		}
	}
	return out
}

// Count returns how many deliveries on subscription ended with outcome.
func (b *Broker) Count(subscription string, outcome Outcome) int {
	n := 0
	for _, d := range b.Deliveries(subscription) {
		if d.Outcome == outcome {
			n++
		}
	}
	return n
}

// WaitFor blocks until cond holds or timeout elapses, re-evaluating it after
// every delivery or settlement. It reports whether cond held.
func (b *Broker) WaitFor(timeout time.Duration, cond func(b *Broker) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		b.mu.Lock()
		changed := b.changed
		b.mu.Unlock()
		if cond(b) {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return cond(b)
		}
	}
}

// Close shuts the broker down and stops watching unsettled deliveries.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closing)
		err = b.pubsub.Close()
		b.watchers.Wait()
	})
	return err
}
