// Package channel provides an in-memory Go channel transport for subserver.
// It is meant for local development and tests.
package channel

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drblury/subserver/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Topics are created lazily, so every
// subscription resolves.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return transport.Transport{
		Publisher:    pub,
		Subscriber:   sub,
		Resolver:     NewDeclarations(false),
		Capabilities: transport.ChannelCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Declarations is a SubscriptionResolver backed by an in-memory set of
// subscription names. A strict set only resolves declared names.
type Declarations struct {
	names  *xsync.MapOf[string, struct{}]
	strict bool
}

// NewDeclarations returns an empty declaration set.
func NewDeclarations(strict bool) *Declarations {
	return &Declarations{names: xsync.NewMapOf[string, struct{}](), strict: strict}
}

// Declare marks subscriptions as existing.
func (d *Declarations) Declare(names ...string) {
	for _, name := range names {
		d.names.Store(name, struct{}{})
	}
}

// Forget removes a declared subscription.
func (d *Declarations) Forget(name string) {
	d.names.Delete(name)
}

// ResolveSubscription implements transport.SubscriptionResolver.
func (d *Declarations) ResolveSubscription(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.strict {
		return nil
	}
	if _, ok := d.names.Load(name); !ok {
		return fmt.Errorf("channel: subscription %q is not declared", name)
	}
	return nil
}
