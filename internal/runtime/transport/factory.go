package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/subserver/internal/runtime/config"
	"github.com/drblury/subserver/transport"

	// Registers every built-in transport.
	_ "github.com/drblury/subserver/transport/transports"
)

// Factory abstracts how subserver initialises its broker transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)

// Build implements Factory.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return f(ctx, conf, logger)
}

// Static returns a factory that always hands out t.
func Static(t transport.Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return t, nil
	})
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: transport.DefaultRegistry}
}

// RegistryFactory builds transports from a specific registry.
func RegistryFactory(r *transport.Registry) Factory {
	return registryFactory{registry: r}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if conf == nil {
		return transport.Transport{}, fmt.Errorf("config is required")
	}
	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	if t.Subscriber == nil {
		return transport.Transport{}, fmt.Errorf("%s transport did not provide a subscriber", conf.PubSubSystem)
	}
	return t, nil
}
