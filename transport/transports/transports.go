// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/drblury/subserver/transport/aws"
	_ "github.com/drblury/subserver/transport/channel"
	_ "github.com/drblury/subserver/transport/gocloud"
	_ "github.com/drblury/subserver/transport/kafka"
	_ "github.com/drblury/subserver/transport/nats"
	_ "github.com/drblury/subserver/transport/rabbitmq"
)
