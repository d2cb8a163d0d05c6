/*
Package runtime implements the subscriber server: the subscriber registry,
the interceptor chain, listeners and the manager that supervises them, the
launcher and the process-wide lifecycle events.

# Processing model

Each registered subscriber becomes a Listener. The listener opens a
streaming connection on its broker subscription with the concurrency the
subscriber asked for, runs every message through a freshly built
interceptor chain and the handler, and settles the message by result:
ack on success, nack otherwise. A processing error kills the listener.

The Manager owns the fleet. Stop asks every listener to stop, polls until
the deadline and then kills the stragglers; a killed listener cancels the
context of in-flight handlers with ErrShutdown and nacks their messages.
With a RestartPolicy, dead listeners are replaced after an exponential
backoff.

# Sub-packages

  - config/: process configuration, YAML and environment loading, validation
  - errors/: sentinel errors and error types
  - handlers/: typed JSON and protobuf handler adapters
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: message metadata keys and helpers
  - transport/: transport factory over the transport registry

# Usage

	conf := config.Default()
	conf.PubSubSystem = "kafka"
	conf.KafkaBrokers = []string{"localhost:9092"}

	svc := runtime.NewService(conf, logger, ctx, runtime.ServiceDependencies{})
	_, _ = runtime.RegisterJSONSubscriber(svc, runtime.JSONSubscriberRegistration[*OrderPlaced]{
		Name:         "orders",
		Subscription: "orders.placed",
		Handler:      handleOrder,
	})

	launcher := svc.Launcher()
	if err := launcher.Run(ctx); err != nil {
		return err
	}
	defer launcher.Stop(context.Background(), conf.Timeout)
*/
package runtime
