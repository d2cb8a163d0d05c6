// Package subserver runs long-lived message subscribers against a pub/sub
// broker. A process registers subscribers, each bound to one broker
// subscription and one named queue, and the launcher starts a listener per
// subscriber, pulls messages through an interceptor chain into the handler
// and acks or nacks them by result.
//
// The transport (Go channels, Kafka, RabbitMQ, NATS, AWS SNS/SQS or any
// Go CDK pubsub URL) is selected by Config.PubSubSystem and built from the
// transport registry. Subscriptions are resolved at startup; a subscriber
// whose subscription cannot be found is logged and left out of the fleet.
//
// Shutdown is cooperative and bounded. Stop signals every listener, waits
// for in-flight messages until the deadline and then kills what is left:
// abandoned messages are nacked so the broker redelivers them.
//
// # Lifecycle events
//
// Hooks registered with Service.On run on startup, listener_startup, quiet
// and shutdown. Hooks run newest first; a failing hook is reported to the
// error handlers, and a failing startup hook aborts Launcher.Run.
//
// # Interceptors
//
// The default chain adds correlation ids, start/done logging, OpenTelemetry
// spans and Prometheus timings. Interceptors are built per message from
// their builders, so they may carry per-message state.
//
// # Job Hooks
//
// JobHooksInterceptor provides OnJobStart, OnJobDone, and OnJobError callbacks
// for custom logging, metrics collection, and alerting around handler
// execution.
package subserver
