package runtime

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	idspkg "github.com/drblury/subserver/internal/runtime/ids"
)

const metricsNamespace = "subserver"

// WorkerState describes a message currently being processed.
type WorkerState struct {
	Listener     string    `json:"listener"`
	Queue        string    `json:"queue"`
	Subscription string    `json:"subscription"`
	MessageUUID  string    `json:"message_uuid"`
	StartedAt    time.Time `json:"started_at"`
}

// ResourceUsage is a coarse sample of the process footprint.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Processed uint64        `json:"processed"`
	Failed    uint64        `json:"failed"`
	InFlight  int           `json:"in_flight"`
	Workers   []WorkerState `json:"workers"`
	Resources ResourceUsage `json:"resources"`
}

// Stats counts processed and failed messages across every listener and
// tracks which messages are in flight.
type Stats struct {
	processed atomic.Uint64
	failed    atomic.Uint64
	workers   *xsync.MapOf[string, WorkerState]

	processedTotal *prometheus.CounterVec
	failedTotal    *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
	duration       *prometheus.HistogramVec

	resources *resourceTracker
}

// NewStats creates the counters and registers their collectors with reg. A
// nil registerer keeps the collectors private.
func NewStats(reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{
		workers: xsync.NewMapOf[string, WorkerState](),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_processed_total",
			Help:      "Messages handled successfully, by listener.",
		}, []string{"listener"}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_failed_total",
			Help:      "Messages whose handler returned an error, by listener.",
		}, []string{"listener"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "messages_in_flight",
			Help:      "Messages currently being processed, by listener.",
		}, []string{"listener"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "message_processing_seconds",
			Help:      "Time spent in the interceptor chain and handler.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"listener", "outcome"}),
		resources: newResourceTracker(),
	}
	if reg == nil {
		return s, nil
	}
	var err error
	if s.processedTotal, err = register(reg, s.processedTotal); err != nil {
		return nil, err
	}
	if s.failedTotal, err = register(reg, s.failedTotal); err != nil {
		return nil, err
	}
	if s.inFlight, err = register(reg, s.inFlight); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing an identical collector a previous service
// already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// begin records msg as in flight for the listener described by d and returns
// the function that finishes the record. Messages abandoned at shutdown count
// as neither processed nor failed.
func (s *Stats) begin(d *Descriptor, msg *message.Message) func(err error) {
	key := idspkg.CreateULID()
	s.workers.Store(key, WorkerState{
		Listener:     d.Name(),
		Queue:        d.Queue(),
		Subscription: d.Subscription(),
		MessageUUID:  msg.UUID,
		StartedAt:    time.Now(),
	})
	gauge := s.inFlight.WithLabelValues(d.Name())
	gauge.Inc()
	return func(err error) {
		s.workers.Delete(key)
		gauge.Dec()
		if isShutdown(err) {
			return
		}
		if err != nil {
			s.failed.Add(1)
			s.failedTotal.WithLabelValues(d.Name()).Inc()
			return
		}
		s.processed.Add(1)
		s.processedTotal.WithLabelValues(d.Name()).Inc()
	}
}

// observe records how long one invocation took.
func (s *Stats) observe(listener, outcome string, elapsed time.Duration) {
	s.duration.WithLabelValues(listener, outcome).Observe(elapsed.Seconds())
}

// Processed returns the number of successfully handled messages.
func (s *Stats) Processed() uint64 { return s.processed.Load() }

// Failed returns the number of messages whose handler failed.
func (s *Stats) Failed() uint64 { return s.failed.Load() }

// Workers returns the in-flight messages ordered by start time.
func (s *Stats) Workers() []WorkerState {
	var out []WorkerState
	s.workers.Range(func(_ string, w WorkerState) bool {
		out = append(out, w)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Snapshot copies the counters, the in-flight set and a resource sample.
func (s *Stats) Snapshot() StatsSnapshot {
	workers := s.Workers()
	return StatsSnapshot{
		Processed: s.Processed(),
		Failed:    s.Failed(),
		InFlight:  len(workers),
		Workers:   workers,
		Resources: s.resources.Snapshot(),
	}
}
