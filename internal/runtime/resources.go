package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	metricCPUSeconds = "/cpu/classes/user:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker samples the process footprint reported in /status. CPU is
// the share of all cores spent in Go code since the previous sample; the
// runtime refreshes that counter at each GC, so short intervals may read 0.
type resourceTracker struct {
	mu       sync.Mutex
	samples  []metrics.Sample
	numCPU   float64
	lastCPU  float64
	lastWall time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	for _, s := range r.samples {
		switch s.Name {
		case metricCPUSeconds:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpu := s.Value.Float64()
			if !r.lastWall.IsZero() {
				if wall := now.Sub(r.lastWall).Seconds(); wall > 0 && r.numCPU > 0 {
					usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
				}
			}
			r.lastCPU = cpu
		case metricHeapBytes:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.MemoryBytes = s.Value.Uint64()
			}
		case metricGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(s.Value.Uint64())
			}
		}
	}
	r.lastWall = now
	return usage
}
