// Package resources samples coarse process resource usage for the admin API.
package resources

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuMetric = "/sched/cpu:seconds"

// Usage is one resource snapshot.
type Usage struct {
	// CPUPercent is the share of all CPUs used since the previous snapshot.
	// The first snapshot of a tracker always reports 0.
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryBytes uint64        `json:"memory_bytes"`
	Goroutines  int           `json:"goroutines"`
	Uptime      time.Duration `json:"uptime_ns"`
}

// Tracker computes CPU usage as a delta between consecutive snapshots.
// It is safe for concurrent use.
type Tracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	startedAt      time.Time
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func NewTracker() *Tracker {
	return &Tracker{
		samples:   []metrics.Sample{{Name: cpuMetric}},
		startedAt: time.Now(),
		numCPU:    float64(runtime.NumCPU()),
	}
}

func (t *Tracker) Snapshot() Usage {
	if t == nil {
		return Usage{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		t.samples = []metrics.Sample{{Name: cpuMetric}}
	}
	metrics.Read(t.samples)
	cpu, haveCPU := 0.0, t.samples[0].Value.Kind() == metrics.KindFloat64
	if haveCPU {
		cpu = t.samples[0].Value.Float64()
	}
	now := time.Now()

	usage := Usage{Goroutines: runtime.NumGoroutine()}
	if !t.startedAt.IsZero() {
		usage.Uptime = now.Sub(t.startedAt)
	}
	if haveCPU && !t.lastSample.IsZero() {
		wall := now.Sub(t.lastSample).Seconds()
		if wall > 0 && t.numCPU > 0 {
			usage.CPUPercent = (cpu - t.lastCPUSeconds) / wall / t.numCPU * 100
		}
	}
	if haveCPU {
		t.lastCPUSeconds = cpu
	}
	t.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	return usage
}
