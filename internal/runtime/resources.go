package runtime

import (
	"runtime"
	"runtime/metrics"
	"strconv"
	"sync"
	"time"
)

// ResourceUsage is a coarse sample of the process' resource consumption.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// Data renders the usage as health check data.
func (u ResourceUsage) Data() map[string]string {
	return map[string]string{
		"cpuPercent":  strconv.FormatFloat(u.CPUPercent, 'f', 1, 64),
		"memoryBytes": strconv.FormatUint(u.MemoryBytes, 10),
		"goroutines":  strconv.Itoa(u.Goroutines),
	}
}

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker samples CPU, heap and goroutines through runtime/metrics.
// CPU usage is the share of all cores used since the previous sample.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{numCPU: float64(runtime.NumCPU())}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: sampleCPU}, {Name: sampleHeap}, {Name: sampleGoroutines}}
	}
	if r.numCPU == 0 {
		r.numCPU = float64(runtime.NumCPU())
	}
	metrics.Read(r.samples)

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	now := time.Now()
	for _, s := range r.samples {
		switch {
		case s.Name == sampleCPU && s.Value.Kind() == metrics.KindFloat64:
			cpuSeconds := s.Value.Float64()
			if !r.lastSample.IsZero() {
				if wall := now.Sub(r.lastSample).Seconds(); wall > 0 {
					usage.CPUPercent = (cpuSeconds - r.lastCPUSeconds) / wall / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpuSeconds
		case s.Name == sampleHeap && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == sampleGoroutines && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		}
	}
	r.lastSample = now
	return usage
}
