package ttlcounter

import (
	"math"
	"runtime/debug"
	"runtime/metrics"
)

// MemoryProbe reports current memory utilisation as a ratio in [0, 1].
// ok is false when the runtime could not provide a reading.
type MemoryProbe func() (ratio float64, ok bool)

var heapSamples = []string{
	"/gc/heap/live:bytes",
	"/gc/heap/goal:bytes",
}

// RuntimeMemoryProbe measures the heap marked live by the last GC cycle. With
// GOMEMLIMIT set it is measured against the limit, otherwise against the heap
// goal. Unswept garbage is not counted, so a store is not shed for memory
// the next cycle would free anyway.
func RuntimeMemoryProbe() (float64, bool) {
	samples := make([]metrics.Sample, len(heapSamples))
	for i, name := range heapSamples {
		samples[i].Name = name
	}
	metrics.Read(samples)

	vals := make([]uint64, len(samples))
	for i, s := range samples {
		if s.Value.Kind() != metrics.KindUint64 {
			return 0, false
		}
		vals[i] = s.Value.Uint64()
	}

	// A negative input reads the limit without changing it.
	return heapRatio(vals[0], vals[1], debug.SetMemoryLimit(-1))
}

func heapRatio(live, goal uint64, limit int64) (float64, bool) {
	if live == 0 {
		// No GC cycle has finished yet.
		return 0, false
	}
	if limit > 0 && limit != math.MaxInt64 {
		return float64(live) / float64(limit), true
	}
	if goal == 0 {
		return 0, false
	}
	return float64(live) / float64(goal), true
}
