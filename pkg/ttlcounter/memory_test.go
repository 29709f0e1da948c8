package ttlcounter

import (
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeapRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		live   uint64
		goal   uint64
		limit  int64
		want   float64
		wantOK bool
	}{
		{"against goal", 40 << 20, 80 << 20, math.MaxInt64, 0.5, true},
		{"against memory limit", 90 << 20, 80 << 20, 100 << 20, 0.9, true},
		{"no completed cycle", 0, 4 << 20, math.MaxInt64, 0, false},
		{"no goal", 1 << 20, 0, math.MaxInt64, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := heapRatio(tc.live, tc.goal, tc.limit)
			require.Equal(t, tc.wantOK, ok)
			require.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestRuntimeMemoryProbe(t *testing.T) {
	runtime.GC()

	ratio, ok := RuntimeMemoryProbe()
	require.True(t, ok)
	require.Greater(t, ratio, 0.0)
}
