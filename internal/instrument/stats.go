package instrument

import (
	"math"
	"sort"

	"smartkollect/internal/store"
)

// RunStats summarises recent executions.
type RunStats struct {
	Total         int            `json:"total"`
	Errors        int            `json:"errors"`
	ErrorRate     float64        `json:"error_rate"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	P95DurationMs *float64       `json:"p95_duration_ms"`
	ByErrorCode   map[string]int `json:"by_error_code"`
}

// ComputeStats aggregates durations and error counts. P95 is nil when
// there are no runs.
func ComputeStats(runs []store.Run) RunStats {
	stats := RunStats{Total: len(runs), ByErrorCode: map[string]int{}}
	if len(runs) == 0 {
		return stats
	}

	durations := make([]float64, 0, len(runs))
	var sum float64
	for _, r := range runs {
		durations = append(durations, r.DurationMs)
		sum += r.DurationMs
		if r.Status == store.RunError {
			stats.Errors++
			stats.ByErrorCode[r.ErrorCode]++
		}
	}
	stats.AvgDurationMs = math.Round(sum/float64(len(runs))*100) / 100
	stats.ErrorRate = math.Round(float64(stats.Errors)/float64(len(runs))*10000) / 10000

	sort.Float64s(durations)
	idx := int(math.Ceil(0.95*float64(len(durations)))) - 1
	if idx < 0 {
		idx = 0
	}
	p95 := durations[idx]
	stats.P95DurationMs = &p95
	return stats
}
