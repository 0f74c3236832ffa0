package resolve

import (
	"math"
	"sort"
	"sync"

	"aggpipe/internal/schema"
)

// sampleCap bounds the values retained for the median estimate; beyond it the
// estimate is computed from the first sampleCap observed values. modeCap
// bounds the distinct values tracked for mode on high-cardinality columns.
const (
	sampleCap = 1024
	modeCap   = 4096
)

// runningStat accumulates the per-column state behind impute-statistic.
// Estimates are running: they reflect the values observed in partitions
// processed so far, which keeps memory bounded without a separate pre-pass.
type runningStat struct {
	mu     sync.Mutex
	count  int64
	sum    float64
	sample []float64

	modeCounts map[string]int64
	modeValues map[string]any
}

func newRunningStat() *runningStat {
	return &runningStat{
		modeCounts: make(map[string]int64),
		modeValues: make(map[string]any),
	}
}

// observe feeds one present cell into the accumulator.
func (s *runningStat) observe(v any, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == "int" || kind == "float" {
		if f, ok := toFloat(v); ok {
			s.count++
			s.sum += f
			if len(s.sample) < sampleCap {
				s.sample = append(s.sample, f)
			}
		}
	}

	key := modeKey(v)
	if _, tracked := s.modeCounts[key]; tracked || len(s.modeCounts) < modeCap {
		s.modeCounts[key]++
		s.modeValues[key] = v
	}
}

// estimate returns the current value for the given statistic, typed for the
// column kind. ok is false until at least one value has been observed.
func (s *runningStat) estimate(statistic, kind string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch statistic {
	case "mean":
		if s.count == 0 {
			return nil, false
		}
		return numericFor(s.sum/float64(s.count), kind), true
	case "median":
		if len(s.sample) == 0 {
			return nil, false
		}
		sorted := append([]float64(nil), s.sample...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		var med float64
		if len(sorted)%2 == 1 {
			med = sorted[mid]
		} else {
			med = (sorted[mid-1] + sorted[mid]) / 2
		}
		return numericFor(med, kind), true
	case "mode":
		if len(s.modeCounts) == 0 {
			return nil, false
		}
		var bestKey string
		var bestN int64 = -1
		for k, n := range s.modeCounts {
			// Deterministic tie-break so partition order cannot flip the
			// winner between equally frequent values.
			if n > bestN || (n == bestN && k < bestKey) {
				bestKey, bestN = k, n
			}
		}
		return s.modeValues[bestKey], true
	}
	return nil, false
}

func numericFor(f float64, kind string) any {
	if kind == "int" {
		return int64(math.Round(f))
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		return schema.ToFloat(t)
	}
	return 0, false
}

func modeKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	// Numeric and bool cells share the string form used in reports.
	return schema.CellString(v)
}
