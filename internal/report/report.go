// =============================================================================
// REPORT - LATENESS STATISTICS
// =============================================================================
//
// Turns the raw samples of a run into the numbers worth comparing:
//
//   raw samples ──► drop outliers (|z| >= 3) ──► mean, stddev, min, max,
//                                                p50, p95, p99
//
// WHY DROP OUTLIERS?
// A real-clock run occasionally loses the CPU for a few milliseconds (GC,
// another process). One such pause produces a handful of samples that dwarf
// everything else and would hide the difference between the engines. The
// z-score filter removes them; Outliers says how many were dropped.
//
// =============================================================================

package report

import (
	"math"
	"slices"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
)

// OutlierZScore is the |z| at or above which a sample is discarded.
const OutlierZScore = 3.0

// Summary describes one set of lateness samples.
type Summary struct {
	Count    int           `json:"count" yaml:"count"`
	Outliers int           `json:"outliers" yaml:"outliers"`
	Mean     time.Duration `json:"mean" yaml:"mean"`
	StdDev   time.Duration `json:"stddev" yaml:"stddev"`
	Min      time.Duration `json:"min" yaml:"min"`
	Max      time.Duration `json:"max" yaml:"max"`
	P50      time.Duration `json:"p50" yaml:"p50"`
	P95      time.Duration `json:"p95" yaml:"p95"`
	P99      time.Duration `json:"p99" yaml:"p99"`
}

// DelaySummary is the Summary of every sample sharing one registered delay.
type DelaySummary struct {
	Delay   time.Duration `json:"delay" yaml:"delay"`
	Summary Summary       `json:"summary" yaml:"summary"`
}

// Comparison is one engine's row in a multi-engine report.
type Comparison struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	Engine    string         `json:"engine" yaml:"engine"`
	Delivered int            `json:"delivered" yaml:"delivered"`
	Missed    int            `json:"missed" yaml:"missed"`
	Pending   int            `json:"pending" yaml:"pending"`
	Overall   Summary        `json:"overall" yaml:"overall"`
	ByDelay   []DelaySummary `json:"by_delay" yaml:"by_delay"`
}

// Summarize computes lateness statistics over samples.
func Summarize(samples []bench.Sample) Summary {
	values := make([]time.Duration, len(samples))
	for i, s := range samples {
		values[i] = s.Measured
	}
	return SummarizeDurations(values)
}

// SummarizeDurations computes statistics over values after removing outliers.
func SummarizeDurations(values []time.Duration) Summary {
	kept := RemoveOutliers(values)
	if len(kept) == 0 {
		return Summary{}
	}

	sorted := slices.Clone(kept)
	slices.Sort(sorted)

	mean, stddev := meanStdDev(sorted)
	return Summary{
		Count:    len(sorted),
		Outliers: len(values) - len(sorted),
		Mean:     time.Duration(math.Round(mean)),
		StdDev:   time.Duration(math.Round(stddev)),
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		P50:      percentile(sorted, 50),
		P95:      percentile(sorted, 95),
		P99:      percentile(sorted, 99),
	}
}

// RemoveOutliers drops values whose z-score magnitude is >= OutlierZScore,
// using the population standard deviation. With zero spread nothing is
// dropped.
func RemoveOutliers(values []time.Duration) []time.Duration {
	if len(values) == 0 {
		return nil
	}

	mean, stddev := meanStdDev(values)
	if stddev == 0 {
		return slices.Clone(values)
	}

	out := make([]time.Duration, 0, len(values))
	for _, v := range values {
		if math.Abs(float64(v)-mean)/stddev < OutlierZScore {
			out = append(out, v)
		}
	}
	return out
}

// Compare builds one Comparison per result, in the given order.
func Compare(results []*bench.Result) []Comparison {
	out := make([]Comparison, 0, len(results))
	for _, r := range results {
		out = append(out, Comparison{
			RunID:     r.ID,
			Engine:    r.Engine,
			Delivered: r.Delivered,
			Missed:    r.Missed,
			Pending:   r.Pending,
			Overall:   Summarize(r.Samples),
			ByDelay:   ByDelay(r.Samples),
		})
	}
	return out
}

// ByDelay summarizes samples grouped by registered delay, ascending.
func ByDelay(samples []bench.Sample) []DelaySummary {
	groups := make(map[time.Duration][]time.Duration)
	for _, s := range samples {
		groups[s.Expected] = append(groups[s.Expected], s.Measured)
	}

	delays := make([]time.Duration, 0, len(groups))
	for d := range groups {
		delays = append(delays, d)
	}
	slices.Sort(delays)

	out := make([]DelaySummary, len(delays))
	for i, d := range delays {
		out[i] = DelaySummary{Delay: d, Summary: SummarizeDurations(groups[d])}
	}
	return out
}

func meanStdDev(values []time.Duration) (mean, stddev float64) {
	n := float64(len(values))
	for _, v := range values {
		mean += float64(v)
	}
	mean /= n

	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
