package metrics

import (
	"math"
	"sort"
	"sync"
)

// Histogram tracks the distribution of values across fixed buckets.
// Thread-safe for concurrent use.
type Histogram struct {
	mu      sync.RWMutex
	buckets []float64 // Upper bounds (inclusive)
	counts  []uint64  // Count per bucket, last is the +Inf overflow
	sum     float64
	count   uint64
	min     float64
	max     float64
}

// NewHistogram creates a histogram with the given bucket boundaries.
func NewHistogram(buckets []float64) *Histogram {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)

	return &Histogram{
		buckets: b,
		counts:  make([]uint64, len(b)+1),
		min:     math.MaxFloat64,
		max:     -math.MaxFloat64,
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[sort.SearchFloat64s(h.buckets, v)]++
	h.sum += v
	h.count++
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
}

// HistogramSummary contains summarized histogram data.
type HistogramSummary struct {
	Count   uint64        `json:"count"`
	Sum     float64       `json:"sum"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	Mean    float64       `json:"mean"`
	Buckets []BucketCount `json:"buckets"`
}

// BucketCount is one cumulative bucket.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary returns a summary of the histogram. Buckets are cumulative and
// end with the +Inf bucket.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return HistogramSummary{Buckets: make([]BucketCount, 0)}
	}

	buckets := make([]BucketCount, len(h.counts))
	var cumulative uint64
	for i, c := range h.counts {
		cumulative += c
		bound := math.Inf(1)
		if i < len(h.buckets) {
			bound = h.buckets[i]
		}
		buckets[i] = BucketCount{UpperBound: bound, Count: cumulative}
	}

	return HistogramSummary{
		Count:   h.count,
		Sum:     h.sum,
		Min:     h.min,
		Max:     h.max,
		Mean:    h.sum / float64(h.count),
		Buckets: buckets,
	}
}

// Cumulative returns the finite buckets in the form Prometheus const
// histograms take: upper bound to cumulative count.
func (s HistogramSummary) Cumulative() map[float64]uint64 {
	out := make(map[float64]uint64, len(s.Buckets))
	for _, b := range s.Buckets {
		if !math.IsInf(b.UpperBound, 1) {
			out[b.UpperBound] = b.Count
		}
	}
	return out
}

// Reset clears all histogram data.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.counts)
	h.sum = 0
	h.count = 0
	h.min = math.MaxFloat64
	h.max = -math.MaxFloat64
}

// Count returns the total number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Mean returns the mean of all observations.
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}
