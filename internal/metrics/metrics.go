// Package metrics provides latency histograms for the strategy and
// execution paths, with exact min/mean/p50/p90/p99/max reporting plus a
// Prometheus exposition surface for external scraping.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const sampleCap = 8192

// LatencyStats is an exact-quantile snapshot over the retained samples.
type LatencyStats struct {
	Min  int64
	Mean float64
	P50  int64
	P90  int64
	P99  int64
	Max  int64
}

// latencyHistogram keeps a bounded, ring-buffered set of recent latency
// samples (in microseconds) and computes exact quantiles over them by
// sorting on read. Prometheus histograms are bucket-approximate and
// can't serve an exact-quantile requirement, so one is wired alongside
// as an external exposition, not a replacement.
type latencyHistogram struct {
	mu      sync.Mutex
	samples []int64
	next    int
	filled  bool

	promHist prometheus.Histogram
}

func newLatencyHistogram(promHist prometheus.Histogram) *latencyHistogram {
	return &latencyHistogram{
		samples:  make([]int64, sampleCap),
		promHist: promHist,
	}
}

func (h *latencyHistogram) record(d time.Duration) {
	micros := d.Microseconds()

	h.mu.Lock()
	h.samples[h.next] = micros
	h.next = (h.next + 1) % sampleCap
	if h.next == 0 {
		h.filled = true
	}
	h.mu.Unlock()

	if h.promHist != nil {
		h.promHist.Observe(float64(micros))
	}
}

func (h *latencyHistogram) stats() LatencyStats {
	h.mu.Lock()
	n := sampleCap
	if !h.filled {
		n = h.next
	}
	data := make([]int64, n)
	copy(data, h.samples[:n])
	h.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}

	sort.Slice(data, func(i, j int) bool { return data[i] < data[j] })

	var sum int64
	for _, v := range data {
		sum += v
	}

	quantile := func(q float64) int64 {
		idx := int(q * float64(n-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return data[idx]
	}

	return LatencyStats{
		Min:  data[0],
		Mean: float64(sum) / float64(n),
		P50:  quantile(0.50),
		P90:  quantile(0.90),
		P99:  quantile(0.99),
		Max:  data[n-1],
	}
}

// SystemMetrics holds the two latency paths the pipeline cares about:
// strategy dispatch latency (receive to signal) and execution latency
// (signal to order confirmation).
type SystemMetrics struct {
	strategyLatency  *latencyHistogram
	executionLatency *latencyHistogram

	registry *prometheus.Registry
}

// New constructs a SystemMetrics and registers its Prometheus collectors
// against a dedicated registry (never the global default, so multiple
// instances — e.g. one per backtester run — never collide on metric
// names).
func New() *SystemMetrics {
	reg := prometheus.NewRegistry()

	strategyProm := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "strategy_latency_microseconds",
		Help:    "Strategy dispatch latency in microseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 20),
	})
	executionProm := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "execution_latency_microseconds",
		Help:    "Execution round-trip latency in microseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 20),
	})
	reg.MustRegister(strategyProm, executionProm)

	return &SystemMetrics{
		strategyLatency:  newLatencyHistogram(strategyProm),
		executionLatency: newLatencyHistogram(executionProm),
		registry:         reg,
	}
}

// Registry exposes the Prometheus registry so the HTTP surface can mount
// a /metrics handler over it.
func (m *SystemMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *SystemMetrics) RecordStrategyLatency(d time.Duration)  { m.strategyLatency.record(d) }
func (m *SystemMetrics) RecordExecutionLatency(d time.Duration) { m.executionLatency.record(d) }

func (m *SystemMetrics) StrategyStats() LatencyStats  { return m.strategyLatency.stats() }
func (m *SystemMetrics) ExecutionStats() LatencyStats { return m.executionLatency.stats() }
