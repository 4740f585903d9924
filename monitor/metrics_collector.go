package monitor

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"
	"time"
)

const maxSamples = 100

// SimpleMetricsCollector is an in-memory interceptors.MetricsCollector
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	// keyed by interceptor, then stage
	fired      map[string]map[string]int64
	suppressed map[string]map[string]int64
	failed     map[string]map[string]int64

	callTimes map[string]*TimeStats
}

// TimeStats tracks call timing for one method
type TimeStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	samples []time.Duration
}

// NewSimpleMetricsCollector creates an empty collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	c := &SimpleMetricsCollector{}
	c.Reset()
	return c
}

// IncrementHookCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementHookCount(interceptor, stage string) {
	c.increment(c.fired, interceptor, stage)
}

// IncrementSuppressedCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementSuppressedCount(interceptor, stage string) {
	c.increment(c.suppressed, interceptor, stage)
}

// IncrementFailureCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementFailureCount(interceptor, stage string) {
	c.increment(c.failed, interceptor, stage)
}

func (c *SimpleMetricsCollector) increment(counters map[string]map[string]int64, interceptor, stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counters[interceptor] == nil {
		counters[interceptor] = make(map[string]int64)
	}
	counters[interceptor][stage]++
}

// RecordCallTime implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) RecordCallTime(method string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.callTimes[method]
	if !exists {
		stats = &TimeStats{Min: duration, Max: duration, samples: make([]time.Duration, 0, maxSamples)}
		c.callTimes[method] = stats
	}

	stats.Count++
	stats.Total += duration
	if duration < stats.Min {
		stats.Min = duration
	}
	if duration > stats.Max {
		stats.Max = duration
	}

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// Summary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) Summary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Fired:      copyCounters(c.fired),
		Suppressed: copyCounters(c.suppressed),
		Failed:     copyCounters(c.failed),
		CallTimes:  make(map[string]CallStats, len(c.callTimes)),
	}

	for method, stats := range c.callTimes {
		cs := CallStats{Count: stats.Count, Min: stats.Min, Max: stats.Max}
		if stats.Count > 0 {
			cs.Avg = stats.Total / time.Duration(stats.Count)
		}
		if len(stats.samples) > 0 {
			sorted := append([]time.Duration(nil), stats.samples...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			cs.P50 = percentile(sorted, 0.50)
			cs.P95 = percentile(sorted, 0.95)
			cs.P99 = percentile(sorted, 0.99)
		}
		summary.CallTimes[method] = cs
	}

	return summary
}

func copyCounters(src map[string]map[string]int64) map[string]map[string]int64 {
	dst := make(map[string]map[string]int64, len(src))
	for name, stages := range src {
		dst[name] = make(map[string]int64, len(stages))
		for stage, n := range stages {
			dst[name][stage] = n
		}
	}
	return dst
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	Fired      map[string]map[string]int64 `json:"fired"`
	Suppressed map[string]map[string]int64 `json:"suppressed"`
	Failed     map[string]map[string]int64 `json:"failed"`
	CallTimes  map[string]CallStats        `json:"call_times"`
}

// CallStats represents timing statistics for one method
type CallStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// Total returns the count of a counter family for one interceptor across stages
func Total(counters map[string]map[string]int64, interceptor string) int64 {
	var n int64
	for _, v := range counters[interceptor] {
		n += v
	}
	return n
}

// WriteTable prints the summary as aligned columns
func (s MetricsSummary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	names := make(map[string]bool)
	for _, m := range []map[string]map[string]int64{s.Fired, s.Suppressed, s.Failed} {
		for name := range m {
			names[name] = true
		}
	}
	sortedNames := make([]string, 0, len(names))
	for name := range names {
		sortedNames = append(sortedNames, name)
	}
	sort.Strings(sortedNames)

	fmt.Fprintln(tw, "INTERCEPTOR\tFIRED\tSUPPRESSED\tFAILED")
	for _, name := range sortedNames {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, Total(s.Fired, name), Total(s.Suppressed, name), Total(s.Failed, name))
	}

	methods := make([]string, 0, len(s.CallTimes))
	for m := range s.CallTimes {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	fmt.Fprintln(tw, "\nMETHOD\tCALLS\tAVG\tP95\tMAX")
	for _, m := range methods {
		cs := s.CallTimes[m]
		fmt.Fprintf(tw, "%s\t%d\t%v\t%v\t%v\n", m, cs.Count, cs.Avg, cs.P95, cs.Max)
	}

	return tw.Flush()
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fired = make(map[string]map[string]int64)
	c.suppressed = make(map[string]map[string]int64)
	c.failed = make(map[string]map[string]int64)
	c.callTimes = make(map[string]*TimeStats)
}
