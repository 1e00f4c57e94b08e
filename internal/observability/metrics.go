// Package observability provides the in-memory metrics collector behind
// GET /metrics and the Prometheus instrumentation behind
// GET /metrics/prometheus.
package observability

import (
	"sort"
	"sync"
)

// Counter and gauge names tracked by the collector. Unknown names are
// ignored so a typo in a caller never panics a request.
const (
	MetricRequestsTotal       = "requests_total"
	MetricCacheHits           = "cache_hits"
	MetricCacheMisses         = "cache_misses"
	MetricPIIDetections       = "pii_detections"
	MetricPIIBlocks           = "pii_blocks"
	MetricInjectionDetections = "injection_detections"
	MetricInjectionBlocks     = "injection_blocks"
	MetricRateLimitRejections = "rate_limit_rejections"
	MetricCircuitBreakerTrips = "circuit_breaker_trips"
	MetricActiveRequests      = "active_requests"
	MetricResponseTimeSeconds = "response_time_seconds"
	MetricRequestsByStatus    = "requests_by_status"
	MetricRequestsByEndpoint  = "requests_by_endpoint"

	responseTimeReservoirSize = 1000
)

// Collector is a process-wide metrics sink: counters, gauges, counter
// maps, and a bounded reservoir of response times for percentiles.
// All mutation happens under one lock; percentile math runs on a
// snapshot copy outside it.
type Collector struct {
	mu           sync.Mutex
	counters     map[string]int64
	gauges       map[string]int64
	counterDicts map[string]map[string]int64
	responseTime []float64 // ring buffer, seconds
	rtNext       int
}

// NewCollector returns a collector with all known metrics at zero.
func NewCollector() *Collector {
	c := &Collector{}
	c.init()
	return c
}

func (c *Collector) init() {
	c.counters = map[string]int64{
		MetricRequestsTotal:       0,
		MetricCacheHits:           0,
		MetricCacheMisses:         0,
		MetricPIIDetections:       0,
		MetricPIIBlocks:           0,
		MetricInjectionDetections: 0,
		MetricInjectionBlocks:     0,
		MetricRateLimitRejections: 0,
		MetricCircuitBreakerTrips: 0,
	}
	c.gauges = map[string]int64{
		MetricActiveRequests: 0,
	}
	c.counterDicts = map[string]map[string]int64{
		MetricRequestsByStatus:   {},
		MetricRequestsByEndpoint: {},
	}
	c.responseTime = make([]float64, 0, responseTimeReservoirSize)
	c.rtNext = 0
}

// Increment adds one to a counter or gauge.
func (c *Collector) Increment(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[name]; ok {
		c.counters[name]++
		return
	}
	if _, ok := c.gauges[name]; ok {
		c.gauges[name]++
	}
}

// Decrement subtracts one from a gauge.
func (c *Collector) Decrement(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.gauges[name]; ok {
		c.gauges[name]--
	}
}

// IncrementDict adds one to a key within a counter map, such as
// requests_by_status["200"].
func (c *Collector) IncrementDict(name, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.counterDicts[name]; ok {
		d[key]++
	}
}

// Observe records a response time in seconds. The reservoir keeps the
// most recent responseTimeReservoirSize samples.
func (c *Collector) Observe(name string, seconds float64) {
	if name != MetricResponseTimeSeconds {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responseTime) < responseTimeReservoirSize {
		c.responseTime = append(c.responseTime, seconds)
		return
	}
	c.responseTime[c.rtNext] = seconds
	c.rtNext = (c.rtNext + 1) % responseTimeReservoirSize
}

// Reset clears every metric atomically.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
}

// Snapshot is the JSON shape served by GET /metrics.
type Snapshot struct {
	Requests    RequestStats     `json:"requests"`
	Performance PerformanceStats `json:"performance"`
	Cache       CacheStats       `json:"cache"`
	Security    SecurityStats    `json:"security"`
}

type RequestStats struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByEndpoint map[string]int64 `json:"by_endpoint"`
	Active     int64            `json:"active"`
}

type PerformanceStats struct {
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	P50ResponseTimeMS float64 `json:"p50_response_time_ms"`
	P95ResponseTimeMS float64 `json:"p95_response_time_ms"`
	P99ResponseTimeMS float64 `json:"p99_response_time_ms"`
}

type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type SecurityStats struct {
	PIIDetections       int64 `json:"pii_detections"`
	PIIBlocks           int64 `json:"pii_blocks"`
	InjectionDetections int64 `json:"injection_detections"`
	InjectionBlocks     int64 `json:"injection_blocks"`
	RateLimitRejections int64 `json:"rate_limit_rejections"`
	CircuitBreakerTrips int64 `json:"circuit_breaker_trips"`
}

// Snapshot returns a consistent copy of all metrics with percentiles
// computed from the response-time reservoir.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	active := c.gauges[MetricActiveRequests]
	byStatus := make(map[string]int64, len(c.counterDicts[MetricRequestsByStatus]))
	for k, v := range c.counterDicts[MetricRequestsByStatus] {
		byStatus[k] = v
	}
	byEndpoint := make(map[string]int64, len(c.counterDicts[MetricRequestsByEndpoint]))
	for k, v := range c.counterDicts[MetricRequestsByEndpoint] {
		byEndpoint[k] = v
	}
	times := make([]float64, len(c.responseTime))
	copy(times, c.responseTime)
	c.mu.Unlock()

	perf := PerformanceStats{}
	if len(times) > 0 {
		sort.Float64s(times)
		n := len(times)
		var sum float64
		for _, t := range times {
			sum += t
		}
		perf.AvgResponseTimeMS = roundMS(sum / float64(n))
		perf.P50ResponseTimeMS = roundMS(times[n/2])
		perf.P95ResponseTimeMS = roundMS(times[percentileIndex(n, 0.95)])
		perf.P99ResponseTimeMS = roundMS(times[percentileIndex(n, 0.99)])
	}

	hits := counters[MetricCacheHits]
	misses := counters[MetricCacheMisses]
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Snapshot{
		Requests: RequestStats{
			Total:      counters[MetricRequestsTotal],
			ByStatus:   byStatus,
			ByEndpoint: byEndpoint,
			Active:     active,
		},
		Performance: perf,
		Cache: CacheStats{
			Hits:    hits,
			Misses:  misses,
			HitRate: hitRate,
		},
		Security: SecurityStats{
			PIIDetections:       counters[MetricPIIDetections],
			PIIBlocks:           counters[MetricPIIBlocks],
			InjectionDetections: counters[MetricInjectionDetections],
			InjectionBlocks:     counters[MetricInjectionBlocks],
			RateLimitRejections: counters[MetricRateLimitRejections],
			CircuitBreakerTrips: counters[MetricCircuitBreakerTrips],
		},
	}
}

// Counter returns the current value of a counter. Test helper.
func (c *Collector) Counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Gauge returns the current value of a gauge. Test helper.
func (c *Collector) Gauge(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gauges[name]
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

func roundMS(seconds float64) float64 {
	ms := seconds * 1000
	return float64(int64(ms*10+0.5)) / 10
}
