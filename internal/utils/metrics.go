// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter metric, updated atomically
type Counter struct {
	name  string
	value int64
}

// Gauge metric, updated atomically
type Gauge struct {
	name  string
	value int64
}

// Histogram tracks count, sum, min and max
type Histogram struct {
	name  string
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

func (m *MetricsCollector) counter(name string) *Counter {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()
	if exists {
		return counter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock
	if counter, exists = m.counters[name]; !exists {
		counter = &Counter{name: name}
		m.counters[name] = counter
	}
	return counter
}

func (m *MetricsCollector) gauge(name string) *Gauge {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()
	if exists {
		return gauge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gauge, exists = m.gauges[name]; !exists {
		gauge = &Gauge{name: name}
		m.gauges[name] = gauge
	}
	return gauge
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counter(name).value, 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(&m.counter(name).value, value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(&m.gauge(name).value, value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&gauge.value)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&counter.value)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{name: name, min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(&counter.value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, gauge := range m.gauges {
		gauges[name] = atomic.LoadInt64(&gauge.value)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// EngineMetrics records narrative engine events
type EngineMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewEngineMetrics creates engine metrics on top of a collector (global when nil)
func NewEngineMetrics(collector *MetricsCollector, logger *Logger) *EngineMetrics {
	if collector == nil {
		collector = GetMetricsCollector()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &EngineMetrics{metrics: collector, logger: logger}
}

// Collector exposes the underlying collector
func (em *EngineMetrics) Collector() *MetricsCollector {
	return em.metrics
}

// RecordIntent counts a presentation intent and whether it was accepted
func (em *EngineMetrics) RecordIntent(kind string, accepted bool) {
	em.metrics.IncrementCounter("intents_total")
	em.metrics.IncrementCounter("intents_" + kind)
	if !accepted {
		em.metrics.IncrementCounter("intents_rejected_" + kind)
	}
}

// RecordTransition counts a node entry
func (em *EngineMetrics) RecordTransition(sceneID string, found bool) {
	em.metrics.IncrementCounter("transitions_total")
	if !found {
		em.metrics.IncrementCounter("transitions_not_found")
		em.logger.Warn("navigation target not in catalog", map[string]interface{}{
			"scene_id": sceneID,
		})
	}
}

// RecordStaleTimer counts a discarded timer firing
func (em *EngineMetrics) RecordStaleTimer() {
	em.metrics.IncrementCounter("timers_stale_discarded")
}

// RecordDroppedDirective counts a malformed or rejected directive
func (em *EngineMetrics) RecordDroppedDirective() {
	em.metrics.IncrementCounter("directives_dropped")
}

// RecordSave records a save attempt
func (em *EngineMetrics) RecordSave(duration time.Duration, err error) {
	em.metrics.IncrementCounter("saves_total")
	em.metrics.RecordHistogram("save_duration_ms", duration.Milliseconds())
	if err != nil {
		em.metrics.IncrementCounter("saves_failed")
	}
}

// RecordAPIRequest records metrics for an API request
func (em *EngineMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	em.metrics.IncrementCounter("api_requests_total")
	em.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	em.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	em.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")

	em.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// StartMetricsCollection periodically logs a metrics summary until ctx is done
func (em *EngineMetrics) StartMetricsCollection(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				em.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": em.metrics.GetMetrics(),
				})
			}
		}
	}()
}
