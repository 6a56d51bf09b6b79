package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/fast-dispatch/core/http"
)

// latencyBounds are the upper bounds of the latency buckets; the last
// bucket is unbounded.
var latencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// PerformanceMonitor aggregates latency and error counts per handler prefix
type PerformanceMonitor struct {
	enabled  atomic.Bool
	handlers sync.Map // map[string]*HandlerMetrics
	global   struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
		totalDuration atomic.Uint64
	}

	log          *zap.Logger
	bottlenecks  []Bottleneck
	bottleneckMu sync.RWMutex
	stop         chan struct{}
	stopOnce     sync.Once
}

// HandlerMetrics stores per-handler metrics
type HandlerMetrics struct {
	Name           string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [len(latencyBounds) + 1]atomic.Uint64
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type       string
	Location   string
	Severity   int
	Impact     float64
	DetectedAt time.Time
	Details    string
}

// NewPerformanceMonitor creates a monitor. When interval is positive a
// background loop re-evaluates bottlenecks and logs new ones.
func NewPerformanceMonitor(log *zap.Logger, interval time.Duration) *PerformanceMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	pm := &PerformanceMonitor{
		log:  log,
		stop: make(chan struct{}),
	}
	pm.enabled.Store(true)
	if interval > 0 {
		go pm.analyzeBottlenecks(interval)
	}
	return pm
}

// SetEnabled turns recording on or off
func (pm *PerformanceMonitor) SetEnabled(on bool) {
	pm.enabled.Store(on)
}

// Stop ends the background analysis loop
func (pm *PerformanceMonitor) Stop() {
	pm.stopOnce.Do(func() { close(pm.stop) })
}

// RecordRequest records a request
func (pm *PerformanceMonitor) RecordRequest(handler string, duration time.Duration, isError bool) {
	if !pm.enabled.Load() {
		return
	}

	val, ok := pm.handlers.Load(handler)
	if !ok {
		val, _ = pm.handlers.LoadOrStore(handler, &HandlerMetrics{Name: handler})
	}
	metrics := val.(*HandlerMetrics)

	metrics.Count.Add(1)
	if isError {
		metrics.Errors.Add(1)
		pm.global.totalErrors.Add(1)
	}

	durationNs := uint64(duration.Nanoseconds())
	metrics.TotalDuration.Add(durationNs)
	updateMinMax(metrics, durationNs)
	metrics.latencyBuckets[bucketFor(duration)].Add(1)

	pm.global.totalRequests.Add(1)
	pm.global.totalDuration.Add(durationNs)
}

func updateMinMax(m *HandlerMetrics, d uint64) {
	for {
		min := m.MinDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if m.MinDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := m.MaxDuration.Load()
		if d <= max {
			break
		}
		if m.MaxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}

func (pm *PerformanceMonitor) analyzeBottlenecks(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
		}
		if !pm.enabled.Load() {
			continue
		}

		bottlenecks := pm.detectBottlenecks()
		for _, b := range bottlenecks {
			pm.log.Warn("bottleneck detected",
				zap.String("type", b.Type),
				zap.String("handler", b.Location),
				zap.Int("severity", b.Severity),
				zap.String("details", b.Details))
		}

		pm.bottleneckMu.Lock()
		pm.bottlenecks = bottlenecks
		pm.bottleneckMu.Unlock()
	}
}

func (pm *PerformanceMonitor) detectBottlenecks() []Bottleneck {
	bottlenecks := make([]Bottleneck, 0)

	pm.handlers.Range(func(key, value any) bool {
		m := value.(*HandlerMetrics)
		count := m.Count.Load()
		if count == 0 {
			return true
		}

		avgDuration := time.Duration(m.TotalDuration.Load() / count)

		// High latency
		if avgDuration > 100*time.Millisecond {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "latency",
				Location:   m.Name,
				Severity:   8,
				Impact:     100.0,
				DetectedAt: time.Now(),
				Details:    fmt.Sprintf("High latency (%v avg)", avgDuration),
			})
		}

		// High error rate
		errors := m.Errors.Load()
		if errors > 0 && float64(errors)/float64(count) > 0.05 {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "errors",
				Location:   m.Name,
				Severity:   10,
				Impact:     float64(errors) / float64(count) * 100,
				DetectedAt: time.Now(),
				Details:    fmt.Sprintf("%.1f%% error rate", float64(errors)/float64(count)*100),
			})
		}

		return true
	})

	return bottlenecks
}

// GetBottlenecks returns the bottlenecks found by the last analysis
func (pm *PerformanceMonitor) GetBottlenecks() []Bottleneck {
	pm.bottleneckMu.RLock()
	defer pm.bottleneckMu.RUnlock()
	return append([]Bottleneck{}, pm.bottlenecks...)
}

// HandlerSnapshot is a point-in-time copy of HandlerMetrics
type HandlerSnapshot struct {
	Name    string        `json:"name"`
	Count   uint64        `json:"count"`
	Errors  uint64        `json:"errors"`
	Avg     time.Duration `json:"avg"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Buckets [10]uint64    `json:"buckets"`
}

// Snapshot returns per-handler metrics sorted by name
func (pm *PerformanceMonitor) Snapshot() []HandlerSnapshot {
	var out []HandlerSnapshot
	pm.handlers.Range(func(key, value any) bool {
		m := value.(*HandlerMetrics)
		s := HandlerSnapshot{
			Name:   m.Name,
			Count:  m.Count.Load(),
			Errors: m.Errors.Load(),
			Min:    time.Duration(m.MinDuration.Load()),
			Max:    time.Duration(m.MaxDuration.Load()),
		}
		if s.Count > 0 {
			s.Avg = time.Duration(m.TotalDuration.Load() / s.Count)
		}
		for i := range m.latencyBuckets {
			s.Buckets[i] = m.latencyBuckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Totals returns the request count, error count and cumulative duration
func (pm *PerformanceMonitor) Totals() (requests, errors uint64, duration time.Duration) {
	return pm.global.totalRequests.Load(),
		pm.global.totalErrors.Load(),
		time.Duration(pm.global.totalDuration.Load())
}

// MonitoringLogger feeds every finished exchange into a monitor before
// passing it on. Responses with a 5xx status count as errors.
type MonitoringLogger struct {
	Monitor *PerformanceMonitor
	Next    http.RequestLogger
}

func (l *MonitoringLogger) Access(ex *http.Exchange, elapsed time.Duration) {
	l.Monitor.RecordRequest(ex.Request().HandlerURI(), elapsed, ex.Status() >= 500)
	if l.Next != nil {
		l.Next.Access(ex, elapsed)
	}
}

func (l *MonitoringLogger) Error(ex *http.Exchange, err error) {
	if l.Next != nil {
		l.Next.Error(ex, err)
	}
}
