package blockring

import (
	"sync/atomic"
	"time"

	"github.com/avsm/shared-block-ring/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for one Engine.
type Metrics struct {
	PushOps     atomic.Uint64 // Successful Push calls
	PushRetries atomic.Uint64 // Successful pushes that had to wait at least once first
	PushBytes   atomic.Uint64 // Total payload bytes pushed

	ReplayBatches atomic.Uint64 // Drain-loop iterations that processed at least one item
	ItemsApplied  atomic.Uint64 // Total items successfully handled
	ReplayBytes   atomic.Uint64 // Total payload bytes handled

	IOErrors      atomic.Uint64
	ParseErrors   atomic.Uint64
	HandlerErrors atomic.Uint64

	BacklogBytes atomic.Uint64 // Last observed P-C in bytes

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPush records one successful Producer.Push/Advance pair.
func (m *Metrics) RecordPush(bytes uint64, latencyNs uint64, retried bool) {
	m.PushOps.Add(1)
	m.PushBytes.Add(bytes)
	if retried {
		m.PushRetries.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordReplay records one drain-loop batch.
func (m *Metrics) RecordReplay(itemCount int, bytes uint64, latencyNs uint64, success bool) {
	if itemCount > 0 {
		m.ReplayBatches.Add(1)
	}
	if success {
		m.ItemsApplied.Add(uint64(itemCount))
		m.ReplayBytes.Add(bytes)
	}
	m.recordLatency(latencyNs)
}

// RecordBacklog records the current P-C distance in bytes.
func (m *Metrics) RecordBacklog(bytes uint64) {
	m.BacklogBytes.Store(bytes)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop records the stop timestamp for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for
// serialization, e.g. by cmd/ringbench's run subcommand.
type MetricsSnapshot struct {
	PushOps     uint64
	PushRetries uint64
	PushBytes   uint64

	ReplayBatches uint64
	ItemsApplied  uint64
	ReplayBytes   uint64

	IOErrors      uint64
	ParseErrors   uint64
	HandlerErrors uint64

	BacklogBytes uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PushOps:       m.PushOps.Load(),
		PushRetries:   m.PushRetries.Load(),
		PushBytes:     m.PushBytes.Load(),
		ReplayBatches: m.ReplayBatches.Load(),
		ItemsApplied:  m.ItemsApplied.Load(),
		ReplayBytes:   m.ReplayBytes.Load(),
		IOErrors:      m.IOErrors.Load(),
		ParseErrors:   m.ParseErrors.Load(),
		HandlerErrors: m.HandlerErrors.Load(),
		BacklogBytes:  m.BacklogBytes.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}
	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer receives journal events for pluggable metrics collection. It is
// re-exported from interfaces.Observer so callers constructing an Engine
// don't need to import the internal package directly.
type Observer = interfaces.Observer

// NoOpObserver is a no-op Observer, the default when no Observer is supplied
// to Start.
type NoOpObserver struct{}

func (NoOpObserver) ObservePush(uint64, uint64, bool)        {}
func (NoOpObserver) ObserveReplay(int, uint64, uint64, bool) {}
func (NoOpObserver) ObserveBacklog(uint64)                   {}
func (NoOpObserver) ObserveIOError()                         {}
func (NoOpObserver) ObserveParseError()                      {}
func (NoOpObserver) ObserveHandlerError()                    {}

// MetricsObserver implements Observer using the built-in Metrics type.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePush(bytes uint64, latencyNs uint64, retried bool) {
	o.metrics.RecordPush(bytes, latencyNs, retried)
}

func (o *MetricsObserver) ObserveReplay(itemCount int, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordReplay(itemCount, bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveBacklog(bytes uint64) {
	o.metrics.RecordBacklog(bytes)
}

func (o *MetricsObserver) ObserveIOError() {
	o.metrics.IOErrors.Add(1)
}

func (o *MetricsObserver) ObserveParseError() {
	o.metrics.ParseErrors.Add(1)
}

func (o *MetricsObserver) ObserveHandlerError() {
	o.metrics.HandlerErrors.Add(1)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
