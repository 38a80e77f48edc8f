package cache

import (
	"sync"
	"time"
)

// Latency kinds for RecordLatency.
const (
	LatencyQuery  = "query"
	LatencyStore  = "store"
	LatencyRemove = "remove"
)

// maxLatencySamples bounds each latency window; once exceeded the oldest
// half is dropped.
const maxLatencySamples = 10000

// DetailedMetrics collects cache statistics.
type DetailedMetrics struct {
	mu sync.RWMutex

	memoryHits int64
	diskHits   int64
	misses     int64

	evictions      int64
	bytesEvicted   int64
	errors         int64
	decodeFailures int64

	entriesStored  int64
	bytesStored    int64
	bytesRetrieved int64

	queryLatencies  []time.Duration
	storeLatencies  []time.Duration
	removeLatencies []time.Duration

	startTime     time.Time
	lastHitTime   time.Time
	lastMissTime  time.Time
	lastErrorTime time.Time
	lastSweepTime time.Time

	peakHitRate float64
}

// NewDetailedMetrics creates an empty metrics collector.
func NewDetailedMetrics() *DetailedMetrics {
	now := time.Now()
	return &DetailedMetrics{
		startTime:     now,
		lastHitTime:   now,
		lastMissTime:  now,
		lastErrorTime: now,
	}
}

// RecordHit records a hit in tier with the number of bytes served.
func (m *DetailedMetrics) RecordHit(tier Type, bytesServed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tier == Memory {
		m.memoryHits++
	} else {
		m.diskHits++
	}
	m.bytesRetrieved += bytesServed
	m.lastHitTime = time.Now()

	if rate := m.calculateHitRate(); rate > m.peakHitRate {
		m.peakHitRate = rate
	}
}

// RecordMiss records a miss.
func (m *DetailedMetrics) RecordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
	m.lastMissTime = time.Now()
}

// RecordEviction records an entry dropped to honour a limit.
func (m *DetailedMetrics) RecordEviction(bytesEvicted int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions++
	m.bytesEvicted += bytesEvicted
}

// RecordError records a failed read or write.
func (m *DetailedMetrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.lastErrorTime = time.Now()
}

// RecordDecodeFailure records a disk entry that could not be decoded.
func (m *DetailedMetrics) RecordDecodeFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodeFailures++
	m.errors++
	m.lastErrorTime = time.Now()
}

// RecordStore records a successful disk write.
func (m *DetailedMetrics) RecordStore(bytesStored int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entriesStored++
	m.bytesStored += bytesStored
}

// RecordSweep records a disk sweep.
func (m *DetailedMetrics) RecordSweep(removed int, freed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictions += int64(removed)
	m.bytesEvicted += freed
	m.lastSweepTime = time.Now()
}

// RecordLatency records the duration of an operation of the given kind.
func (m *DetailedMetrics) RecordLatency(kind string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case LatencyQuery:
		m.queryLatencies = appendSample(m.queryLatencies, d)
	case LatencyStore:
		m.storeLatencies = appendSample(m.storeLatencies, d)
	case LatencyRemove:
		m.removeLatencies = appendSample(m.removeLatencies, d)
	}
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > maxLatencySamples {
		samples = append(samples[:0:0], samples[len(samples)-maxLatencySamples/2:]...)
	}
	return samples
}

func average(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples))
}

func (m *DetailedMetrics) calculateHitRate() float64 {
	hits := m.memoryHits + m.diskHits
	total := hits + m.misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// GetSnapshot returns a consistent copy of the metrics.
func (m *DetailedMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		MemoryHits:     m.memoryHits,
		DiskHits:       m.diskHits,
		Misses:         m.misses,
		HitRate:        m.calculateHitRate(),
		PeakHitRate:    m.peakHitRate,
		Evictions:      m.evictions,
		BytesEvicted:   m.bytesEvicted,
		Errors:         m.errors,
		DecodeFailures: m.decodeFailures,

		EntriesStored:  m.entriesStored,
		BytesStored:    m.bytesStored,
		BytesRetrieved: m.bytesRetrieved,

		AverageQueryLatency:  average(m.queryLatencies),
		AverageStoreLatency:  average(m.storeLatencies),
		AverageRemoveLatency: average(m.removeLatencies),
		QueryLatencySamples:  len(m.queryLatencies),

		Uptime:            time.Since(m.startTime),
		TimeSinceLastHit:  time.Since(m.lastHitTime),
		TimeSinceLastMiss: time.Since(m.lastMissTime),
		LastSweep:         m.lastSweepTime,
	}
}

// Reset clears every counter.
func (m *DetailedMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.memoryHits, m.diskHits, m.misses = 0, 0, 0
	m.evictions, m.bytesEvicted, m.errors, m.decodeFailures = 0, 0, 0, 0
	m.entriesStored, m.bytesStored, m.bytesRetrieved = 0, 0, 0
	m.queryLatencies = m.queryLatencies[:0]
	m.storeLatencies = m.storeLatencies[:0]
	m.removeLatencies = m.removeLatencies[:0]
	m.startTime, m.lastHitTime, m.lastMissTime, m.lastErrorTime = now, now, now, now
	m.lastSweepTime = time.Time{}
	m.peakHitRate = 0
}

// MetricsSnapshot is a point-in-time view of cache metrics.
type MetricsSnapshot struct {
	MemoryHits     int64   `json:"memory_hits" yaml:"memory_hits"`
	DiskHits       int64   `json:"disk_hits" yaml:"disk_hits"`
	Misses         int64   `json:"misses" yaml:"misses"`
	HitRate        float64 `json:"hit_rate" yaml:"hit_rate"`
	PeakHitRate    float64 `json:"peak_hit_rate" yaml:"peak_hit_rate"`
	Evictions      int64   `json:"evictions" yaml:"evictions"`
	BytesEvicted   int64   `json:"bytes_evicted" yaml:"bytes_evicted"`
	Errors         int64   `json:"errors" yaml:"errors"`
	DecodeFailures int64   `json:"decode_failures" yaml:"decode_failures"`

	EntriesStored  int64 `json:"entries_stored" yaml:"entries_stored"`
	BytesStored    int64 `json:"bytes_stored" yaml:"bytes_stored"`
	BytesRetrieved int64 `json:"bytes_retrieved" yaml:"bytes_retrieved"`

	AverageQueryLatency  time.Duration `json:"avg_query_latency_ns" yaml:"avg_query_latency"`
	AverageStoreLatency  time.Duration `json:"avg_store_latency_ns" yaml:"avg_store_latency"`
	AverageRemoveLatency time.Duration `json:"avg_remove_latency_ns" yaml:"avg_remove_latency"`
	QueryLatencySamples  int           `json:"query_latency_samples" yaml:"query_latency_samples"`

	Uptime            time.Duration `json:"uptime" yaml:"uptime"`
	TimeSinceLastHit  time.Duration `json:"time_since_last_hit" yaml:"time_since_last_hit"`
	TimeSinceLastMiss time.Duration `json:"time_since_last_miss" yaml:"time_since_last_miss"`
	LastSweep         time.Time     `json:"last_sweep" yaml:"last_sweep"`
}

// Hits returns the hits of every tier.
func (s MetricsSnapshot) Hits() int64 {
	return s.MemoryHits + s.DiskHits
}
