package simidx

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives timing and outcome information for store
// operations. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordUpsert records an item upsert with its duration and outcome.
	RecordUpsert(duration time.Duration, err error)

	// RecordDelete records an item deletion with its duration and outcome.
	RecordDelete(duration time.Duration, err error)

	// RecordSearch records a similarity search with its duration and outcome.
	RecordSearch(duration time.Duration, err error)

	// RecordRebuild records an index rebuild with its duration and outcome.
	RecordRebuild(duration time.Duration, err error)

	// RecordBackup records a catalog backup with its duration and outcome.
	RecordBackup(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics. It is the default collector.
type NoopMetricsCollector struct{}

// RecordUpsert implements MetricsCollector.
func (NoopMetricsCollector) RecordUpsert(duration time.Duration, err error) {}

// RecordDelete implements MetricsCollector.
func (NoopMetricsCollector) RecordDelete(duration time.Duration, err error) {}

// RecordSearch implements MetricsCollector.
func (NoopMetricsCollector) RecordSearch(duration time.Duration, err error) {}

// RecordRebuild implements MetricsCollector.
func (NoopMetricsCollector) RecordRebuild(duration time.Duration, err error) {}

// RecordBackup implements MetricsCollector.
func (NoopMetricsCollector) RecordBackup(duration time.Duration, err error) {}

// BasicMetricsCollector counts operations, errors, and cumulative latency
// using atomic counters. It is safe for concurrent use.
type BasicMetricsCollector struct {
	upsertCount      atomic.Int64
	upsertErrors     atomic.Int64
	upsertTotalNanos atomic.Int64

	deleteCount      atomic.Int64
	deleteErrors     atomic.Int64
	deleteTotalNanos atomic.Int64

	searchCount      atomic.Int64
	searchErrors     atomic.Int64
	searchTotalNanos atomic.Int64

	rebuildCount      atomic.Int64
	rebuildErrors     atomic.Int64
	rebuildTotalNanos atomic.Int64

	backupCount      atomic.Int64
	backupErrors     atomic.Int64
	backupTotalNanos atomic.Int64
}

// NewBasicMetricsCollector creates a collector with all counters at zero.
func NewBasicMetricsCollector() *BasicMetricsCollector {
	return &BasicMetricsCollector{}
}

// RecordUpsert implements MetricsCollector.
func (m *BasicMetricsCollector) RecordUpsert(duration time.Duration, err error) {
	m.upsertCount.Add(1)
	m.upsertTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.upsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (m *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	m.deleteCount.Add(1)
	m.deleteTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.deleteErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (m *BasicMetricsCollector) RecordSearch(duration time.Duration, err error) {
	m.searchCount.Add(1)
	m.searchTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.searchErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (m *BasicMetricsCollector) RecordRebuild(duration time.Duration, err error) {
	m.rebuildCount.Add(1)
	m.rebuildTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.rebuildErrors.Add(1)
	}
}

// RecordBackup implements MetricsCollector.
func (m *BasicMetricsCollector) RecordBackup(duration time.Duration, err error) {
	m.backupCount.Add(1)
	m.backupTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.backupErrors.Add(1)
	}
}

// GetStats returns a consistent snapshot of the collected metrics.
func (m *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpsertCount:      m.upsertCount.Load(),
		UpsertErrors:     m.upsertErrors.Load(),
		AvgUpsertLatency: avgLatency(m.upsertTotalNanos.Load(), m.upsertCount.Load()),

		DeleteCount:      m.deleteCount.Load(),
		DeleteErrors:     m.deleteErrors.Load(),
		AvgDeleteLatency: avgLatency(m.deleteTotalNanos.Load(), m.deleteCount.Load()),

		SearchCount:      m.searchCount.Load(),
		SearchErrors:     m.searchErrors.Load(),
		AvgSearchLatency: avgLatency(m.searchTotalNanos.Load(), m.searchCount.Load()),

		RebuildCount: m.rebuildCount.Load(),
		BackupCount:  m.backupCount.Load(),
		BackupErrors: m.backupErrors.Load(),
	}
}

// BasicMetricsStats is a point-in-time snapshot of a BasicMetricsCollector.
type BasicMetricsStats struct {
	UpsertCount      int64
	UpsertErrors     int64
	AvgUpsertLatency time.Duration

	DeleteCount      int64
	DeleteErrors     int64
	AvgDeleteLatency time.Duration

	SearchCount      int64
	SearchErrors     int64
	AvgSearchLatency time.Duration

	RebuildCount int64
	BackupCount  int64
	BackupErrors int64
}

func avgLatency(totalNanos, count int64) time.Duration {
	if count == 0 {
		return 0
	}

	return time.Duration(totalNanos / count)
}
