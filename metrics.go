package wavecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems, or use
// PrometheusCollector for a ready-made integration.
type MetricsCollector interface {
	// RecordCompute is called after each background summary computation.
	// samples is the block length, duration the total time taken, err is
	// nil if the summary committed.
	RecordCompute(samples int64, duration time.Duration, err error)

	// RecordMinMax is called after each statistic query.
	// cached reports whether the answer was served from a computed summary
	// or decoded live.
	RecordMinMax(cached bool, duration time.Duration, err error)

	// RecordSave is called after each project save.
	// blocks is the number of records written, pending how many of them
	// had no summary yet.
	RecordSave(blocks, pending int, duration time.Duration, err error)

	// RecordLoad is called after each project load.
	// rescheduled is the number of blocks whose summary had to re-enter
	// the computation queue.
	RecordLoad(blocks, rescheduled int, duration time.Duration, err error)

	// RecordRelease is called after each block release.
	// removed reports whether the release removed a cache file from disk.
	RecordRelease(removed bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCompute(int64, time.Duration, error)    {}
func (NoopMetricsCollector) RecordMinMax(bool, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSave(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordLoad(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordRelease(bool)                           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ComputeCount      atomic.Int64
	ComputeErrors     atomic.Int64
	ComputeSamples    atomic.Int64
	ComputeTotalNanos atomic.Int64
	MinMaxCount       atomic.Int64
	MinMaxCached      atomic.Int64
	MinMaxErrors      atomic.Int64
	MinMaxTotalNanos  atomic.Int64
	SaveCount         atomic.Int64
	SaveErrors        atomic.Int64
	LoadCount         atomic.Int64
	LoadErrors        atomic.Int64
	Rescheduled       atomic.Int64
	ReleaseCount      atomic.Int64
	FilesRemoved      atomic.Int64
}

// RecordCompute implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompute(samples int64, duration time.Duration, err error) {
	b.ComputeCount.Add(1)
	b.ComputeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ComputeErrors.Add(1)
		return
	}
	b.ComputeSamples.Add(samples)
}

// RecordMinMax implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMinMax(cached bool, duration time.Duration, err error) {
	b.MinMaxCount.Add(1)
	b.MinMaxTotalNanos.Add(duration.Nanoseconds())
	if cached {
		b.MinMaxCached.Add(1)
	}
	if err != nil {
		b.MinMaxErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(blocks, pending int, duration time.Duration, err error) {
	b.SaveCount.Add(1)
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(blocks, rescheduled int, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.Rescheduled.Add(int64(rescheduled))
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(removed bool) {
	b.ReleaseCount.Add(1)
	if removed {
		b.FilesRemoved.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ComputeCount:    b.ComputeCount.Load(),
		ComputeErrors:   b.ComputeErrors.Load(),
		ComputeSamples:  b.ComputeSamples.Load(),
		ComputeAvgNanos: b.getAvgComputeNanos(),
		MinMaxCount:     b.MinMaxCount.Load(),
		MinMaxCached:    b.MinMaxCached.Load(),
		MinMaxErrors:    b.MinMaxErrors.Load(),
		MinMaxAvgNanos:  b.getAvgMinMaxNanos(),
		SaveCount:       b.SaveCount.Load(),
		SaveErrors:      b.SaveErrors.Load(),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
		Rescheduled:     b.Rescheduled.Load(),
		ReleaseCount:    b.ReleaseCount.Load(),
		FilesRemoved:    b.FilesRemoved.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgComputeNanos() int64 {
	count := b.ComputeCount.Load()
	if count == 0 {
		return 0
	}
	return b.ComputeTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgMinMaxNanos() int64 {
	count := b.MinMaxCount.Load()
	if count == 0 {
		return 0
	}
	return b.MinMaxTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ComputeCount    int64
	ComputeErrors   int64
	ComputeSamples  int64
	ComputeAvgNanos int64
	MinMaxCount     int64
	MinMaxCached    int64
	MinMaxErrors    int64
	MinMaxAvgNanos  int64
	SaveCount       int64
	SaveErrors      int64
	LoadCount       int64
	LoadErrors      int64
	Rescheduled     int64
	ReleaseCount    int64
	FilesRemoved    int64
}
