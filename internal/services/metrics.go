package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/bionicotaku/lingo-services-ingest/internal/services"

// Metrics 汇总流水线的 OpenTelemetry 指标。
type Metrics struct {
	chunksReceived     metric.Int64Counter
	chunkBytes         metric.Int64Counter
	reassemblies       metric.Int64Counter
	reassembledBytes   metric.Int64Counter
	reassemblyDuration metric.Float64Histogram
	dispatches         metric.Int64Counter
	cleanupFailures    metric.Int64Counter
}

// NewMetrics 在给定 MeterProvider 上创建指标，mp 为 nil 时使用全局 provider。
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.chunksReceived, err = meter.Int64Counter("ingest_chunks_received_total",
		metric.WithDescription("Chunks accepted and written to temp storage.")); err != nil {
		return nil, err
	}
	if m.chunkBytes, err = meter.Int64Counter("ingest_chunk_bytes_total",
		metric.WithDescription("Bytes of accepted chunks."), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.reassemblies, err = meter.Int64Counter("ingest_reassemblies_total",
		metric.WithDescription("Reassembly attempts by result.")); err != nil {
		return nil, err
	}
	if m.reassembledBytes, err = meter.Int64Counter("ingest_reassembled_bytes_total",
		metric.WithDescription("Bytes published to original/."), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.reassemblyDuration, err = meter.Float64Histogram("ingest_reassembly_duration_seconds",
		metric.WithDescription("Wall time of a reassembly run."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.dispatches, err = meter.Int64Counter("ingest_transcode_dispatches_total",
		metric.WithDescription("Transcode dispatches by result.")); err != nil {
		return nil, err
	}
	if m.cleanupFailures, err = meter.Int64Counter("ingest_cleanup_failures_total",
		metric.WithDescription("Chunk cleanup runs that left objects behind.")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewNoopMetrics 返回不记录任何数据的指标集合。
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) chunkReceived(ctx context.Context, size int64) {
	if m == nil {
		return
	}
	m.chunksReceived.Add(ctx, 1)
	m.chunkBytes.Add(ctx, size)
}

func (m *Metrics) reassembled(ctx context.Context, result string, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.reassemblies.Add(ctx, 1, attrs)
	if bytes > 0 {
		m.reassembledBytes.Add(ctx, bytes)
	}
	m.reassemblyDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) dispatched(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) cleanupFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.cleanupFailures.Add(ctx, 1)
}
