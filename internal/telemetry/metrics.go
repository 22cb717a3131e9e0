package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics содержит инструменты метрик ядра каталога.
type Metrics struct {
	ordersCreated        metric.Int64Counter
	insufficientStock    metric.Int64Counter
	reconcileTransitions metric.Int64Counter
	reconcileMoves       metric.Int64Counter
	reconcileDuration    metric.Float64Histogram
	cacheLookups         metric.Int64Counter
	searchSyncDropped    metric.Int64Counter
	consistencyFailures  metric.Int64Counter
}

// NewMetrics создаёт инструменты на переданном meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.ordersCreated, err = meter.Int64Counter("catalog.orders.created",
		metric.WithDescription("Order lines committed")); err != nil {
		return nil, fmt.Errorf("orders created counter: %w", err)
	}
	if m.insufficientStock, err = meter.Int64Counter("catalog.orders.insufficient_stock",
		metric.WithDescription("Orders rejected for insufficient stock")); err != nil {
		return nil, fmt.Errorf("insufficient stock counter: %w", err)
	}
	if m.reconcileTransitions, err = meter.Int64Counter("catalog.reconciler.transitions",
		metric.WithDescription("Discount status transitions written")); err != nil {
		return nil, fmt.Errorf("reconciler transitions counter: %w", err)
	}
	if m.reconcileMoves, err = meter.Int64Counter("catalog.reconciler.bucket_moves",
		metric.WithDescription("Product bucket moves written")); err != nil {
		return nil, fmt.Errorf("reconciler moves counter: %w", err)
	}
	if m.reconcileDuration, err = meter.Float64Histogram("catalog.reconciler.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Reconciler run duration")); err != nil {
		return nil, fmt.Errorf("reconciler duration histogram: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("catalog.cache.lookups",
		metric.WithDescription("Cache lookups by result")); err != nil {
		return nil, fmt.Errorf("cache lookups counter: %w", err)
	}
	if m.searchSyncDropped, err = meter.Int64Counter("catalog.search.sync_dropped",
		metric.WithDescription("Search sync requests dropped on a full queue")); err != nil {
		return nil, fmt.Errorf("search sync dropped counter: %w", err)
	}
	if m.consistencyFailures, err = meter.Int64Counter("catalog.consistency.failures",
		metric.WithDescription("Failed compensations that need reconciliation")); err != nil {
		return nil, fmt.Errorf("consistency failures counter: %w", err)
	}

	return &m, nil
}

// Методы допускают nil-получатель, чтобы метрики были необязательной зависимостью.

func (m *Metrics) OrderCreated(ctx context.Context, lines int) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, int64(lines))
}

func (m *Metrics) InsufficientStock(ctx context.Context) {
	if m == nil {
		return
	}
	m.insufficientStock.Add(ctx, 1)
}

func (m *Metrics) ReconcileRun(ctx context.Context, transitions, moves int, seconds float64) {
	if m == nil {
		return
	}
	m.reconcileTransitions.Add(ctx, int64(transitions))
	m.reconcileMoves.Add(ctx, int64(moves))
	m.reconcileDuration.Record(ctx, seconds)
}

func (m *Metrics) CacheLookup(ctx context.Context, kind string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("hit", hit),
	))
}

func (m *Metrics) SearchSyncDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.searchSyncDropped.Add(ctx, 1)
}

func (m *Metrics) ConsistencyFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.consistencyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
