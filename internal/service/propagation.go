package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/search"
	"github.com/mmeshcher/marketplace-catalog/internal/telemetry"
)

const defaultSyncQueueSize = 1024

// ProductLoader читает актуальное состояние товара из основного хранилища.
type ProductLoader interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
}

// Propagator доводит закоммиченные изменения товаров до кэша и поискового индекса.
type Propagator struct {
	cache   Cache
	loader  ProductLoader
	sink    search.Sink
	queue   chan string
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewPropagator создаёт распространитель изменений. cache и sink могут быть nil.
func NewPropagator(cache Cache, loader ProductLoader, sink search.Sink, queueSize int,
	logger *zap.Logger, metrics *telemetry.Metrics) *Propagator {
	if queueSize <= 0 {
		queueSize = defaultSyncQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		cache:   cache,
		loader:  loader,
		sink:    sink,
		queue:   make(chan string, queueSize),
		logger:  logger,
		metrics: metrics,
	}
}

// Committed вызывается только после коммита. Удаляет записи кэша и ставит товары
// в очередь синхронизации поиска. Очередь не блокирует: при переполнении товар
// пропускается, индекс догонит периодическая пересборка.
func (p *Propagator) Committed(ctx context.Context, productIDs ...string) {
	if p == nil || len(productIDs) == 0 {
		return
	}

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, productIDs...); err != nil {
			p.logger.Warn("cache invalidation failed, entries expire by ttl",
				zap.Strings("product_ids", productIDs), zap.Error(err))
		}
	}

	if p.sink == nil {
		return
	}
	for _, id := range productIDs {
		select {
		case p.queue <- id:
		default:
			p.metrics.SearchSyncDropped(ctx)
			p.logger.Warn("search sync queue is full, product skipped", zap.String("product_id", id))
		}
	}
}

// Run обрабатывает очередь синхронизации до отмены ctx.
func (p *Propagator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-p.queue:
			if err := p.Sync(ctx, id); err != nil {
				p.logger.Warn("search sync failed", zap.String("product_id", id), zap.Error(err))
			}
		}
	}
}

// Sync отправляет в индекс текущее состояние товара или его удаление.
func (p *Propagator) Sync(ctx context.Context, productID string) error {
	if p.sink == nil {
		return nil
	}

	product, err := p.loader.GetProduct(ctx, productID)
	if errors.Is(err, apperr.ErrNotFound) {
		return p.sink.Send(ctx, search.DeleteEvent(productID))
	}
	if err != nil {
		return err
	}
	return p.sink.Send(ctx, search.UpsertEvent(product))
}
