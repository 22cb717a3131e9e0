package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// ProductSource постранично отдаёт все товары каталога.
type ProductSource interface {
	ListProductsAfter(ctx context.Context, afterID string, limit int) ([]model.Product, error)
}

// RebuildReport содержит итог пересборки.
type RebuildReport struct {
	Scanned int   `json:"scanned"`
	Written int   `json:"written"`
	Deleted int64 `json:"deleted"`
}

// Rebuilder пересобирает индекс из основного хранилища. Записи идут через ту же
// защиту по версии, поэтому пересборка безопасна параллельно с живыми событиями.
type Rebuilder struct {
	source    ProductSource
	index     Index
	batchSize int
	logger    *zap.Logger
}

func NewRebuilder(source ProductSource, idx Index, batchSize int, logger *zap.Logger) *Rebuilder {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Rebuilder{source: source, index: idx, batchSize: batchSize, logger: logger}
}

// Rebuild обходит все товары и записывает их документы, затем помечает
// удалёнными документы исчезнувших товаров.
func (r *Rebuilder) Rebuild(ctx context.Context) (RebuildReport, error) {
	var (
		report RebuildReport
		after  string
	)

	for {
		products, err := r.source.ListProductsAfter(ctx, after, r.batchSize)
		if err != nil {
			return report, fmt.Errorf("list products: %w", err)
		}

		for i := range products {
			written, err := r.index.UpsertSearchDocument(ctx, model.NewSearchDocument(&products[i]))
			if err != nil {
				return report, fmt.Errorf("upsert document %s: %w", products[i].ID, err)
			}
			report.Scanned++
			if written {
				report.Written++
			}
		}

		if len(products) < r.batchSize {
			break
		}
		after = products[len(products)-1].ID
	}

	deleted, err := r.index.MarkVanishedDocumentsDeleted(ctx)
	if err != nil {
		return report, fmt.Errorf("mark vanished documents: %w", err)
	}
	report.Deleted = deleted

	return report, nil
}

// RunPeriodic запускает пересборку с заданным интервалом до отмены ctx.
func (r *Rebuilder) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := r.Rebuild(ctx)
			if err != nil {
				r.logger.Error("search rebuild failed", zap.Error(err))
				continue
			}
			r.logger.Info("search rebuild finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("written", report.Written),
				zap.Int64("deleted", report.Deleted),
			)
		}
	}
}
