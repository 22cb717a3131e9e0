package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// DerivedInvalidator сбрасывает производные записи кэша: страницы листинга и поиска.
type DerivedInvalidator interface {
	InvalidateDerived(ctx context.Context) error
}

// invalidatingIndex сбрасывает производные записи кэша после каждого изменения
// индекса. Карточку товара кэш сбрасывает сразу при коммите, а страницы поиска
// читаются из индекса, который догоняет хранилище позже: без повторного сброса
// страница, собранная в этом промежутке, жила бы до TTL.
type invalidatingIndex struct {
	Index
	derived DerivedInvalidator
	logger  *zap.Logger
}

// WithDerivedInvalidation оборачивает индекс. При derived == nil индекс
// возвращается как есть.
func WithDerivedInvalidation(idx Index, derived DerivedInvalidator, logger *zap.Logger) Index {
	if derived == nil {
		return idx
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &invalidatingIndex{Index: idx, derived: derived, logger: logger}
}

func (i *invalidatingIndex) UpsertSearchDocument(ctx context.Context, doc model.SearchDocument) (bool, error) {
	written, err := i.Index.UpsertSearchDocument(ctx, doc)
	if err != nil || !written {
		return written, err
	}
	i.invalidate(ctx, zap.String("product_id", doc.ProductID))
	return true, nil
}

func (i *invalidatingIndex) DeleteSearchDocument(ctx context.Context, productID string, version int64) error {
	if err := i.Index.DeleteSearchDocument(ctx, productID, version); err != nil {
		return err
	}
	i.invalidate(ctx, zap.String("product_id", productID))
	return nil
}

func (i *invalidatingIndex) MarkVanishedDocumentsDeleted(ctx context.Context) (int64, error) {
	n, err := i.Index.MarkVanishedDocumentsDeleted(ctx)
	if err != nil || n == 0 {
		return n, err
	}
	i.invalidate(ctx, zap.Int64("vanished", n))
	return n, nil
}

// invalidate не проваливает запись в индекс: она уже применена, а записи кэша
// в худшем случае истекут по TTL.
func (i *invalidatingIndex) invalidate(ctx context.Context, fields ...zap.Field) {
	if err := i.derived.InvalidateDerived(ctx); err != nil {
		i.logger.Warn("derived cache invalidation failed, entries expire by ttl",
			append(fields, zap.Error(err))...)
	}
}
