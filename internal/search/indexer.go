package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/messaging"
)

// Indexer читает события синхронизации из Kafka и применяет их к индексу.
type Indexer struct {
	consumer *messaging.Consumer
	index    Index
	logger   *zap.Logger
}

func NewIndexer(consumer *messaging.Consumer, idx Index, logger *zap.Logger) *Indexer {
	return &Indexer{consumer: consumer, index: idx, logger: logger}
}

// Run блокируется до отмены ctx.
func (i *Indexer) Run(ctx context.Context) error {
	i.logger.Info("search indexer started")
	defer i.logger.Info("search indexer stopped")

	return i.consumer.Consume(ctx, i.Handle)
}

// Handle обрабатывает одно сообщение. Неразборчивое сообщение пропускается:
// повторная доставка его не исправит, а пересборка индекса догонит товар.
func (i *Indexer) Handle(ctx context.Context, key, payload []byte) error {
	ev, err := Decode(payload)
	if err != nil {
		i.logger.Error("skip malformed search event", zap.ByteString("key", key), zap.Error(err))
		return nil
	}

	if err := Apply(ctx, i.index, ev); err != nil {
		i.logger.Error("apply search event",
			zap.String("product_id", ev.ProductID),
			zap.String("op", string(ev.Op)),
			zap.Int64("version", ev.Version),
			zap.Error(err),
		)
		return err
	}
	return nil
}
