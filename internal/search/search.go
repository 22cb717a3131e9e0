// Package search поддерживает поисковый индекс каталога: события синхронизации,
// их применение с защитой по версии и полную пересборку индекса.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// Op описывает вид изменения документа.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event описывает сообщение синхронизации индекса для одного товара.
type Event struct {
	Op        Op                    `json:"op"`
	ProductID string                `json:"product_id"`
	Version   int64                 `json:"version"`
	Document  *model.SearchDocument `json:"document,omitempty"`
}

// UpsertEvent строит событие записи документа товара.
func UpsertEvent(p *model.Product) Event {
	doc := model.NewSearchDocument(p)
	return Event{Op: OpUpsert, ProductID: p.ID, Version: p.Version, Document: &doc}
}

// DeleteEvent строит событие удаления документа.
func DeleteEvent(productID string) Event {
	return Event{Op: OpDelete, ProductID: productID}
}

// Index определяет хранилище поисковых документов.
type Index interface {
	UpsertSearchDocument(ctx context.Context, doc model.SearchDocument) (bool, error)
	DeleteSearchDocument(ctx context.Context, productID string, version int64) error
	MarkVanishedDocumentsDeleted(ctx context.Context) (int64, error)
	SearchDocuments(ctx context.Context, query string, limit, offset int) ([]model.SearchDocument, error)
}

// Apply применяет событие к индексу. Повторные и запоздавшие события
// отбрасываются защитой по версии внутри индекса.
func Apply(ctx context.Context, idx Index, ev Event) error {
	switch ev.Op {
	case OpUpsert:
		if ev.Document == nil {
			return fmt.Errorf("upsert event for %s has no document", ev.ProductID)
		}
		_, err := idx.UpsertSearchDocument(ctx, *ev.Document)
		return err
	case OpDelete:
		return idx.DeleteSearchDocument(ctx, ev.ProductID, ev.Version)
	}
	return fmt.Errorf("unknown search event op %q", ev.Op)
}

// Decode разбирает сообщение из топика синхронизации.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode search event: %w", err)
	}
	return ev, nil
}
