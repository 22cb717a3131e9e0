package search

import "context"

// Sink доставляет события синхронизации до индекса.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Publisher определяет минимальный контракт продюсера сообщений.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// KafkaSink публикует события в топик; ключом служит id товара, поэтому события
// одного товара попадают в одну партицию.
type KafkaSink struct {
	publisher Publisher
}

func NewKafkaSink(p Publisher) *KafkaSink {
	return &KafkaSink{publisher: p}
}

func (s *KafkaSink) Send(ctx context.Context, ev Event) error {
	return s.publisher.Publish(ctx, ev.ProductID, ev)
}

// DirectSink применяет события к индексу сразу, без брокера.
type DirectSink struct {
	index Index
}

func NewDirectSink(idx Index) *DirectSink {
	return &DirectSink{index: idx}
}

func (s *DirectSink) Send(ctx context.Context, ev Event) error {
	return Apply(ctx, s.index, ev)
}
