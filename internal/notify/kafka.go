package notify

import "context"

// Publisher определяет минимальный контракт продюсера сообщений.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// KafkaNotifier публикует уведомления в топик; ключом служит получатель, чтобы
// уведомления одного пользователя шли по порядку.
type KafkaNotifier struct {
	publisher Publisher
}

func NewKafkaNotifier(p Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: p}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	return n.publisher.Publish(ctx, ev.Recipient, ev)
}
