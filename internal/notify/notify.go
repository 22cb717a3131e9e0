// Package notify доставляет уведомления о событиях каталога. Доставка идёт по
// принципу «отправил и забыл»: сбой уведомления никогда не откатывает операцию.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType описывает тип уведомления.
type EventType string

const (
	OrderCreated    EventType = "order.created"
	OrderAccepted   EventType = "order.accepted"
	OrderRefused    EventType = "order.refused"
	OrderCancelled  EventType = "order.cancelled"
	DiscountExpired EventType = "discount.expired"
)

// Event описывает уведомление для получателя.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Recipient  string            `json:"recipient"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// NewEvent создаёт уведомление с новым id.
func NewEvent(t EventType, recipient string, data map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Recipient:  recipient,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Notifier доставляет одно уведомление.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher отправляет уведомления в фоне с собственным таймаутом,
// отвязанным от отмены исходного запроса.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. notifier == nil отключает уведомления.
func NewDispatcher(notifier Notifier, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, timeout: timeout, logger: logger}
}

// Send ставит уведомления в отправку и сразу возвращает управление.
func (d *Dispatcher) Send(ctx context.Context, events ...Event) {
	if d == nil || d.notifier == nil || len(events) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, ev := range events {
			d.deliver(base, ev)
		}
	}()
}

func (d *Dispatcher) deliver(base context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(base, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.logger.Warn("notification failed",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.String("recipient", ev.Recipient),
			zap.Error(err),
		)
	}
}

// Wait дожидается уже начатых отправок.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
