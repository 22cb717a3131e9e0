// Package reconciler переводит скидки по жизненному циклу и выравнивает списки
// скидок у товаров. Каждый прогон заново выводит, что нужно изменить, из текущих
// дат и сохранённых статусов, поэтому прерванный прогон продолжится следующим.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/discount"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/notify"
	"github.com/mmeshcher/marketplace-catalog/internal/repository"
	"github.com/mmeshcher/marketplace-catalog/internal/telemetry"
)

const (
	defaultBatchSize  = 100
	defaultRunTimeout = 30 * time.Second
)

// Store определяет операции хранилища, нужные прогону.
type Store interface {
	ListTransitionCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]model.Discount, error)
	AdvanceDiscountStatus(ctx context.Context, id string, from, to model.DiscountStatus) (bool, error)
	ListBucketDrift(ctx context.Context, limit int) ([]repository.BucketDrift, error)
	MoveDiscount(ctx context.Context, discountID string, target model.DiscountStatus, productIDs []string) ([]string, error)
}

// Propagator получает id товаров, изменённых и закоммиченных прогоном.
type Propagator interface {
	Committed(ctx context.Context, productIDs ...string)
}

// Config содержит параметры прогона.
type Config struct {
	BatchSize  int
	RunTimeout time.Duration
}

// Report содержит итог прогона.
type Report struct {
	Transitions int           `json:"transitions"`
	Expired     int           `json:"expired"`
	Moves       int           `json:"moves"`
	Products    []string      `json:"products"`
	Duration    time.Duration `json:"duration"`
}

// Reconciler выполняет прогоны сверки.
type Reconciler struct {
	store      Store
	propagator Propagator
	notifier   *notify.Dispatcher
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	cfg        Config
}

// New создаёт Reconciler. propagator, notifier и metrics могут быть nil.
func New(store Store, propagator Propagator, notifier *notify.Dispatcher, metrics *telemetry.Metrics,
	logger *zap.Logger, cfg Config) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:      store,
		propagator: propagator,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run выполняет один прогон на момент now: переводит статусы скидок вперёд,
// перекладывает скидки в списках товаров и распространяет изменения.
// Ошибка не откатывает уже закоммиченные перемещения.
func (r *Reconciler) Run(ctx context.Context, now time.Time) (Report, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	var report Report
	err := r.advanceStatuses(ctx, now, &report)
	if err == nil {
		err = r.moveDrifted(ctx, &report)
	}

	report.Duration = time.Since(started)
	r.metrics.ReconcileRun(ctx, report.Transitions, report.Moves, report.Duration.Seconds())

	fields := []zap.Field{
		zap.Time("now", now),
		zap.Int("transitions", report.Transitions),
		zap.Int("moves", report.Moves),
		zap.Duration("duration", report.Duration),
	}
	if err != nil {
		r.logger.Warn("reconcile run stopped early", append(fields, zap.Error(err))...)
		return report, err
	}
	if report.Transitions > 0 || report.Moves > 0 {
		r.logger.Info("reconcile run finished", fields...)
	}
	return report, nil
}

// advanceStatuses постранично обходит скидки с отставшим статусом и переводит их
// вперёд сравнением с прежним статусом.
func (r *Reconciler) advanceStatuses(ctx context.Context, now time.Time, report *Report) error {
	afterID := ""
	for {
		page, err := r.store.ListTransitionCandidates(ctx, now, afterID, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list transition candidates: %w", err)
		}

		var expired []notify.Event
		for i := range page {
			d := &page[i]
			next, ok := discount.Advance(d, now)
			if !ok {
				continue
			}

			advanced, err := r.store.AdvanceDiscountStatus(ctx, d.ID, d.Status, next)
			if err != nil {
				return fmt.Errorf("advance discount %s: %w", d.ID, err)
			}
			if !advanced {
				continue
			}

			report.Transitions++
			if next == model.DiscountExpired {
				report.Expired++
				expired = append(expired, notify.NewEvent(notify.DiscountExpired, d.SellerID, map[string]string{
					"discount_id": d.ID,
					"code":        d.Code,
				}))
			}
		}
		r.notifier.Send(ctx, expired...)

		if len(page) < r.cfg.BatchSize {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}

type driftKey struct {
	discountID string
	status     model.DiscountStatus
}

// moveDrifted перекладывает скидки, лежащие в списке раньше своего статуса.
// Каждая пачка коммитится и распространяется сразу.
func (r *Reconciler) moveDrifted(ctx context.Context, report *Report) error {
	for {
		drift, err := r.store.ListBucketDrift(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list bucket drift: %w", err)
		}
		if len(drift) == 0 {
			return nil
		}

		var order []driftKey
		groups := make(map[driftKey][]string)
		for _, d := range drift {
			k := driftKey{discountID: d.DiscountID, status: d.Status}
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], d.ProductID)
		}

		progress := 0
		for _, k := range order {
			moved, err := r.store.MoveDiscount(ctx, k.discountID, k.status, groups[k])
			if err != nil {
				return fmt.Errorf("move discount %s to %s: %w", k.discountID, k.status, err)
			}
			if len(moved) == 0 {
				continue
			}

			progress += len(moved)
			report.Moves += len(moved)
			report.Products = appendUnique(report.Products, moved...)
			if r.propagator != nil {
				r.propagator.Committed(context.WithoutCancel(ctx), moved...)
			}
		}

		if progress == 0 || len(drift) < r.cfg.BatchSize {
			return nil
		}
	}
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, d := range dst {
			if d == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
