package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = time.Minute

// Scheduler вызывает Reconciler.Run по таймеру.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewScheduler создаёт планировщик прогонов.
func NewScheduler(r *Reconciler, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{reconciler: r, interval: interval, now: time.Now, logger: logger}
}

// Run выполняет прогон сразу и затем на каждом тике до отмены ctx.
// Ошибки прогона журналируются; следующий тик продолжит с оставшегося.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.reconciler.Run(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("reconcile run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
