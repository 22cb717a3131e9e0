// Package saga выполняет последовательность шагов над разными записями с
// компенсацией уже выполненных шагов в обратном порядке при сбое.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
)

const compensateTimeout = 5 * time.Second

// Step описывает шаг саги. Undo вызывается, только если Do завершился успешно.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Saga описывает именованную операцию с полями для журнала.
type Saga struct {
	op     string
	fields []string
	steps  []Step
	logger *zap.Logger
}

// New создаёт сагу операции op. В fields передаются пары ключ/значение с id сущностей.
func New(op string, logger *zap.Logger, fields ...string) *Saga {
	return &Saga{op: op, fields: fields, logger: logger}
}

// Step добавляет шаг.
func (s *Saga) Step(name string, do, undo func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Do: do, Undo: undo})
	return s
}

// Run выполняет шаги по порядку. При ошибке шага откатывает выполненные шаги
// и возвращает исходную ошибку. Если откат не удался, возвращает
// apperr.Consistency: записи остались расходящимися.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		err := step.Do(ctx)
		if err == nil {
			continue
		}

		cerr := s.compensate(ctx, i)
		if cerr == nil {
			return err
		}

		cons := apperr.Consistency(s.op, errors.Join(err, cerr), s.fields...)
		s.logger.Error("saga compensation failed",
			zap.String("op", s.op),
			zap.String("failed_step", step.Name),
			zap.Any("entities", cons.Fields),
			zap.Error(errors.Join(err, cerr)),
		)
		return cons
	}
	return nil
}

// compensate откатывает шаги [0, failed) в обратном порядке. Отмена исходного
// запроса не должна прерывать откат, поэтому контекст отвязан.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(cctx); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
