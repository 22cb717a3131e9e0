package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
)

func TestRunAllStepsSucceed(t *testing.T) {
	var trace []string
	s := New("apply", zap.NewNop()).
		Step("a", func(context.Context) error { trace = append(trace, "do a"); return nil },
			func(context.Context) error { trace = append(trace, "undo a"); return nil }).
		Step("b", func(context.Context) error { trace = append(trace, "do b"); return nil }, nil)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"do a", "do b"}, trace)
}

func TestRunCompensatesInReverse(t *testing.T) {
	boom := errors.New("boom")
	var trace []string

	s := New("apply", zap.NewNop()).
		Step("a", func(context.Context) error { trace = append(trace, "do a"); return nil },
			func(context.Context) error { trace = append(trace, "undo a"); return nil }).
		Step("b", func(context.Context) error { trace = append(trace, "do b"); return nil },
			func(context.Context) error { trace = append(trace, "undo b"); return nil }).
		Step("c", func(context.Context) error { return boom },
			func(context.Context) error { trace = append(trace, "undo c"); return nil })

	err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, apperr.ErrConsistency)
	assert.Equal(t, []string{"do a", "do b", "undo b", "undo a"}, trace)
}

func TestRunReportsConsistencyWhenUndoFails(t *testing.T) {
	boom := errors.New("catalog write failed")
	undoErr := errors.New("registry unavailable")

	s := New("apply_discount", zap.NewNop(), "discount_id", "d1", "product_id", "p1").
		Step("attach", func(context.Context) error { return nil },
			func(context.Context) error { return undoErr }).
		Step("place", func(context.Context) error { return boom }, nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, apperr.ErrConsistency)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, undoErr)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "d1", appErr.Fields["discount_id"])
	assert.Equal(t, "p1", appErr.Fields["product_id"])
}

func TestCompensationSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	undone := false

	s := New("apply", zap.NewNop()).
		Step("a", func(context.Context) error { return nil },
			func(ctx context.Context) error { undone = ctx.Err() == nil; return nil }).
		Step("b", func(context.Context) error { cancel(); return context.Canceled }, nil)

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, undone)
}
