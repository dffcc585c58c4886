package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cassiomorais/cashier/pkg/saga"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ calls []string }

func (r *recorder) step(name string, err error) func(context.Context) error {
	return func(context.Context) error {
		r.calls = append(r.calls, name)
		return err
	}
}

func TestRun_AllStepsSucceed(t *testing.T) {
	rec := &recorder{}
	s := saga.New("boot", zerolog.Nop()).
		Add("a", rec.step("do-a", nil), rec.step("undo-a", nil)).
		Add("b", rec.step("do-b", nil), nil).
		Add("c", rec.step("do-c", nil), rec.step("undo-c", nil))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"do-a", "do-b", "do-c"}, rec.calls)
	assert.Equal(t, []string{"a", "b", "c"}, s.Completed())
}

func TestRun_FailureUndoesCompletedInReverse(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	s := saga.New("boot", zerolog.Nop()).
		Add("a", rec.step("do-a", nil), rec.step("undo-a", nil)).
		Add("b", rec.step("do-b", nil), rec.step("undo-b", nil)).
		Add("c", rec.step("do-c", boom), rec.step("undo-c", nil)).
		Add("d", rec.step("do-d", nil), nil)

	err := s.Run(context.Background())

	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "c", stepErr.Step)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, stepErr.UndoErr)
	assert.Equal(t, []string{"do-a", "do-b", "do-c", "undo-b", "undo-a"}, rec.calls)
	assert.Empty(t, s.Completed())
}

func TestRun_UndoErrorsAreJoined(t *testing.T) {
	rec := &recorder{}
	undoErr := errors.New("close failed")
	s := saga.New("boot", zerolog.Nop()).
		Add("a", rec.step("do-a", nil), rec.step("undo-a", nil)).
		Add("b", rec.step("do-b", nil), rec.step("undo-b", undoErr)).
		Add("c", rec.step("do-c", errors.New("boom")), nil)

	err := s.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, undoErr)
	assert.Contains(t, err.Error(), "undo also failed")
	assert.Equal(t, []string{"do-a", "do-b", "do-c", "undo-b", "undo-a"}, rec.calls)
}

func TestRun_CancelledContextStopsBeforeNextStep(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	s := saga.New("boot", zerolog.Nop()).
		Add("a", func(context.Context) error {
			rec.calls = append(rec.calls, "do-a")
			cancel()
			return nil
		}, rec.step("undo-a", nil)).
		Add("b", rec.step("do-b", nil), nil)

	err := s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"do-a", "undo-a"}, rec.calls)
}

func TestRollback_AfterSuccessIsIdempotent(t *testing.T) {
	rec := &recorder{}
	s := saga.New("boot", zerolog.Nop()).
		Add("a", rec.step("do-a", nil), rec.step("undo-a", nil)).
		Add("b", rec.step("do-b", nil), rec.step("undo-b", nil))
	require.NoError(t, s.Run(context.Background()))

	require.NoError(t, s.Rollback(context.Background()))
	require.NoError(t, s.Rollback(context.Background()))

	assert.Equal(t, []string{"do-a", "do-b", "undo-b", "undo-a"}, rec.calls)
}

func TestRun_IncrementalSteps(t *testing.T) {
	rec := &recorder{}
	s := saga.New("boot", zerolog.Nop()).Add("a", rec.step("do-a", nil), nil)
	require.NoError(t, s.Run(context.Background()))

	s.Add("b", rec.step("do-b", nil), nil)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"do-a", "do-b"}, rec.calls)
}
