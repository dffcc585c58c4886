// Package saga runs named setup steps in order and undoes the completed ones in
// reverse, either because a later step failed or because the owner is shutting down.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Step pairs an action with the action that reverses it. Undo may be nil.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// StepError reports the step that failed and any error raised while undoing the steps before it.
type StepError struct {
	Saga    string
	Step    string
	Err     error
	UndoErr error
}

func (e *StepError) Error() string {
	if e.UndoErr != nil {
		return fmt.Sprintf("%s: step %q failed: %v (undo also failed: %v)", e.Saga, e.Step, e.Err, e.UndoErr)
	}
	return fmt.Sprintf("%s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.UndoErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.UndoErr}
}

// Saga is not safe for concurrent use.
type Saga struct {
	name   string
	steps  []Step
	done   []int
	logger zerolog.Logger
}

func New(name string, logger zerolog.Logger) *Saga {
	return &Saga{name: name, logger: logger}
}

func (s *Saga) Add(name string, do, undo func(ctx context.Context) error) *Saga {
	s.steps = append(s.steps, Step{Name: name, Do: do, Undo: undo})
	return s
}

// Run executes every step not yet run. On the first failure it undoes the
// completed steps and returns a *StepError. A cancelled ctx fails the next step.
func (s *Saga) Run(ctx context.Context) error {
	for i := len(s.done); i < len(s.steps); i++ {
		step := s.steps[i]
		err := ctx.Err()
		if err == nil {
			err = step.Do(ctx)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("saga", s.name).Str("step", step.Name).Msg("Step failed, undoing completed steps")
			return &StepError{
				Saga:    s.name,
				Step:    step.Name,
				Err:     err,
				UndoErr: s.Rollback(context.WithoutCancel(ctx)),
			}
		}
		s.done = append(s.done, i)
		s.logger.Debug().Str("saga", s.name).Str("step", step.Name).Msg("Step completed")
	}
	return nil
}

// Rollback undoes completed steps newest first and forgets them, so a second call is a no-op.
// Undo errors do not stop the remaining undos.
func (s *Saga) Rollback(ctx context.Context) error {
	var errs []error
	for i := len(s.done) - 1; i >= 0; i-- {
		step := s.steps[s.done[i]]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			s.logger.Warn().Err(err).Str("saga", s.name).Str("step", step.Name).Msg("Undo failed")
			errs = append(errs, fmt.Errorf("undo %q: %w", step.Name, err))
		}
	}
	s.done = s.done[:0]
	s.steps = s.steps[:0]
	return errors.Join(errs...)
}

// Completed lists the names of steps that ran and have not been undone.
func (s *Saga) Completed() []string {
	out := make([]string, 0, len(s.done))
	for _, i := range s.done {
		out = append(out, s.steps[i].Name)
	}
	return out
}
