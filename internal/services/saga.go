package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SagaStep is one compensable action. Undo may be nil for steps with nothing
// to roll back (typically the last one).
type SagaStep struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// SagaError reports which step failed and whether compensation completed.
type SagaError struct {
	Saga         string
	Step         string
	Err          error
	Compensation []error
}

func (e *SagaError) Error() string {
	msg := fmt.Sprintf("%s: step %q: %v", e.Saga, e.Step, e.Err)
	if len(e.Compensation) > 0 {
		msg += fmt.Sprintf(" (%d compensation failures)", len(e.Compensation))
	}
	return msg
}

func (e *SagaError) Unwrap() error { return e.Err }

// Compensated reports whether every undo ran cleanly.
func (e *SagaError) Compensated() bool { return len(e.Compensation) == 0 }

// RunSaga executes steps in order. When a step fails, the Undo of every
// step that already succeeded runs in reverse order. Undo failures are
// logged at error level and collected on the returned *SagaError; they
// never stop the remaining undos.
func RunSaga(ctx context.Context, name string, steps ...SagaStep) error {
	for i, st := range steps {
		err := st.Do(ctx)
		if err == nil {
			continue
		}
		serr := &SagaError{Saga: name, Step: st.Name, Err: err}
		// Compensation must run even if the caller's context was cancelled.
		undoCtx := context.WithoutCancel(ctx)
		for j := i - 1; j >= 0; j-- {
			u := steps[j]
			if u.Undo == nil {
				continue
			}
			if uerr := u.Undo(undoCtx); uerr != nil {
				log.Error().Err(uerr).
					Str("saga", name).
					Str("step", u.Name).
					Str("cause", err.Error()).
					Msg("saga compensation failed")
				serr.Compensation = append(serr.Compensation, fmt.Errorf("undo %s: %w", u.Name, uerr))
			}
		}
		return serr
	}
	return nil
}
