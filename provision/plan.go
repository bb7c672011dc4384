package provision

import (
	"fmt"
	"io"
	"log/slog"
)

type step struct {
	description string
	run         func() error
	// undo compensates run. It is owed once run has succeeded.
	undo func() error
	// ignoreErr logs a failed run and moves on to the next step.
	ignoreErr bool
}

type plan struct {
	steps  []*step
	stderr io.Writer
	logger *slog.Logger
}

func (p *Provisioner) newPlan(steps []*step) *plan {
	return &plan{steps: steps, stderr: p.stderr, logger: p.logger}
}

// run executes the steps in order. On the first fatal failure every owed
// compensation runs, most recent first, and the failure is returned. A
// failed compensation is reported and the remaining ones still run.
func (pl *plan) run() error {
	var owed []*step
	for _, s := range pl.steps {
		pl.logger.Debug("running step", "step", s.description)
		if err := s.run(); err != nil {
			if s.ignoreErr {
				fmt.Fprintf(pl.stderr, "Warning: %s: %v\n", s.description, err)
				continue
			}
			pl.rollback(owed)
			return fmt.Errorf("%s: %w", s.description, err)
		}
		if s.undo != nil {
			owed = append(owed, s)
		}
	}
	return nil
}

func (pl *plan) rollback(owed []*step) {
	for i := len(owed) - 1; i >= 0; i-- {
		s := owed[i]
		pl.logger.Debug("rolling back step", "step", s.description)
		if err := s.undo(); err != nil {
			pl.logger.Error("rollback failed", "step", s.description, "error", err)
			fmt.Fprintf(pl.stderr, "Error undoing %s: %v\n", s.description, err)
		}
	}
}
