// Package saga runs ordered steps and compensates completed ones in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-marketplace/internal/obs"
)

// Step is one unit of work. Execute must be safe to run again after a failed
// attempt; Compensate must undo whatever any earlier attempt left behind.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Orchestrator executes steps sequentially and records every transition in Log.
type Orchestrator struct {
	Steps  []Step
	Log    Repository
	Logger *zerolog.Logger
}

// Run executes the steps for sagaID. When a step fails and compensate is true,
// every step that may have taken effect (including the failed one) is compensated
// in LIFO order. When compensate is false the error is returned for a later retry.
func (o *Orchestrator) Run(ctx context.Context, sagaID, payload string, compensate bool) error {
	if o == nil {
		return errors.New("saga orchestrator not configured")
	}
	logger := obs.LoggerOrNop(o.Logger).With().Str("saga_id", sagaID).Logger()
	o.record(ctx, NewEntry(ctx, sagaID, StatusStarted, "", payload, nil))

	for i, step := range o.Steps {
		logger.Debug().Str("step", step.Name).Msg("executing saga step")
		if err := step.Execute(ctx); err != nil {
			obs.IncSagaStep(step.Name, string(StatusFailed))
			logger.Warn().Err(err).Str("step", step.Name).Bool("compensate", compensate).Msg("saga step failed")
			stepErr := fmt.Errorf("step %s: %w", step.Name, err)
			if !compensate {
				o.record(ctx, NewEntry(ctx, sagaID, StatusFailed, step.Name, "", []string{stepErr.Error()}))
				return stepErr
			}
			errs := []string{stepErr.Error()}
			errs = append(errs, o.rollback(ctx, sagaID, o.Steps[:i+1], logger)...)
			o.record(ctx, NewEntry(ctx, sagaID, StatusFailed, step.Name, "", errs))
			return stepErr
		}
		obs.IncSagaStep(step.Name, string(StatusStepDone))
		o.record(ctx, NewEntry(ctx, sagaID, StatusStepDone, step.Name, "", nil))
	}

	o.record(ctx, NewEntry(ctx, sagaID, StatusCompleted, "", "", nil))
	logger.Info().Msg("saga completed")
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, sagaID string, steps []Step, logger zerolog.Logger) []string {
	var errs []string
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Compensate == nil {
			continue
		}
		o.record(ctx, NewEntry(ctx, sagaID, StatusCompensating, step.Name, "", nil))
		if err := step.Compensate(ctx); err != nil {
			obs.IncSagaStep(step.Name, "COMPENSATION_FAILED")
			logger.Error().Err(err).Str("step", step.Name).Msg("saga compensation failed")
			errs = append(errs, fmt.Sprintf("compensation of %s failed: %v", step.Name, err))
			continue
		}
		obs.IncSagaStep(step.Name, string(StatusCompensating))
	}
	return errs
}

func (o *Orchestrator) record(ctx context.Context, entry *Entry) {
	if o.Log == nil {
		return
	}
	if err := o.Log.Save(ctx, entry); err != nil {
		obs.LoggerOrNop(o.Logger).Error().Err(err).Str("saga_id", entry.SagaID).Msg("save saga log")
	}
}
