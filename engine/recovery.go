package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/generation"
	"github.com/pipeworks-ai/conductor/internal/metrics"
	"github.com/pipeworks-ai/conductor/retry"
	"github.com/pipeworks-ai/conductor/workflow"
)

// RecoveryManager classifies step failures and drives bounded retry for
// transient ones. Fatal failures and exhausted retries append a structured
// error record and move the instance to StatusError.
type RecoveryManager struct {
	retryer retry.Retryer
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewRecoveryManager creates a recovery manager with the given policy.
func NewRecoveryManager(policy *retry.Policy, logger *zap.Logger, collector *metrics.Collector) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	m := &RecoveryManager{
		logger:  logger.With(zap.String("component", "recovery_manager")),
		metrics: collector,
	}
	// Count attempts through the policy callback so callers see retry
	// pressure in metrics without threading the collector into retry.
	wrapped := *policy
	prev := wrapped.OnRetry
	wrapped.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.metrics.RetryAttempted()
		if prev != nil {
			prev(attempt, err, delay)
		}
	}
	m.retryer = retry.NewBackoffRetryer(&wrapped, logger)
	return m
}

// Transient reports whether the failure is worth retrying: provider
// errors marked retryable, or errors explicitly wrapped as retryable.
func (m *RecoveryManager) Transient(err error) bool {
	return generation.IsRetryable(err) || retry.IsRetryableError(err)
}

// Recover handles a failed step. For transient failures it re-drives
// execute with backoff; a successful re-execution returns its result as if
// no failure had occurred. Otherwise it records the error on the instance
// and returns ErrRecoveryExhausted. The caller transitions status.
func (m *RecoveryManager) Recover(ctx context.Context, inst *workflow.Instance, stepErr error, execute func(context.Context) (StepResult, error)) (StepResult, error) {
	attempted := false

	if m.Transient(stepErr) {
		attempted = true
		m.logger.Warn("transient step failure, retrying",
			zap.String("workflow_id", inst.ID),
			zap.Int("step_index", inst.CurrentStep),
			zap.Error(stepErr),
		)

		res, err := m.retryer.DoWithResult(ctx, func() (any, error) {
			result, execErr := execute(ctx)
			if execErr != nil {
				return nil, execErr
			}
			return result, nil
		})
		if err == nil {
			return res.(StepResult), nil
		}
		stepErr = err
	} else {
		m.logger.Error("fatal step failure",
			zap.String("workflow_id", inst.ID),
			zap.Int("step_index", inst.CurrentStep),
			zap.Error(stepErr),
		)
	}

	inst.Errors = append(inst.Errors, workflow.ErrorRecord{
		StepIndex:         inst.CurrentStep,
		Message:           stepErr.Error(),
		RecoveryAttempted: attempted,
		Timestamp:         time.Now(),
	})
	inst.UpdatedAt = time.Now()

	return StepResult{Outcome: OutcomeFailed}, ErrRecoveryExhausted
}
