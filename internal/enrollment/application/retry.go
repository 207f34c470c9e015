package application

import (
	"context"
	"errors"
	"time"

	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// RetryWorkerConfig tunes the failed-submission retry loop.
type RetryWorkerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
}

// RetryWorker drains the failed-submission retry queue out of band. Each pass
// re-runs the final-submission work for pending entries; the user was already
// promised this happens automatically.
type RetryWorker struct {
	orch *Orchestrator
	cfg  RetryWorkerConfig
}

// NewRetryWorker creates the retry worker.
func NewRetryWorker(orch *Orchestrator, cfg RetryWorkerConfig) *RetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &RetryWorker{orch: orch, cfg: cfg}
}

// Run processes the queue on an interval until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	logger.Info(ctx, "Retry worker started",
		"interval", w.cfg.Interval.String(), "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Retry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce runs a single pass over pending entries.
func (w *RetryWorker) ProcessOnce(ctx context.Context) {
	entries, err := w.orch.store.PendingRetries(ctx, w.cfg.BatchSize)
	if err != nil {
		logger.Error(ctx, "Failed to load retry queue", "error", err)
		return
	}
	if w.orch.metrics != nil {
		w.orch.metrics.RetryQueueDepth.Set(float64(len(entries)))
	}
	for _, entry := range entries {
		w.processEntry(ctx, entry)
	}
}

func (w *RetryWorker) processEntry(ctx context.Context, entry *domain.RetryQueueEntry) {
	attempts := entry.Attempts + 1

	sub, err := w.orch.store.GetSubmission(ctx, entry.SubmissionID)
	if err != nil || sub == nil {
		logger.Error(ctx, "Retry entry references missing submission",
			"entry_id", entry.ID, "submission_id", entry.SubmissionID, "error", err)
		w.updateEntry(ctx, entry.ID, domain.RetryStatusExhausted, attempts)
		return
	}
	// A parallel queue entry for the same submission may already have
	// succeeded; append-only queueing makes duplicates normal.
	if sub.Status == domain.SubmissionStatusCompleted {
		w.updateEntry(ctx, entry.ID, domain.RetryStatusResolved, entry.Attempts)
		return
	}

	inst, err := w.orch.instances.Get(ctx, entry.InstanceID)
	if err != nil || inst == nil {
		logger.Error(ctx, "Retry entry references missing instance",
			"entry_id", entry.ID, "instance_id", entry.InstanceID, "error", err)
		w.updateEntry(ctx, entry.ID, domain.RetryStatusExhausted, attempts)
		return
	}

	handler := NewFormHandler()
	result, ferr := w.orch.finalizeEnrollment(ctx, inst, sub, sub.FormData, handler)
	if ferr == nil {
		logger.Info(ctx, "Retry succeeded", "entry_id", entry.ID,
			"submission_id", sub.ID, "confirmation_number", result.ConfirmationNumber)
		w.orch.store.Log(ctx, domain.LogLevelInfo, "Automatic retry succeeded",
			map[string]any{"attempts": attempts}, inst.ID, sub.ID)
		w.updateEntry(ctx, entry.ID, domain.RetryStatusResolved, attempts)
		return
	}

	// A slot-taken outcome cannot be fixed by retrying; the customer has to
	// pick a new time. Clear the stale slot so completion can proceed with
	// schedule_later semantics on the next attempt.
	var uerr *UserFacingError
	if errors.As(ferr, &uerr) && uerr.SlotUnavailable {
		upd := domain.SubmissionUpdate{FormData: domain.FormData{"schedule_date": "", "schedule_time": ""}}
		if err := w.orch.store.UpdateSubmission(ctx, sub.ID, upd); err != nil {
			logger.Error(ctx, "Failed to clear stale slot", "submission_id", sub.ID, "error", err)
		}
		w.updateEntry(ctx, entry.ID, domain.RetryStatusPending, attempts)
		return
	}

	logger.Warn(ctx, "Retry attempt failed", "entry_id", entry.ID,
		"submission_id", sub.ID, "attempt", attempts, "error", ferr)
	status := domain.RetryStatusPending
	if attempts >= w.cfg.MaxAttempts {
		status = domain.RetryStatusExhausted
		w.orch.store.Log(ctx, domain.LogLevelError, "Automatic retry exhausted",
			map[string]any{"attempts": attempts, "error": ferr.Error()}, inst.ID, sub.ID)
	}
	w.updateEntry(ctx, entry.ID, status, attempts)
}

func (w *RetryWorker) updateEntry(ctx context.Context, id uint, status string, attempts int) {
	if err := w.orch.store.UpdateRetryEntry(ctx, id, status, attempts); err != nil {
		logger.Error(ctx, "Failed to update retry entry", "entry_id", id, "error", err)
	}
}
