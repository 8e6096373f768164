package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expenseflow/expenseflow/internal/notification"
	"github.com/expenseflow/expenseflow/internal/repository"
	"go.uber.org/zap"
)

// EscalationWorkerConfig holds configuration for the escalation worker.
type EscalationWorkerConfig struct {
	ScanInterval time.Duration
	BatchSize    int
}

// DefaultEscalationWorkerConfig returns default configuration.
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{
		ScanInterval: 15 * time.Minute,
		BatchSize:    50,
	}
}

// EscalationWorker periodically scans for pending approval entries older
// than their rule's escalation window. Entries with an escalation target
// are reassigned to it; entries without one get a reminder to the current
// holder. Both paths use the same still-pending conditional updates as
// approver actions, so an escalation cleanly loses a race against a
// concurrent decision.
type EscalationWorker struct {
	config EscalationWorkerConfig
	repo   *repository.EscalationRepository
	sink   notification.Sink
	logger *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
}

// NewEscalationWorker creates a new escalation worker.
func NewEscalationWorker(
	config EscalationWorkerConfig,
	repo *repository.EscalationRepository,
	sink notification.Sink,
	logger *zap.Logger,
) *EscalationWorker {
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultEscalationWorkerConfig().ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultEscalationWorkerConfig().BatchSize
	}
	return &EscalationWorker{
		config: config,
		repo:   repo,
		sink:   sink,
		logger: logger,
	}
}

// Name returns the worker name.
func (w *EscalationWorker) Name() string {
	return "escalation_worker"
}

// Start launches the scan loop.
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("escalation worker already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	go w.run(ctx)

	w.logger.Info("Escalation worker started",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize))
	return nil
}

// Stop signals the loop to exit and waits for it.
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("Escalation worker stopped")
	return nil
}

func (w *EscalationWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one escalation pass. Exported so a scan can be triggered
// outside the ticker.
func (w *EscalationWorker) ScanOnce(ctx context.Context) {
	overdue, err := w.repo.ListOverdue(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("Escalation scan failed", zap.Error(err))
		return
	}

	for _, entry := range overdue {
		if err := w.escalate(ctx, entry); err != nil {
			w.logger.Error("Escalation failed",
				zap.Int64("entry_id", entry.EntryID),
				zap.String("expense_id", entry.ExpenseID),
				zap.Error(err))
		}
	}

	if len(overdue) > 0 {
		w.logger.Info("Escalation pass completed", zap.Int("entries", len(overdue)))
	}
}

func (w *EscalationWorker) escalate(ctx context.Context, entry repository.OverdueEntry) error {
	if entry.EscalateTo == "" || entry.EscalateTo == entry.ApproverID {
		// No usable target; remind the current holder once.
		if err := w.repo.MarkEscalated(ctx, entry.EntryID); err != nil {
			return err
		}
		w.sink.Emit(ctx, notification.Reminder(entry.ApproverID, entry.CompanyID, entry.ExpenseID, entry.HoursPending))
		return nil
	}

	ok, err := w.repo.Reassign(ctx, entry.EntryID, entry.EscalateTo)
	if err != nil {
		return err
	}
	if !ok {
		// Entry was decided concurrently or the target already holds an
		// entry on this expense; nothing to do.
		return nil
	}

	if entry.CurrentApproverID == entry.ApproverID {
		if err := w.repo.UpdateCurrentApprover(ctx, entry.ExpenseID, entry.ApproverID, entry.EscalateTo); err != nil {
			return err
		}
	}

	w.logger.Info("Approval entry escalated",
		zap.String("expense_id", entry.ExpenseID),
		zap.String("from", entry.ApproverID),
		zap.String("to", entry.EscalateTo),
		zap.Float64("hours_pending", entry.HoursPending))

	w.sink.Emit(ctx, notification.Escalated(entry.EscalateTo, entry.CompanyID, entry.ExpenseID, entry.HoursPending))
	return nil
}
