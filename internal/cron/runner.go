// Package cron runs the durable reminder schedule. Unlike the in-process
// timer table, reminders here live in SQLite, so a restart between a dose's
// scheduled time and its delivery does not lose the reminder.
package cron

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/store"
)

// FireFunc delivers one due reminder. Returning an error leaves the reminder
// scheduled so the next tick retries it.
type FireFunc func(rem store.Reminder) error

// Runner manages durable reminder execution
type Runner struct {
	cron     *cron.Cron
	store    *store.Store
	logger   *zap.Logger
	fire     FireFunc
	midnight func()
	running  bool
	mu       sync.RWMutex
}

// NewRunner creates a new reminder runner. midnight runs shortly after each
// local midnight so the day's reminder set gets rebuilt from a fresh snapshot.
func NewRunner(st *store.Store, fire FireFunc, midnight func(), logger *zap.Logger) *Runner {
	return &Runner{
		cron:     cron.New(),
		store:    st,
		logger:   logger,
		fire:     fire,
		midnight: midnight,
	}
}

// Start starts the reminder runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reminder runner already running")
	}

	if _, err := r.cron.AddFunc("* * * * *", r.checkDue); err != nil {
		return fmt.Errorf("failed to register minute tick: %w", err)
	}
	if r.midnight != nil {
		if _, err := r.cron.AddFunc("5 0 * * *", r.midnight); err != nil {
			return fmt.Errorf("failed to register midnight job: %w", err)
		}
	}

	r.cron.Start()
	r.running = true

	// Catch anything that came due while the process was down.
	go r.checkDue()

	return nil
}

// Stop stops the reminder runner and waits for in-flight jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Reminder runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// checkDue fires every reminder whose time has passed. A reminder is marked
// fired only after delivery succeeds, so denied permission or a dead channel
// means a retry next minute instead of a silent drop.
func (r *Runner) checkDue() {
	rems, err := r.store.DueReminders(time.Now())
	if err != nil {
		r.logger.Error("Failed to query due reminders", zap.Error(err))
		return
	}

	for _, rem := range rems {
		if err := r.fire(rem); err != nil {
			r.logger.Warn("Reminder delivery deferred",
				zap.String("dose_id", rem.DoseID), zap.Error(err))
			continue
		}
		if err := r.store.MarkReminderFired(rem.ID); err != nil {
			r.logger.Error("Failed to mark reminder fired",
				zap.String("reminder_id", rem.ID), zap.Error(err))
		}
	}
}
