// Package scheduler arms in-process timers for upcoming doses and fires each
// at most once per dose, surviving reschedule churn via the fired-dose ledger.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/engine"
	apperrors "github.com/pillpal/pillpald/internal/errors"
	"github.com/pillpal/pillpald/internal/notify"
	"github.com/pillpal/pillpald/internal/store"
)

// firedTTL keeps dedupe keys long enough to outlive any same-day reschedule.
const firedTTL = 48 * time.Hour

// Ledger is the subset of the store the scheduler needs. It is an interface
// so tests can run without badger on disk.
type Ledger interface {
	MarkFired(doseID string, ttl time.Duration) error
	WasFired(doseID string) (bool, error)
}

// Scheduler owns one timer per upcoming dose. Every mutation of the timer
// table happens under one mutex: a reschedule pass cancels everything and
// re-arms from the fresh snapshot atomically, so no stale timer survives a
// pass and no dose is double-armed.
type Scheduler struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]struct{}
	stopped  bool

	notifier *notify.Notifier
	ledger   Ledger
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Scheduler.
func New(notifier *notify.Notifier, ledger Ledger, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers:   make(map[string]*time.Timer),
		inflight: make(map[string]struct{}),
		notifier: notifier,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// Reschedule replaces the whole timer table from a fresh dose snapshot. Only
// pending doses due in the future are armed; doses that already fired are
// skipped so a reschedule can never cause a second delivery. Without granted
// notification permission the pass cancels everything and arms nothing.
func (s *Scheduler) Reschedule(doses []engine.Dose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return apperrors.ErrSchedulerStopped
	}

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}

	if s.notifier.Permission() != notify.PermissionGranted {
		s.logger.Debug("notification permission not granted, arming no timers",
			zap.Int("snapshot", len(doses)))
		return nil
	}

	now := s.now()
	armed := 0
	for _, d := range doses {
		if d.Status != engine.DosePending {
			continue
		}
		delay := d.ScheduledAt.Sub(now)
		if delay <= 0 {
			continue
		}

		fired, err := s.ledger.WasFired(d.ID)
		if err != nil {
			s.logger.Warn("fired ledger read failed, arming anyway",
				zap.String("dose_id", d.ID), zap.Error(err))
		}
		if fired {
			continue
		}

		dose := d
		s.timers[d.ID] = time.AfterFunc(delay, func() { s.fire(dose) })
		armed++
	}

	s.logger.Debug("reschedule pass complete",
		zap.Int("armed", armed), zap.Int("snapshot", len(doses)))
	return nil
}

// Cancel disarms the timer for one dose, if armed.
func (s *Scheduler) Cancel(doseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[doseID]; ok {
		t.Stop()
		delete(s.timers, doseID)
	}
}

// Armed returns the number of live timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms everything and rejects further reschedules.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// fire delivers the reminder for one dose. The ledger check inside the lock
// closes the race between a firing timer and a concurrent reschedule pass,
// and the in-flight claim closes the one between the timer path and the cron
// path: whichever caller claims the dose first delivers, the other backs off
// until the outcome is known.
func (s *Scheduler) fire(d engine.Dose) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return apperrors.ErrSchedulerStopped
	}
	delete(s.timers, d.ID)

	if _, busy := s.inflight[d.ID]; busy {
		s.mu.Unlock()
		return apperrors.ErrDeliveryInFlight
	}
	fired, err := s.ledger.WasFired(d.ID)
	if err != nil {
		s.logger.Warn("fired ledger read failed", zap.String("dose_id", d.ID), zap.Error(err))
	}
	if fired {
		s.mu.Unlock()
		return nil
	}
	s.inflight[d.ID] = struct{}{}
	s.mu.Unlock()

	err = s.notifier.Send(context.Background(), notify.Notification{
		Tag:    "dose-" + d.ID,
		Title:  "Medication Reminder",
		Body:   "Time to take " + d.DisplayName(),
		DoseID: d.ID,
		Chime:  true,
	})
	if err != nil {
		// Denied permission or a dead sink: release the claim and leave the
		// ledger clean so a later pass can retry once the channel recovers.
		s.mu.Lock()
		delete(s.inflight, d.ID)
		s.mu.Unlock()
		s.logger.Warn("reminder delivery failed", zap.String("dose_id", d.ID), zap.Error(err))
		return err
	}

	if err := s.ledger.MarkFired(d.ID, firedTTL); err != nil {
		s.logger.Warn("failed to record fired dose", zap.String("dose_id", d.ID), zap.Error(err))
	}
	s.mu.Lock()
	delete(s.inflight, d.ID)
	s.mu.Unlock()
	return nil
}

// FireDue delivers reminders for the given doses immediately, on behalf of
// the durable cron runner. The same ledger guards it against the timer path.
// The first failure is returned so the runner keeps the reminder scheduled
// and retries it on the next pass.
func (s *Scheduler) FireDue(doses []engine.Dose) error {
	var firstErr error
	for _, d := range doses {
		if d.Status != engine.DosePending {
			continue
		}
		if err := s.fire(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Ledger = (*store.Store)(nil)
