// Package app owns the evaluation loop: fetch one dose snapshot, derive
// alerts and risk from it, re-arm reminders, and publish the results. Every
// consumer in one pass sees the same snapshot.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/ack"
	"github.com/pillpal/pillpald/internal/config"
	"github.com/pillpal/pillpald/internal/dosestore"
	"github.com/pillpal/pillpald/internal/engine"
	apperrors "github.com/pillpal/pillpald/internal/errors"
	"github.com/pillpal/pillpald/internal/metrics"
	"github.com/pillpal/pillpald/internal/notify"
	"github.com/pillpal/pillpald/internal/scheduler"
	"github.com/pillpal/pillpald/internal/store"
	"github.com/pillpal/pillpald/internal/timeutil"
)

// fetchWindowDays covers the trend comparison: this week plus the prior one.
const fetchWindowDays = 14

// DoseClient is the upstream surface the app consumes.
type DoseClient interface {
	ListDoses(ctx context.Context, start, end time.Time) ([]engine.Dose, error)
	PatchDose(ctx context.Context, doseID string, status engine.DoseStatus) error
	ListMedications(ctx context.Context) ([]dosestore.Medication, error)
	Insights(ctx context.Context) ([]dosestore.Insight, error)
}

// App wires the engine to its surroundings and runs the evaluation loop.
type App struct {
	cfg       *config.Config
	client    DoseClient
	store     *store.Store
	notifier  *notify.Notifier
	escalator *notify.Notifier
	sched     *scheduler.Scheduler
	gateway   *ack.Gateway
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu     sync.RWMutex
	doses  []engine.Dose
	alerts []engine.Alert
	risk   engine.RiskSnapshot
	lastAt time.Time

	subMu sync.Mutex
	subs  map[chan []engine.Alert]struct{}

	now func() time.Time
}

// persistedEval is the evaluation summary carried across restarts, so the
// health endpoint and status command have something to show before the first
// pass completes.
type persistedEval struct {
	At    time.Time `json:"at"`
	Score int       `json:"score"`
}

const lastEvalKey = "last_eval"

// New assembles the App. escalator may be nil when no caregiver channel is
// configured.
func New(cfg *config.Config, client DoseClient, st *store.Store, notifier *notify.Notifier,
	escalator *notify.Notifier, sched *scheduler.Scheduler, m *metrics.Metrics, logger *zap.Logger) *App {

	gateway := ack.New(client, st, sched, cfg.Engine.AckRatePerSec, m.AckPatchFailures, logger)

	a := &App{
		cfg:       cfg,
		client:    client,
		store:     st,
		notifier:  notifier,
		escalator: escalator,
		sched:     sched,
		gateway:   gateway,
		metrics:   m,
		logger:    logger,
		subs:      make(map[chan []engine.Alert]struct{}),
		now:       time.Now,
	}

	if raw, err := st.GetKV(lastEvalKey); err == nil {
		var prev persistedEval
		if err := store.FromJSON(raw, &prev); err == nil {
			a.lastAt = prev.At
		}
	}

	return a
}

// Run drives the evaluation loop until the context ends.
func (a *App) Run(ctx context.Context) {
	a.refreshMedications(ctx)
	a.Evaluate(ctx)

	interval := time.Duration(a.cfg.EngineSnapshot().EvalIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate(ctx)
		}
	}
}

// Evaluate runs one pass: one snapshot in, alerts, risk, reminders and
// broadcasts out. Safe to call from the loop, the midnight job, and the API's
// manual refresh concurrently.
func (a *App) Evaluate(ctx context.Context) {
	started := a.now()

	windowStart, _ := timeutil.RollingWindow(started, fetchWindowDays)
	_, dayEnd := timeutil.DayBounds(started)

	doses, err := a.client.ListDoses(ctx, windowStart, dayEnd)
	if err != nil {
		a.metrics.EvalFailures.Inc()
		a.metrics.UpstreamErrors.Inc()
		a.logger.Warn("evaluation pass skipped, dose fetch failed", zap.Error(err))
		return
	}
	a.decorateNames(doses)

	grace := a.cfg.EngineSnapshot().GraceMinutes
	alerts := engine.DeriveAlerts(doses, started, grace)
	alerts = a.applyAcks(alerts)
	risk := engine.ComputeRisk(doses, started)

	a.mu.Lock()
	a.doses = doses
	a.alerts = alerts
	a.risk = risk
	a.lastAt = started
	a.mu.Unlock()

	if err := a.store.SetKV(lastEvalKey, store.ToJSON(persistedEval{At: started, Score: risk.Score})); err != nil {
		a.logger.Warn("failed to persist evaluation marker", zap.Error(err))
	}

	if err := a.sched.Reschedule(doses); err != nil {
		a.logger.Warn("timer reschedule failed", zap.Error(err))
	}
	a.persistReminders(doses, started)
	a.escalate(ctx, alerts, started)
	a.broadcast(alerts)

	a.metrics.EvalPasses.Inc()
	a.metrics.EvalDuration.Observe(time.Since(started).Seconds())
	a.metrics.AdherenceScore.Set(float64(risk.Score))
	for _, kind := range []engine.AlertKind{engine.AlertMissedDose, engine.AlertUpcomingReminder, engine.AlertAdherenceWarning} {
		count := 0
		for _, al := range alerts {
			if al.Kind == kind {
				count++
			}
		}
		a.metrics.AlertsDerived.WithLabelValues(string(kind)).Add(float64(count))
	}
	for _, p := range []engine.Priority{engine.PriorityLow, engine.PriorityMedium, engine.PriorityHigh} {
		count := 0
		for _, al := range alerts {
			if al.Priority == p && al.Status == engine.AlertActive {
				count++
			}
		}
		a.metrics.ActiveAlerts.WithLabelValues(string(p)).Set(float64(count))
	}

	a.logger.Debug("evaluation pass complete",
		zap.Int("doses", len(doses)),
		zap.Int("alerts", len(alerts)),
		zap.Int("score", risk.Score),
		zap.Duration("took", time.Since(started)))
}

// applyAcks marks previously acknowledged alerts instead of dropping them, so
// the feed can still show them greyed out.
func (a *App) applyAcks(alerts []engine.Alert) []engine.Alert {
	ids := make([]string, len(alerts))
	for i, al := range alerts {
		ids[i] = al.ID
	}
	acked, err := a.store.AckedSet(ids)
	if err != nil {
		a.logger.Warn("failed to load ack ledger", zap.Error(err))
		return alerts
	}
	for i := range alerts {
		if acked[alerts[i].ID] {
			alerts[i].Status = engine.AlertAcknowledged
		}
	}
	return alerts
}

// persistReminders mirrors today's upcoming pending doses into the durable
// reminder table and cancels reminders for doses no longer pending.
func (a *App) persistReminders(doses []engine.Dose, now time.Time) {
	_, dayEnd := timeutil.DayBounds(now)

	var keep []string
	for _, d := range doses {
		if d.Status != engine.DosePending || !d.ScheduledAt.After(now) || d.ScheduledAt.After(dayEnd) {
			continue
		}
		keep = append(keep, d.ID)
		if err := a.store.UpsertReminder(d.ID, "dose-"+d.ID, d.ScheduledAt); err != nil {
			a.logger.Warn("failed to persist reminder", zap.String("dose_id", d.ID), zap.Error(err))
		}
	}
	if err := a.store.CancelRemindersExcept(keep); err != nil {
		a.logger.Warn("failed to prune reminders", zap.Error(err))
	}
}

// escalate pings caregiver channels at most once per day, and only for a
// high-priority adherence warning.
func (a *App) escalate(ctx context.Context, alerts []engine.Alert, now time.Time) {
	if a.escalator == nil {
		return
	}
	for _, al := range alerts {
		if al.Kind != engine.AlertAdherenceWarning || al.Priority != engine.PriorityHigh || al.Status != engine.AlertActive {
			continue
		}
		dayKey := now.Format("2006-01-02")
		done, err := a.store.WasEscalated(dayKey)
		if err != nil {
			a.logger.Warn("escalation dedupe read failed", zap.Error(err))
		}
		if done {
			return
		}
		err = a.escalator.Send(ctx, notify.Notification{
			Tag:   "escalation-" + dayKey,
			Title: "Adherence Concern",
			Body:  al.Message,
		})
		if err != nil {
			a.logger.Warn("caregiver escalation failed", zap.Error(err))
			return
		}
		if err := a.store.MarkEscalated(dayKey, 48*time.Hour); err != nil {
			a.logger.Warn("failed to record escalation", zap.Error(err))
		}
		return
	}
}

// refreshMedications updates the local name cache from upstream.
func (a *App) refreshMedications(ctx context.Context) {
	meds, err := a.client.ListMedications(ctx)
	if err != nil {
		a.logger.Warn("medication refresh failed", zap.Error(err))
		return
	}
	cached := make([]store.Medication, len(meds))
	for i, m := range meds {
		cached[i] = store.Medication{
			ID:        m.ID,
			Name:      m.Name,
			Dosage:    m.Dosage,
			Schedule:  m.Schedule,
			Active:    m.Active,
			UpdatedAt: a.now(),
		}
	}
	if err := a.store.SaveMedications(cached); err != nil {
		a.logger.Warn("medication cache write failed", zap.Error(err))
	}
}

// decorateNames fills missing medication names from the local cache.
func (a *App) decorateNames(doses []engine.Dose) {
	for i := range doses {
		if doses[i].MedicationName != "" || doses[i].MedicationID == "" {
			continue
		}
		med, err := a.store.GetMedication(doses[i].MedicationID)
		if err != nil {
			continue
		}
		doses[i].MedicationName = med.Name
	}
}

// ==================== Read Accessors ====================

// Alerts returns the alert feed from the latest pass.
func (a *App) Alerts() []engine.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]engine.Alert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

// Risk returns the risk snapshot from the latest pass.
func (a *App) Risk() engine.RiskSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.risk
}

// TodayDoses returns today's doses from the latest pass.
func (a *App) TodayDoses() []engine.Dose {
	a.mu.RLock()
	defer a.mu.RUnlock()

	dayStart, dayEnd := timeutil.DayBounds(a.now())
	var out []engine.Dose
	for _, d := range a.doses {
		if timeutil.Within(d.ScheduledAt, dayStart, dayEnd) {
			out = append(out, d)
		}
	}
	return out
}

// NextDose returns the next pending dose, or nil when none remain today.
func (a *App) NextDose() *engine.Dose {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	var next *engine.Dose
	for i := range a.doses {
		d := a.doses[i]
		if d.Status != engine.DosePending || !d.ScheduledAt.After(now) {
			continue
		}
		if next == nil || d.ScheduledAt.Before(next.ScheduledAt) {
			next = &d
		}
	}
	return next
}

// LastEvaluatedAt returns the timestamp of the latest pass.
func (a *App) LastEvaluatedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastAt
}

// Insights proxies upstream adherence insights.
func (a *App) Insights(ctx context.Context) ([]dosestore.Insight, error) {
	return a.client.Insights(ctx)
}

// ==================== Acknowledgement ====================

// Acknowledge acks one alert from the current feed by ID.
func (a *App) Acknowledge(ctx context.Context, alertID string) error {
	alert, ok := a.findAlert(alertID)
	if !ok {
		return apperrors.ErrAlertNotFound
	}
	if err := a.gateway.Acknowledge(ctx, alert); err != nil {
		return err
	}
	a.metrics.AcksTotal.WithLabelValues(string(alert.Kind)).Inc()
	a.markAcked(alertID)
	return nil
}

// AcknowledgeAll acks every active alert in the current feed and returns the
// count of newly acknowledged alerts.
func (a *App) AcknowledgeAll(ctx context.Context) int {
	a.mu.RLock()
	var active []engine.Alert
	for _, al := range a.alerts {
		if al.Status == engine.AlertActive {
			active = append(active, al)
		}
	}
	a.mu.RUnlock()

	acked := a.gateway.AcknowledgeAll(ctx, active)
	for _, al := range acked {
		a.metrics.AcksTotal.WithLabelValues(string(al.Kind)).Inc()
		a.markAcked(al.ID)
	}
	return len(acked)
}

func (a *App) findAlert(alertID string) (engine.Alert, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, al := range a.alerts {
		if al.ID == alertID {
			return al, true
		}
	}
	return engine.Alert{}, false
}

func (a *App) markAcked(alertID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.alerts {
		if a.alerts[i].ID == alertID {
			a.alerts[i].Status = engine.AlertAcknowledged
		}
	}
}

// ==================== Durable Reminder Bridge ====================

// FireReminder delivers one durable reminder on behalf of the cron runner.
func (a *App) FireReminder(rem store.Reminder) error {
	a.mu.RLock()
	var dose *engine.Dose
	for i := range a.doses {
		if a.doses[i].ID == rem.DoseID {
			d := a.doses[i]
			dose = &d
			break
		}
	}
	a.mu.RUnlock()

	if dose == nil || dose.Status != engine.DosePending {
		// Taken or rescheduled since the reminder was written; nothing to do.
		return nil
	}
	if err := a.sched.FireDue([]engine.Dose{*dose}); err != nil {
		return err
	}
	a.metrics.RemindersFired.Inc()
	return nil
}

// Midnight rebuilds the day's state right after the date flips.
func (a *App) Midnight() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.refreshMedications(ctx)
	a.Evaluate(ctx)
}

// ==================== Live Feed ====================

// Subscribe registers a live alert feed; the returned channel receives the
// full alert list after every pass.
func (a *App) Subscribe() chan []engine.Alert {
	ch := make(chan []engine.Alert, 4)
	a.subMu.Lock()
	a.subs[ch] = struct{}{}
	a.subMu.Unlock()
	return ch
}

// Unsubscribe removes a live feed subscription.
func (a *App) Unsubscribe(ch chan []engine.Alert) {
	a.subMu.Lock()
	if _, ok := a.subs[ch]; ok {
		delete(a.subs, ch)
		close(ch)
	}
	a.subMu.Unlock()
}

func (a *App) broadcast(alerts []engine.Alert) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subs {
		select {
		case ch <- alerts:
		default:
			// Slow consumer, drop this update; the next pass resends.
		}
	}
}

// StatusSummary renders a one-glance adherence summary for the caregiver
// channels' status commands.
func (a *App) StatusSummary() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := 0
	for _, al := range a.alerts {
		if al.Status == engine.AlertActive {
			active++
		}
	}

	taken, total := 0, 0
	dayStart, dayEnd := timeutil.DayBounds(a.now())
	for _, d := range a.doses {
		if !timeutil.Within(d.ScheduledAt, dayStart, dayEnd) {
			continue
		}
		total++
		if d.Status == engine.DoseTaken {
			taken++
		}
	}

	return fmt.Sprintf("Adherence score %d (%s risk). Today: %d/%d doses taken, %d active alerts.",
		a.risk.Score, a.risk.Bucket, taken, total, active)
}
