// Package ack applies alert acknowledgements: idempotent locally, optimistic
// and best-effort toward the upstream dose store.
package ack

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pillpal/pillpald/internal/engine"
	"github.com/pillpal/pillpald/internal/store"
)

// Patcher writes dose status changes upstream.
type Patcher interface {
	PatchDose(ctx context.Context, doseID string, status engine.DoseStatus) error
}

// Ledger persists acknowledgements across restarts.
type Ledger interface {
	RecordAck(rec *store.AckRecord) error
	IsAcked(alertID string) (bool, error)
}

// Canceller disarms any pending reminder for an acknowledged dose.
type Canceller interface {
	Cancel(doseID string)
}

// Gateway turns an acknowledged alert into its side effects. The local ledger
// write is the source of truth; the upstream patch is advisory and its
// failure never un-acknowledges the alert.
type Gateway struct {
	patcher      Patcher
	ledger       Ledger
	canceller    Canceller
	limiter      *rate.Limiter
	patchFailure prometheus.Counter
	logger       *zap.Logger
}

// New creates a Gateway. ratePerSec bounds upstream patch traffic during
// ack-all bursts. patchFailure may be nil.
func New(patcher Patcher, ledger Ledger, canceller Canceller, ratePerSec int,
	patchFailure prometheus.Counter, logger *zap.Logger) *Gateway {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &Gateway{
		patcher:      patcher,
		ledger:       ledger,
		canceller:    canceller,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		patchFailure: patchFailure,
		logger:       logger,
	}
}

// Acknowledge marks one alert as handled. Re-acknowledging an already-acked
// alert is a no-op: no second ledger row, no second upstream patch.
func (g *Gateway) Acknowledge(ctx context.Context, alert engine.Alert) error {
	acked, err := g.ledger.IsAcked(alert.ID)
	if err != nil {
		return err
	}
	if acked {
		return nil
	}

	action, status := ackAction(alert)

	// Ledger first: the ack must stick even if everything after fails.
	if err := g.ledger.RecordAck(&store.AckRecord{
		AlertID: alert.ID,
		Kind:    string(alert.Kind),
		DoseID:  alert.SourceDoseID,
		Action:  action,
	}); err != nil {
		return err
	}

	if alert.SourceDoseID != "" && g.canceller != nil {
		g.canceller.Cancel(alert.SourceDoseID)
	}

	if status == "" {
		return nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil
	}
	if err := g.patcher.PatchDose(ctx, alert.SourceDoseID, status); err != nil {
		if g.patchFailure != nil {
			g.patchFailure.Inc()
		}
		g.logger.Warn("upstream ack patch failed, keeping local ack",
			zap.String("alert_id", alert.ID),
			zap.String("dose_id", alert.SourceDoseID),
			zap.Error(err))
		return nil
	}

	if err := g.ledger.RecordAck(&store.AckRecord{
		AlertID: alert.ID,
		Kind:    string(alert.Kind),
		DoseID:  alert.SourceDoseID,
		Action:  action,
		Synced:  true,
	}); err != nil {
		g.logger.Warn("failed to mark ack synced", zap.String("alert_id", alert.ID), zap.Error(err))
	}
	return nil
}

// AcknowledgeAll acknowledges every given alert concurrently and returns the
// alerts whose acknowledgement stuck. Each alert is independent; one failure
// does not stop the rest, and a failed alert stays active for callers.
func (g *Gateway) AcknowledgeAll(ctx context.Context, alerts []engine.Alert) []engine.Alert {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		acked []engine.Alert
	)

	for _, alert := range alerts {
		wg.Add(1)
		go func(a engine.Alert) {
			defer wg.Done()
			if err := g.Acknowledge(ctx, a); err != nil {
				g.logger.Warn("acknowledge failed",
					zap.String("alert_id", a.ID), zap.Error(err))
				return
			}
			mu.Lock()
			acked = append(acked, a)
			mu.Unlock()
		}(alert)
	}

	wg.Wait()
	return acked
}

// ackAction maps an alert kind to its ledger action and upstream patch. The
// adherence warning is local-only: it has no backing dose to patch.
func ackAction(alert engine.Alert) (action string, status engine.DoseStatus) {
	switch alert.Kind {
	case engine.AlertMissedDose:
		return "skipped", engine.DoseSkipped
	case engine.AlertUpcomingReminder:
		return "snoozed", engine.DoseSnoozed
	default:
		return "none", ""
	}
}
