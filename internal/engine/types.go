// Package engine derives alerts, risk scores and reminder candidates from a
// dose snapshot. Everything in this package is a pure function of the snapshot
// plus a caller-supplied reference time.
package engine

import (
	"time"
)

// DoseStatus mirrors the upstream dose lifecycle.
type DoseStatus string

const (
	DosePending DoseStatus = "pending"
	DoseTaken   DoseStatus = "taken"
	DoseSkipped DoseStatus = "skipped"
	DoseSnoozed DoseStatus = "snoozed"
)

// Dose is one scheduled administration event, an immutable snapshot row from
// the external dose store.
type Dose struct {
	ID             string     `json:"id"`
	MedicationID   string     `json:"medication_id"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Status         DoseStatus `json:"status"`
	TakenAt        *time.Time `json:"taken_at,omitempty"`
	MedicationName string     `json:"medication_name,omitempty"`
}

// DisplayName returns the medication name with the upstream's fallback when
// the denormalized name is absent.
func (d Dose) DisplayName() string {
	if d.MedicationName == "" {
		return "Medication"
	}
	return d.MedicationName
}

// AlertKind classifies a derived alert.
type AlertKind string

const (
	AlertMissedDose        AlertKind = "missed_dose"
	AlertUpcomingReminder  AlertKind = "upcoming_reminder"
	AlertAdherenceWarning  AlertKind = "adherence_warning"
)

// Priority is the attention tier of an alert.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// AlertStatus is local-only acknowledgement state; it is never written
// upstream.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// Alert is an ephemeral derived alert, recomputed on every evaluation pass.
// SourceDoseID is empty for aggregate alerts (adherence warnings), which have
// no backing dose.
type Alert struct {
	ID             string      `json:"id"`
	Kind           AlertKind   `json:"type"`
	Title          string      `json:"title"`
	Message        string      `json:"message"`
	Priority       Priority    `json:"priority"`
	Status         AlertStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	SourceDoseID   string      `json:"sourceDoseId,omitempty"`
	MedicationName string      `json:"medicationName,omitempty"`
}

// Aggregate reports whether the alert has no backing dose.
func (a Alert) Aggregate() bool {
	return a.SourceDoseID == ""
}

// RiskBucket is the coarse risk classification.
type RiskBucket string

const (
	RiskLow    RiskBucket = "low"
	RiskMedium RiskBucket = "medium"
	RiskHigh   RiskBucket = "high"
)

// RiskSnapshot is the adherence view for one evaluation pass. Score is the
// adherence score (0-100, higher is better adherence); Bucket is the risk
// bucket derived from its complement, so a score of 90 yields RiskLow. Trend
// is this week's score minus the prior week's.
type RiskSnapshot struct {
	Score  int        `json:"score_0_100"`
	Bucket RiskBucket `json:"bucket"`
	Trend  int        `json:"trend"`
}
