package store

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// AckRecord is one acknowledged alert. The alert ID is the natural key:
// dose-backed alerts reuse the dose ID and the daily adherence warning has a
// stable per-day ID, so re-acknowledging the same alert is a single upsert.
type AckRecord struct {
	AlertID string    `gorm:"primaryKey" json:"alert_id"`
	Kind    string    `json:"kind"`
	DoseID  string    `gorm:"index" json:"dose_id,omitempty"`
	Action  string    `json:"action"` // skipped, snoozed, none
	Synced  bool      `json:"synced"` // upstream patch confirmed
	AckedAt time.Time `json:"acked_at"`
}

// NotificationRecord logs every notification handed to the OS layer or a
// caregiver channel, for the history view and for debugging double fires.
type NotificationRecord struct {
	ID      string    `gorm:"primaryKey" json:"id"`
	Tag     string    `gorm:"index" json:"tag"`
	DoseID  string    `json:"dose_id,omitempty"`
	Channel string    `json:"channel"` // local, telegram, discord
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// Medication caches upstream medication metadata so dose rows can be
// decorated with names even when the upstream is briefly unreachable.
type Medication struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage,omitempty"`
	Schedule  string    `json:"schedule,omitempty"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reminder is a durably scheduled dose reminder. The cron runner re-derives
// these each pass; Status moves scheduled -> fired or scheduled -> cancelled
// and never back.
type Reminder struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	DoseID    string    `gorm:"uniqueIndex:idx_reminder_dose" json:"dose_id"`
	Tag       string    `json:"tag"`
	FireAt    time.Time `gorm:"index" json:"fire_at"`
	Status    string    `json:"status"` // scheduled, fired, cancelled
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	ReminderScheduled = "scheduled"
	ReminderFired     = "fired"
	ReminderCancelled = "cancelled"
)

// Config stores key-value configuration
type Config struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name for Config
func (Config) TableName() string {
	return "config"
}

// BeforeCreate hook for NotificationRecord
func (n *NotificationRecord) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = generateID("notif")
	}
	if n.Channel == "" {
		n.Channel = "local"
	}
	return nil
}

// BeforeCreate hook for Reminder
func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateID("rem")
	}
	if r.Status == "" {
		r.Status = ReminderScheduled
	}
	return nil
}

// generateID creates a unique ID with nanosecond precision
func generateID(prefix string) string {
	return prefix + "_" + time.Now().Format("20060102150405") + "_" + randomString(8)
}

// randomString generates a cryptographically secure random string
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}

// ToJSON converts struct to JSON bytes
func ToJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// FromJSON parses JSON bytes into struct
func FromJSON(data json.RawMessage, v interface{}) error {
	return json.Unmarshal(data, v)
}
