package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pillpal/pillpald/internal/config"
)

// Store provides unified access to SQLite and BadgerDB. SQLite holds the
// durable ledgers (acks, reminders, notification log, medication cache);
// Badger holds short-lived dedupe keys with TTLs.
type Store struct {
	db     *gorm.DB
	badger *badger.DB
	config *config.StorageConfig
}

// New creates a new Store instance
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "pillpal.db")
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(
		&AckRecord{},
		&NotificationRecord{},
		&Medication{},
		&Reminder{},
		&Config{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{
		db:     db,
		badger: badgerDB,
		config: &cfg.Storage,
	}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	return s.badger.Close()
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Badger returns the BadgerDB instance
func (s *Store) Badger() *badger.DB {
	return s.badger
}

// ==================== Acknowledgement Ledger ====================

// RecordAck upserts an acknowledgement. The first write wins the timestamp;
// repeats only refresh the Synced flag so a later successful upstream patch
// can mark an optimistic ack as confirmed.
func (s *Store) RecordAck(rec *AckRecord) error {
	if rec.AckedAt.IsZero() {
		rec.AckedAt = time.Now()
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "alert_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"synced"}),
	}).Create(rec).Error
}

// IsAcked reports whether an alert has already been acknowledged.
func (s *Store) IsAcked(alertID string) (bool, error) {
	var count int64
	err := s.db.Model(&AckRecord{}).Where("alert_id = ?", alertID).Count(&count).Error
	return count > 0, err
}

// AckedSet returns the acknowledged subset of the given alert IDs.
func (s *Store) AckedSet(alertIDs []string) (map[string]bool, error) {
	if len(alertIDs) == 0 {
		return map[string]bool{}, nil
	}
	var recs []AckRecord
	if err := s.db.Where("alert_id IN ?", alertIDs).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		out[r.AlertID] = true
	}
	return out, nil
}

// ListAcks returns the most recent acknowledgements.
func (s *Store) ListAcks(limit int) ([]AckRecord, error) {
	var recs []AckRecord
	err := s.db.Order("acked_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// ==================== Reminder Methods ====================

// UpsertReminder creates or refreshes the reminder for a dose. A reminder
// that already fired or was cancelled is left alone.
func (s *Store) UpsertReminder(doseID, tag string, fireAt time.Time) error {
	var existing Reminder
	err := s.db.First(&existing, "dose_id = ?", doseID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(&Reminder{DoseID: doseID, Tag: tag, FireAt: fireAt}).Error
	case err != nil:
		return err
	}

	if existing.Status != ReminderScheduled {
		return nil
	}
	if existing.FireAt.Equal(fireAt) {
		return nil
	}
	return s.db.Model(&existing).Updates(map[string]interface{}{"fire_at": fireAt, "tag": tag}).Error
}

// DueReminders returns scheduled reminders with fire_at <= now.
func (s *Store) DueReminders(now time.Time) ([]Reminder, error) {
	var rems []Reminder
	err := s.db.Where("status = ? AND fire_at <= ?", ReminderScheduled, now).
		Order("fire_at ASC").
		Find(&rems).Error
	return rems, err
}

// MarkReminderFired transitions a reminder to fired.
func (s *Store) MarkReminderFired(id string) error {
	return s.db.Model(&Reminder{}).
		Where("id = ? AND status = ?", id, ReminderScheduled).
		Update("status", ReminderFired).Error
}

// CancelRemindersExcept cancels every scheduled reminder whose dose is not in
// keep. Used when a fresh snapshot shows doses were taken or rescheduled.
func (s *Store) CancelRemindersExcept(keep []string) error {
	q := s.db.Model(&Reminder{}).Where("status = ?", ReminderScheduled)
	if len(keep) > 0 {
		q = q.Where("dose_id NOT IN ?", keep)
	}
	return q.Update("status", ReminderCancelled).Error
}

// ==================== Notification Log ====================

// LogNotification appends to the notification history.
func (s *Store) LogNotification(rec *NotificationRecord) error {
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	return s.db.Create(rec).Error
}

// RecentNotifications lists the latest notification records.
func (s *Store) RecentNotifications(limit int) ([]NotificationRecord, error) {
	var recs []NotificationRecord
	err := s.db.Order("sent_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// ==================== Medication Cache ====================

// SaveMedications replaces the cached medication metadata.
func (s *Store) SaveMedications(meds []Medication) error {
	if len(meds) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "dosage", "schedule", "active", "updated_at"}),
	}).Create(&meds).Error
}

// GetMedication retrieves one cached medication.
func (s *Store) GetMedication(id string) (*Medication, error) {
	var med Medication
	if err := s.db.First(&med, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &med, nil
}

// ListMedications lists cached medications, active first.
func (s *Store) ListMedications() ([]Medication, error) {
	var meds []Medication
	err := s.db.Order("active DESC, name ASC").Find(&meds).Error
	return meds, err
}

// ==================== Fired-Dose Ledger (BadgerDB) ====================

// MarkFired records that a reminder for the dose was delivered. The TTL keeps
// the ledger from growing unbounded; it only needs to outlive the dose's day.
func (s *Store) MarkFired(doseID string, ttl time.Duration) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("fired:"+doseID), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// WasFired reports whether a reminder for the dose already went out.
func (s *Store) WasFired(doseID string) (bool, error) {
	err := s.badger.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("fired:" + doseID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ClearFired removes the fired marker, used when a dose is rescheduled.
func (s *Store) ClearFired(doseID string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("fired:" + doseID))
	})
}

// ==================== Escalation Dedupe (BadgerDB) ====================

// MarkEscalated records a caregiver escalation for the given day key.
func (s *Store) MarkEscalated(dayKey string, ttl time.Duration) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("escalated:"+dayKey), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// WasEscalated reports whether caregivers were already pinged for a day.
func (s *Store) WasEscalated(dayKey string) (bool, error) {
	err := s.badger.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("escalated:" + dayKey))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ==================== KV Methods (BadgerDB) ====================

// SetKV stores a key-value pair
func (s *Store) SetKV(key string, value []byte) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("kv:"+key), value)
	})
}

// GetKV retrieves a value by key
func (s *Store) GetKV(key string) ([]byte, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("kv:" + key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	return val, err
}
