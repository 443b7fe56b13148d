package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	db, err := gorm.Open(sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&AckRecord{},
		&NotificationRecord{},
		&Medication{},
		&Reminder{},
		&Config{},
	))

	bdb, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	return &Store{db: db, badger: bdb}
}

func TestAckLedger(t *testing.T) {
	s := testStore(t)

	acked, err := s.IsAcked("dose-1")
	require.NoError(t, err)
	assert.False(t, acked)

	require.NoError(t, s.RecordAck(&AckRecord{
		AlertID: "dose-1",
		Kind:    "missed_dose",
		DoseID:  "dose-1",
		Action:  "skipped",
	}))

	acked, err = s.IsAcked("dose-1")
	require.NoError(t, err)
	assert.True(t, acked)

	// Re-acking the same alert is an upsert, not a duplicate row.
	require.NoError(t, s.RecordAck(&AckRecord{
		AlertID: "dose-1",
		Kind:    "missed_dose",
		DoseID:  "dose-1",
		Action:  "skipped",
		Synced:  true,
	}))

	recs, err := s.ListAcks(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Synced)
}

func TestAckedSet(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.RecordAck(&AckRecord{AlertID: "a", Kind: "missed_dose"}))
	require.NoError(t, s.RecordAck(&AckRecord{AlertID: "b", Kind: "upcoming_reminder"}))

	set, err := s.AckedSet([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.True(t, set["a"])
	assert.True(t, set["b"])
	assert.False(t, set["c"])

	empty, err := s.AckedSet(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReminderLifecycle(t *testing.T) {
	s := testStore(t)
	fireAt := time.Now().Add(time.Hour).Round(time.Second)

	require.NoError(t, s.UpsertReminder("dose-1", "dose-dose-1", fireAt))

	// Upsert with the same fire time is a no-op.
	require.NoError(t, s.UpsertReminder("dose-1", "dose-dose-1", fireAt))

	due, err := s.DueReminders(time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.DueReminders(fireAt.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "dose-1", due[0].DoseID)
	assert.Equal(t, ReminderScheduled, due[0].Status)

	require.NoError(t, s.MarkReminderFired(due[0].ID))

	due, err = s.DueReminders(fireAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	// A fired reminder does not get resurrected by a later upsert.
	require.NoError(t, s.UpsertReminder("dose-1", "dose-dose-1", fireAt.Add(2*time.Hour)))
	due, err = s.DueReminders(fireAt.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCancelRemindersExcept(t *testing.T) {
	s := testStore(t)
	fireAt := time.Now().Add(time.Hour)

	require.NoError(t, s.UpsertReminder("keep", "dose-keep", fireAt))
	require.NoError(t, s.UpsertReminder("drop", "dose-drop", fireAt))

	require.NoError(t, s.CancelRemindersExcept([]string{"keep"}))

	due, err := s.DueReminders(fireAt.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "keep", due[0].DoseID)
}

func TestNotificationLog(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.LogNotification(&NotificationRecord{
		Tag:    "dose-abc",
		DoseID: "abc",
		Title:  "Medication Reminder",
		Body:   "Time to take Metformin",
	}))

	recs, err := s.RecentNotifications(5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "dose-abc", recs[0].Tag)
	assert.Equal(t, "local", recs[0].Channel)
	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].SentAt.IsZero())
}

func TestMedicationCache(t *testing.T) {
	s := testStore(t)

	meds := []Medication{
		{ID: "m1", Name: "Metformin", Active: true, UpdatedAt: time.Now()},
		{ID: "m2", Name: "Lisinopril", Active: false, UpdatedAt: time.Now()},
	}
	require.NoError(t, s.SaveMedications(meds))

	// Second save updates in place.
	meds[1].Name = "Lisinopril 10mg"
	require.NoError(t, s.SaveMedications(meds))

	got, err := s.GetMedication("m2")
	require.NoError(t, err)
	assert.Equal(t, "Lisinopril 10mg", got.Name)

	all, err := s.ListMedications()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m1", all[0].ID) // active first
}

func TestFiredLedger(t *testing.T) {
	s := testStore(t)

	fired, err := s.WasFired("dose-1")
	require.NoError(t, err)
	assert.False(t, fired)

	require.NoError(t, s.MarkFired("dose-1", time.Hour))

	fired, err = s.WasFired("dose-1")
	require.NoError(t, err)
	assert.True(t, fired)

	require.NoError(t, s.ClearFired("dose-1"))

	fired, err = s.WasFired("dose-1")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEscalationDedupe(t *testing.T) {
	s := testStore(t)

	was, err := s.WasEscalated("2024-03-15")
	require.NoError(t, err)
	assert.False(t, was)

	require.NoError(t, s.MarkEscalated("2024-03-15", 24*time.Hour))

	was, err = s.WasEscalated("2024-03-15")
	require.NoError(t, err)
	assert.True(t, was)
}

func TestKV(t *testing.T) {
	s := testStore(t)

	_, err := s.GetKV("missing")
	assert.Error(t, err)

	require.NoError(t, s.SetKV("last_eval", []byte("2024-03-15T12:00:00Z")))

	val, err := s.GetKV("last_eval")
	require.NoError(t, err)
	assert.Equal(t, []byte("2024-03-15T12:00:00Z"), val)
}
