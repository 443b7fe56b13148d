package cron

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/config"
	"github.com/pillpal/pillpald/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(&config.Config{
		Storage: config.StorageConfig{
			DataDir:    dir,
			SQLitePath: filepath.Join(dir, "test.db"),
			BadgerPath: filepath.Join(dir, "badger"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type fireRecorder struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (f *fireRecorder) fire(rem store.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.fired = append(f.fired, rem.DoseID)
	return nil
}

func (f *fireRecorder) firedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}

func TestCheckDueFiresAndMarks(t *testing.T) {
	st := testStore(t)
	rec := &fireRecorder{}
	r := NewRunner(st, rec.fire, nil, zap.NewNop())

	require.NoError(t, st.UpsertReminder("d1", "dose-d1", time.Now().Add(-time.Minute)))
	require.NoError(t, st.UpsertReminder("d2", "dose-d2", time.Now().Add(time.Hour)))

	r.checkDue()

	assert.Equal(t, []string{"d1"}, rec.firedIDs())

	// A fired reminder does not fire again.
	r.checkDue()
	assert.Equal(t, []string{"d1"}, rec.firedIDs())
}

func TestCheckDueRetriesFailedDelivery(t *testing.T) {
	st := testStore(t)
	rec := &fireRecorder{err: errors.New("channel down")}
	r := NewRunner(st, rec.fire, nil, zap.NewNop())

	require.NoError(t, st.UpsertReminder("d1", "dose-d1", time.Now().Add(-time.Minute)))

	r.checkDue()
	assert.Empty(t, rec.firedIDs())

	// Delivery recovers; the reminder is still due.
	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	r.checkDue()
	assert.Equal(t, []string{"d1"}, rec.firedIDs())
}

func TestStartRejectsDoubleStart(t *testing.T) {
	st := testStore(t)
	r := NewRunner(st, (&fireRecorder{}).fire, func() {}, zap.NewNop())

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Error(t, r.Start())
	assert.True(t, r.IsRunning())
}
