package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/config"
	"github.com/pillpal/pillpald/internal/dosestore"
	"github.com/pillpal/pillpald/internal/engine"
	"github.com/pillpal/pillpald/internal/metrics"
	"github.com/pillpal/pillpald/internal/notify"
	"github.com/pillpal/pillpald/internal/scheduler"
	"github.com/pillpal/pillpald/internal/store"
)

type fakeClient struct {
	mu      sync.Mutex
	doses   []engine.Dose
	meds    []dosestore.Medication
	patches map[string]engine.DoseStatus
	fail    bool
}

func newFakeClient(doses []engine.Dose) *fakeClient {
	return &fakeClient{doses: doses, patches: make(map[string]engine.DoseStatus)}
}

func (f *fakeClient) ListDoses(_ context.Context, _, _ time.Time) ([]engine.Dose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, assert.AnError
	}
	out := make([]engine.Dose, len(f.doses))
	copy(out, f.doses)
	return out, nil
}

func (f *fakeClient) PatchDose(_ context.Context, doseID string, status engine.DoseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[doseID] = status
	return nil
}

func (f *fakeClient) ListMedications(_ context.Context) ([]dosestore.Medication, error) {
	return f.meds, nil
}

func (f *fakeClient) Insights(_ context.Context) ([]dosestore.Insight, error) {
	return []dosestore.Insight{{Title: "Keep it up", Body: "Adherence trending well"}}, nil
}

func testApp(t *testing.T, client DoseClient) *App {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Engine: config.EngineConfig{GraceMinutes: 10, EvalIntervalSecs: 60, AckRatePerSec: 100},
		Storage: config.StorageConfig{
			DataDir:    dir,
			SQLitePath: filepath.Join(dir, "test.db"),
			BadgerPath: filepath.Join(dir, "badger"),
		},
	}

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	notifier := notify.New(notify.PermissionGranted, true, st, logger)
	notifier.AddSink(notify.NewLocalSink(logger))
	sched := scheduler.New(notifier, st, logger)
	t.Cleanup(sched.Stop)

	m := metrics.New(prometheus.NewRegistry())
	a := New(cfg, client, st, notifier, nil, sched, m, logger)
	a.now = func() time.Time { return refTime() }
	return a
}

// refTime pins evaluation to mid-day so dose offsets of a few hours never
// cross a date boundary.
func refTime() time.Time {
	y, mo, d := time.Now().Date()
	return time.Date(y, mo, d, 12, 0, 0, 0, time.Local)
}

func TestEvaluateDerivesAlertsAndRisk(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "missed", ScheduledAt: now.Add(-45 * time.Minute), Status: engine.DosePending, MedicationName: "Metformin"},
		{ID: "up", ScheduledAt: now.Add(30 * time.Minute), Status: engine.DosePending, MedicationName: "Metformin"},
		{ID: "done", ScheduledAt: now.Add(-3 * time.Hour), Status: engine.DoseTaken, MedicationName: "Metformin"},
	})
	a := testApp(t, client)

	a.Evaluate(context.Background())

	alerts := a.Alerts()
	kinds := map[engine.AlertKind]int{}
	for _, al := range alerts {
		kinds[al.Kind]++
	}
	assert.Equal(t, 1, kinds[engine.AlertMissedDose])
	assert.Equal(t, 1, kinds[engine.AlertUpcomingReminder])

	risk := a.Risk()
	assert.Equal(t, 33, risk.Score) // 1 of 3 taken
	assert.Equal(t, engine.RiskHigh, risk.Bucket)

	assert.False(t, a.LastEvaluatedAt().IsZero())
}

func TestEvaluateSkipsPassOnFetchFailure(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "up", ScheduledAt: now.Add(30 * time.Minute), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())
	require.NotEmpty(t, a.Alerts())

	// A failing fetch keeps the previous snapshot.
	client.mu.Lock()
	client.fail = true
	client.mu.Unlock()
	a.Evaluate(context.Background())
	assert.NotEmpty(t, a.Alerts())
}

func TestAcknowledgeFlowsThroughFeed(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "missed", ScheduledAt: now.Add(-45 * time.Minute), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())

	alerts := a.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, engine.AlertActive, alerts[0].Status)

	require.NoError(t, a.Acknowledge(context.Background(), alerts[0].ID))

	assert.Equal(t, engine.DoseSkipped, client.patches["missed"])
	assert.Equal(t, engine.AlertAcknowledged, a.Alerts()[0].Status)

	// The ack survives the next pass.
	a.Evaluate(context.Background())
	assert.Equal(t, engine.AlertAcknowledged, a.Alerts()[0].Status)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	a := testApp(t, newFakeClient(nil))
	a.Evaluate(context.Background())

	err := a.Acknowledge(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAcknowledgeAll(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "m1", ScheduledAt: now.Add(-45 * time.Minute), Status: engine.DosePending},
		{ID: "m2", ScheduledAt: now.Add(-90 * time.Minute), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())

	acked := a.AcknowledgeAll(context.Background())
	assert.Equal(t, 2, acked)
	for _, al := range a.Alerts() {
		assert.Equal(t, engine.AlertAcknowledged, al.Status)
	}
}

func TestNextDose(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "later", ScheduledAt: now.Add(4 * time.Hour), Status: engine.DosePending},
		{ID: "sooner", ScheduledAt: now.Add(1 * time.Hour), Status: engine.DosePending},
		{ID: "past", ScheduledAt: now.Add(-time.Hour), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())

	next := a.NextDose()
	require.NotNil(t, next)
	assert.Equal(t, "sooner", next.ID)
}

func TestRemindersPersisted(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "up", ScheduledAt: now.Add(30 * time.Minute), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())

	due, err := a.store.DueReminders(now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "up", due[0].DoseID)

	// Once the dose is taken, the reminder is pruned on the next pass.
	client.mu.Lock()
	client.doses[0].Status = engine.DoseTaken
	client.mu.Unlock()
	a.Evaluate(context.Background())

	due, err = a.store.DueReminders(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestFireReminderPropagatesDeliveryFailure(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "up", ScheduledAt: now.Add(30 * time.Minute), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())

	// A failed delivery must surface to the cron runner so the durable
	// reminder stays scheduled for a retry.
	a.notifier.SetPermission(notify.PermissionDenied)
	assert.Error(t, a.FireReminder(store.Reminder{DoseID: "up"}))

	a.notifier.SetPermission(notify.PermissionGranted)
	assert.NoError(t, a.FireReminder(store.Reminder{DoseID: "up"}))
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "up", ScheduledAt: now.Add(30 * time.Minute), Status: engine.DosePending},
	})
	a := testApp(t, client)

	ch := a.Subscribe()
	defer a.Unsubscribe(ch)

	a.Evaluate(context.Background())

	select {
	case alerts := <-ch:
		assert.NotEmpty(t, alerts)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestMedicationNameDecoration(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "up", MedicationID: "m1", ScheduledAt: now.Add(-45 * time.Minute), Status: engine.DosePending},
	})
	client.meds = []dosestore.Medication{{ID: "m1", Name: "Metformin", Active: true}}
	a := testApp(t, client)

	a.refreshMedications(context.Background())
	a.Evaluate(context.Background())

	alerts := a.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "Metformin")
}

func TestLastEvaluatedAtSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Engine: config.EngineConfig{GraceMinutes: 10, EvalIntervalSecs: 60, AckRatePerSec: 100},
		Storage: config.StorageConfig{
			DataDir:    dir,
			SQLitePath: filepath.Join(dir, "test.db"),
			BadgerPath: filepath.Join(dir, "badger"),
		},
	}

	st, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	notifier := notify.New(notify.PermissionGranted, true, st, logger)
	sched := scheduler.New(notifier, st, logger)
	t.Cleanup(sched.Stop)

	client := newFakeClient(nil)
	a := New(cfg, client, st, notifier, nil, sched, metrics.New(prometheus.NewRegistry()), logger)
	a.Evaluate(context.Background())
	evalAt := a.LastEvaluatedAt()
	require.False(t, evalAt.IsZero())

	// A fresh App over the same store picks up the marker.
	b := New(cfg, client, st, notifier, nil, sched, metrics.New(prometheus.NewRegistry()), logger)
	assert.WithinDuration(t, evalAt, b.LastEvaluatedAt(), time.Second)
}

func TestStatusSummary(t *testing.T) {
	now := refTime()
	client := newFakeClient([]engine.Dose{
		{ID: "done", ScheduledAt: now.Add(-2 * time.Hour), Status: engine.DoseTaken},
		{ID: "up", ScheduledAt: now.Add(time.Hour), Status: engine.DosePending},
	})
	a := testApp(t, client)
	a.Evaluate(context.Background())

	summary := a.StatusSummary()
	assert.Contains(t, summary, "1/2 doses taken")
}
