package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/guardian/internal/models"
	"github.com/rewired-gh/guardian/internal/monitor"
	"github.com/rewired-gh/guardian/internal/storage"
)

type fakeNotifier struct {
	err  error
	sent [][]models.Alert
}

func (f *fakeNotifier) Send(alerts []models.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, alerts)
	return nil
}

func setupStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(storage.DriverSQLite, ":memory:", 100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saveHeartRate(t *testing.T, s *storage.Storage, id, patientID string, bpm int) {
	t.Helper()
	saveHeartRateAt(t, s, id, patientID, bpm, time.Now().UTC())
}

func saveHeartRateAt(t *testing.T, s *storage.Storage, id, patientID string, bpm int, ts time.Time) {
	t.Helper()
	require.NoError(t, s.SaveHeartRate(context.Background(), &models.HeartRateReading{
		ID:          id,
		PatientID:   patientID,
		Timestamp:   ts,
		BPM:         bpm,
		Source:      models.SourceAppleHealth,
		Device:      models.DeviceAppleWatch,
		Reliability: models.ReliabilityHigh,
	}))
}

func TestRunEvaluationCycle(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	saveHeartRate(t, s, "hr-1", "p-fast", 135)
	saveHeartRate(t, s, "hr-2", "p-calm", 72)

	mon := monitor.New(s)
	n := &fakeNotifier{}

	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, 0))
	require.Len(t, n.sent, 1)
	require.Len(t, n.sent[0], 1)
	assert.Equal(t, "p-fast", n.sent[0][0].PatientID)
	assert.Equal(t, models.RhythmSinusTachycardia, n.sent[0][0].Rhythm)

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Notified)

	// Same rhythm inside the cooldown is suppressed.
	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, 0))
	assert.Len(t, n.sent, 1)

	// Escalation past the margin is re-sent.
	saveHeartRate(t, s, "hr-3", "p-fast", 150)
	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, 0))
	require.Len(t, n.sent, 2)
	assert.Equal(t, 150, n.sent[1][0].HeartRate)
}

func TestRunEvaluationCycle_NotifierFailure(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	saveHeartRate(t, s, "hr-1", "p-slow", 42)

	mon := monitor.New(s)
	n := &fakeNotifier{err: errors.New("telegram unreachable")}

	for i := 0; i < 5; i++ {
		require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, 0))
	}

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1, "failed sends reuse the stored alert")
	assert.False(t, alerts[0].Notified)
	pendingID := alerts[0].ID

	// Not recorded as notified, so the next cycle resends the same alert.
	n.err = nil
	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, 0))
	require.Len(t, n.sent, 1)
	assert.Equal(t, pendingID, n.sent[0][0].ID)

	alerts, err = s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Notified)

	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, 0))
	assert.Len(t, n.sent, 1, "delivered alert is inside the cooldown")
}

func TestRunEvaluationCycle_RetryAfter(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	saveHeartRate(t, s, "hr-1", "p-slow", 42)

	mon := monitor.New(s)
	n := &fakeNotifier{err: errors.New("telegram unreachable")}
	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, time.Hour))

	// The resend is held back until the retry delay has passed.
	n.err = nil
	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, time.Hour))
	assert.Empty(t, n.sent)

	// An escalated condition is a new alert and is sent at once.
	saveHeartRate(t, s, "hr-2", "p-slow", 30)
	require.NoError(t, runEvaluationCycle(ctx, mon, s, n, 10*time.Minute, time.Hour))
	require.Len(t, n.sent, 1)
	assert.Equal(t, 30, n.sent[0][0].HeartRate)

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestRunEvaluationCycle_StaleHeartRate(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	saveHeartRateAt(t, s, "hr-1", "p-old", 130, time.Now().UTC().Add(-30*24*time.Hour))

	n := &fakeNotifier{}
	require.NoError(t, runEvaluationCycle(ctx, monitor.New(s), s, n, 0, 0))
	assert.Empty(t, n.sent)

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRunEvaluationCycle_WithoutNotifier(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	saveHeartRate(t, s, "hr-1", "p-fast", 140)

	mon := monitor.New(s)
	require.NoError(t, runEvaluationCycle(ctx, mon, s, nil, 10*time.Minute, 0))
	require.NoError(t, runEvaluationCycle(ctx, mon, s, nil, 10*time.Minute, 0))

	alerts, err := s.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "cooldown applies without a notifier")
}

func TestRunEvaluationCycle_NoPatients(t *testing.T) {
	s := setupStore(t)
	n := &fakeNotifier{}
	require.NoError(t, runEvaluationCycle(context.Background(), monitor.New(s), s, n, time.Minute, 0))
	assert.Empty(t, n.sent)
}

func TestRunEvaluationCycle_StorageFailure(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.Close())

	err := runEvaluationCycle(context.Background(), monitor.New(s), s, nil, time.Minute, 0)
	assert.Error(t, err)
}
