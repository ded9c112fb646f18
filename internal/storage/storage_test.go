package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/guardian/internal/models"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func mustStorage(t *testing.T, maxReadings int) *Storage {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:", maxReadings)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hr(id, patientID string, ts time.Time, bpm int) *models.HeartRateReading {
	return &models.HeartRateReading{
		ID:          id,
		PatientID:   patientID,
		Timestamp:   ts,
		BPM:         bpm,
		Source:      models.SourceAppleHealth,
		Device:      models.DeviceAppleWatch,
		Reliability: models.ReliabilityHigh,
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New("mysql", "", 10); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestStorage_SaveAndLatestHeartRate(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	for i, offset := range []time.Duration{-2 * time.Minute, 0, -5 * time.Minute} {
		r := hr(fmt.Sprintf("hr-%d", i), "p-1", base.Add(offset), 70+i)
		if err := s.SaveHeartRate(ctx, r); err != nil {
			t.Fatalf("SaveHeartRate failed: %v", err)
		}
	}

	latest, err := s.LatestHeartRate(ctx, "p-1")
	if err != nil {
		t.Fatalf("LatestHeartRate failed: %v", err)
	}
	if latest.ID != "hr-1" || latest.BPM != 71 {
		t.Errorf("Expected newest reading hr-1/71, got %s/%d", latest.ID, latest.BPM)
	}
	if !latest.Timestamp.Equal(base) {
		t.Errorf("Expected timestamp %v, got %v", base, latest.Timestamp)
	}
	if latest.Device != models.DeviceAppleWatch || latest.Reliability != models.ReliabilityHigh {
		t.Errorf("Provenance not round-tripped: %+v", latest)
	}

	if _, err := s.LatestHeartRate(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStorage_SaveIsIdempotent(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	r := hr("hr-1", "p-1", base, 70)
	if err := s.SaveHeartRate(ctx, r); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	dup := hr("hr-1", "p-1", base, 90)
	if err := s.SaveHeartRate(ctx, dup); err != nil {
		t.Fatalf("duplicate save failed: %v", err)
	}

	latest, err := s.LatestHeartRate(ctx, "p-1")
	if err != nil {
		t.Fatalf("LatestHeartRate failed: %v", err)
	}
	if latest.BPM != 70 {
		t.Errorf("Expected first write to win, got %d bpm", latest.BPM)
	}
}

func TestStorage_RejectsIncompleteReadings(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	tests := []struct {
		name string
		save func() error
	}{
		{"heart rate without ID", func() error { return s.SaveHeartRate(ctx, hr("", "p-1", base, 70)) }},
		{"oxygen over 100", func() error {
			return s.SaveOxygen(ctx, &models.OxygenReading{
				ID: "o-1", PatientID: "p-1", Timestamp: base, Percentage: 101,
				Source: models.SourceManual, Device: models.DevicePulseOximeter, Reliability: models.ReliabilityMedium,
			})
		}},
		{"hrv with negative interval", func() error {
			return s.SaveHRV(ctx, &models.HRVReading{
				ID: "h-1", PatientID: "p-1", Timestamp: base, SDNNMs: 40, RRIntervals: []float64{800, -1},
				Source: models.SourceAppleHealth, Device: models.DeviceAppleWatch, Reliability: models.ReliabilityHigh,
			})
		}},
		{"alert without rhythm", func() error {
			return s.SaveAlert(ctx, &models.Alert{ID: "a-1", PatientID: "p-1", DetectedAt: base})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.save(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestStorage_OutOfRangeValuesArePersisted(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	// Plausibility is the consumer's decision, not the store's.
	if err := s.SaveHeartRate(ctx, hr("hr-1", "p-1", base, 400)); err != nil {
		t.Fatalf("SaveHeartRate failed: %v", err)
	}
	latest, err := s.LatestHeartRate(ctx, "p-1")
	if err != nil {
		t.Fatalf("LatestHeartRate failed: %v", err)
	}
	if latest.IsValid() {
		t.Error("Expected 400 bpm reading to be reported invalid")
	}
}

func TestStorage_OxygenAndHRV(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	ox := &models.OxygenReading{
		ID: "o-1", PatientID: "p-1", Timestamp: base, Percentage: 93,
		Source: models.SourceHealthConnect, Device: models.DeviceWearOS, Reliability: models.ReliabilityHigh,
	}
	if err := s.SaveOxygen(ctx, ox); err != nil {
		t.Fatalf("SaveOxygen failed: %v", err)
	}
	gotOx, err := s.LatestOxygen(ctx, "p-1")
	if err != nil {
		t.Fatalf("LatestOxygen failed: %v", err)
	}
	if gotOx.Percentage != 93 || !gotOx.IsLow() {
		t.Errorf("Expected low 93%% reading, got %+v", gotOx)
	}

	withRR := &models.HRVReading{
		ID: "h-1", PatientID: "p-1", Timestamp: base.Add(-time.Hour), SDNNMs: 45,
		RRIntervals: []float64{851, 841, 871, 881},
		Source:      models.SourceAppleHealth, Device: models.DeviceAppleWatch, Reliability: models.ReliabilityHigh,
	}
	withoutRR := &models.HRVReading{
		ID: "h-2", PatientID: "p-2", Timestamp: base, SDNNMs: 18,
		Source: models.SourceAppleHealth, Device: models.DeviceAppleWatch, Reliability: models.ReliabilityHigh,
	}
	for _, r := range []*models.HRVReading{withRR, withoutRR} {
		if err := s.SaveHRV(ctx, r); err != nil {
			t.Fatalf("SaveHRV failed: %v", err)
		}
	}

	got, err := s.LatestHRV(ctx, "p-1")
	if err != nil {
		t.Fatalf("LatestHRV failed: %v", err)
	}
	if len(got.RRIntervals) != 4 || got.RRIntervals[2] != 871 {
		t.Errorf("RR intervals not round-tripped: %v", got.RRIntervals)
	}

	got, err = s.LatestHRV(ctx, "p-2")
	if err != nil {
		t.Fatalf("LatestHRV failed: %v", err)
	}
	if got.HasRRIntervals() {
		t.Errorf("Expected no RR intervals, got %v", got.RRIntervals)
	}
	if got.Classification() != models.HRVVeryLow {
		t.Errorf("Expected %s, got %s", models.HRVVeryLow, got.Classification())
	}
}

func TestStorage_SleepSession(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	start := base.Add(-8 * time.Hour)
	session := &models.SleepSession{
		ID:         "s-1",
		PatientID:  "p-1",
		SleepStart: start,
		SleepEnd:   base,
		Segments: []models.SleepSegment{
			{Start: start, End: start.Add(4 * time.Hour), Stage: models.StageLight},
			{Start: start.Add(4 * time.Hour), End: base, Stage: models.StageDeep},
		},
		HasStageData: true,
		Source:       models.SourceAppleHealth,
		Device:       models.DeviceAppleWatch,
		Reliability:  models.ReliabilityHigh,
	}
	if err := s.SaveSleepSession(ctx, session); err != nil {
		t.Fatalf("SaveSleepSession failed: %v", err)
	}

	got, err := s.LatestSleepSession(ctx, "p-1")
	if err != nil {
		t.Fatalf("LatestSleepSession failed: %v", err)
	}
	if got.TotalHours() != 8 {
		t.Errorf("Expected 8 hours, got %f", got.TotalHours())
	}
	if !got.HasStageData || len(got.Segments) != 2 {
		t.Fatalf("Segments not round-tripped: %+v", got)
	}
	if pct := got.StagePercentages()[models.StageDeep]; pct != 50 {
		t.Errorf("Expected 50%% deep sleep, got %f", pct)
	}

	if _, err := s.LatestSleepSession(ctx, "p-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStorage_SleepSessionGrows(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	start := base.Add(-8 * time.Hour)
	session := func(hours int) *models.SleepSession {
		end := start.Add(time.Duration(hours) * time.Hour)
		return &models.SleepSession{
			ID:           "s-1",
			PatientID:    "p-1",
			SleepStart:   start,
			SleepEnd:     end,
			Segments:     []models.SleepSegment{{Start: start, End: end, Stage: models.StageLight}},
			HasStageData: true,
			Source:       models.SourceAppleHealth,
			Device:       models.DeviceAppleWatch,
			Reliability:  models.ReliabilityHigh,
		}
	}

	tests := []struct {
		name  string
		hours int
		want  float64
	}{
		{"first save", 4, 4},
		{"longer session replaces", 7, 7},
		{"shorter session ignored", 2, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SaveSleepSession(ctx, session(tt.hours)); err != nil {
				t.Fatalf("SaveSleepSession failed: %v", err)
			}
			got, err := s.LatestSleepSession(ctx, "p-1")
			if err != nil {
				t.Fatalf("LatestSleepSession failed: %v", err)
			}
			if got.TotalHours() != tt.want {
				t.Errorf("Expected %v hours, got %v", tt.want, got.TotalHours())
			}
			if len(got.Segments) != 1 || !got.Segments[0].End.Equal(got.SleepEnd) {
				t.Errorf("Segments not updated with the session: %+v", got.Segments)
			}
		})
	}
}

func TestStorage_HeartRatesInWindow(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	offsets := []time.Duration{-10 * time.Minute, -1 * time.Minute, -3 * time.Minute, time.Minute}
	for i, offset := range offsets {
		if err := s.SaveHeartRate(ctx, hr(fmt.Sprintf("hr-%d", i), "p-1", base.Add(offset), 70)); err != nil {
			t.Fatalf("SaveHeartRate failed: %v", err)
		}
	}

	got, err := s.HeartRatesInWindow(ctx, "p-1", 5*time.Minute, base)
	if err != nil {
		t.Fatalf("HeartRatesInWindow failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 readings in window, got %d", len(got))
	}
	if got[0].ID != "hr-2" || got[1].ID != "hr-1" {
		t.Errorf("Expected oldest first, got %s, %s", got[0].ID, got[1].ID)
	}

	count, err := s.CountInWindow(ctx, "p-1", 5*time.Minute, base)
	if err != nil {
		t.Fatalf("CountInWindow failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}

func TestStorage_Patients(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	patients, err := s.Patients(ctx)
	if err != nil {
		t.Fatalf("Patients failed: %v", err)
	}
	if len(patients) != 0 {
		t.Errorf("Expected no patients, got %v", patients)
	}

	_ = s.SaveHeartRate(ctx, hr("hr-1", "p-2", base, 70))
	_ = s.SaveHeartRate(ctx, hr("hr-2", "p-1", base, 70))
	_ = s.SaveOxygen(ctx, &models.OxygenReading{
		ID: "o-1", PatientID: "p-3", Timestamp: base, Percentage: 97,
		Source: models.SourceManual, Device: models.DevicePulseOximeter, Reliability: models.ReliabilityMedium,
	})

	patients, err = s.Patients(ctx)
	if err != nil {
		t.Fatalf("Patients failed: %v", err)
	}
	if strings.Join(patients, ",") != "p-1,p-2,p-3" {
		t.Errorf("Expected sorted distinct patients, got %v", patients)
	}
}

func TestStorage_Alerts(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a := &models.Alert{
			ID:         fmt.Sprintf("a-%d", i),
			PatientID:  "p-1",
			Rhythm:     models.RhythmSinusTachycardia,
			HeartRate:  121 + i,
			Confidence: 0.9,
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
	}

	if err := s.MarkNotified(ctx, []string{"a-2"}); err != nil {
		t.Fatalf("MarkNotified failed: %v", err)
	}

	alerts, err := s.RecentAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAlerts failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].ID != "a-2" || !alerts[0].Notified {
		t.Errorf("Expected newest notified alert first, got %+v", alerts[0])
	}
	if alerts[1].Notified {
		t.Errorf("Expected a-1 to be unnotified")
	}
	if alerts[0].Rhythm != models.RhythmSinusTachycardia {
		t.Errorf("Expected rhythm round-trip, got %q", alerts[0].Rhythm)
	}

	if alerts, _ := s.RecentAlerts(ctx, 0); len(alerts) != 0 {
		t.Errorf("Expected no alerts for zero limit, got %d", len(alerts))
	}
}

func TestStorage_Rotate(t *testing.T) {
	s := mustStorage(t, 3)
	ctx := context.Background()

	for _, patient := range []string{"p-1", "p-2"} {
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("%s-hr-%d", patient, i)
			if err := s.SaveHeartRate(ctx, hr(id, patient, base.Add(time.Duration(i)*time.Minute), 60+i)); err != nil {
				t.Fatalf("SaveHeartRate failed: %v", err)
			}
		}
	}

	removed, err := s.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if removed != 4 {
		t.Errorf("Expected 4 rows removed, got %d", removed)
	}

	got, err := s.HeartRatesInWindow(ctx, "p-1", time.Hour, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("HeartRatesInWindow failed: %v", err)
	}
	if len(got) != 3 || got[0].ID != "p-1-hr-2" {
		t.Errorf("Expected the 3 newest readings to survive, got %v", got)
	}

	removed, err = s.Rotate(ctx)
	if err != nil || removed != 0 {
		t.Errorf("Expected second rotation to be a no-op, got %d, %v", removed, err)
	}
}

func TestStorage_Snapshot(t *testing.T) {
	s := mustStorage(t, 100)
	ctx := context.Background()

	_ = s.SaveHeartRate(ctx, hr("hr-old", "p-1", base.Add(-30*time.Minute), 65))
	_ = s.SaveHeartRate(ctx, hr("hr-new", "p-1", base.Add(-10*time.Minute), 72))
	_ = s.SaveOxygen(ctx, &models.OxygenReading{
		ID: "o-1", PatientID: "p-1", Timestamp: base.Add(-2 * time.Minute), Percentage: 97,
		Source: models.SourceAppleHealth, Device: models.DeviceAppleWatch, Reliability: models.ReliabilityHigh,
	})
	_ = s.SaveHeartRate(ctx, hr("hr-outside", "p-1", base.Add(-48*time.Hour), 90))

	snap, err := s.Snapshot(ctx, "p-1", 24*time.Hour, base)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.HasHeartRate() || snap.LatestHeartRate.ID != "hr-new" {
		t.Errorf("Expected latest heart rate hr-new, got %+v", snap.LatestHeartRate)
	}
	if !snap.HasOxygen() || snap.HasHRV() || snap.HasSleep() {
		t.Errorf("Unexpected presence flags: oxygen=%v hrv=%v sleep=%v", snap.HasOxygen(), snap.HasHRV(), snap.HasSleep())
	}
	if snap.Metadata.RawDataPointsProcessed != 3 {
		t.Errorf("Expected 3 readings in window, got %d", snap.Metadata.RawDataPointsProcessed)
	}
	if snap.Metadata.Source != models.SourceAppleHealth {
		t.Errorf("Expected apple_health source, got %s", snap.Metadata.Source)
	}
	if len(snap.Metadata.Warnings) != 1 || !strings.Contains(snap.Metadata.Warnings[0], "heart rate") {
		t.Errorf("Expected stale heart rate warning, got %v", snap.Metadata.Warnings)
	}

	empty, err := s.Snapshot(ctx, "p-9", time.Hour, base)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if empty.HasAnyData() {
		t.Error("Expected empty snapshot")
	}
	if empty.Metadata.Source != models.SourceUnknown || len(empty.Metadata.Warnings) != 1 {
		t.Errorf("Unexpected metadata for empty snapshot: %+v", empty.Metadata)
	}
}
