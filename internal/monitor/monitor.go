// Package monitor provides derived heart metrics and periodic rhythm evaluation.
//
// The rhythm classifier is a deterministic decision table over the latest heart
// rate and the R-R interval variability (mean absolute successive difference) of
// the latest HRV reading. It is a rule-based classifier with cosmetic confidence
// scores, not a statistical model.
//
// Monitor re-runs the classifier for every known patient on each evaluation tick,
// turns critical assessments into alerts, and suppresses repeats of the same rhythm
// within a cooldown unless the condition escalates.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/guardian/internal/logger"
	"github.com/rewired-gh/guardian/internal/models"
	"github.com/rewired-gh/guardian/internal/storage"
)

// ErrNoHeartRate is returned when a patient has no valid, recent heart-rate reading
var ErrNoHeartRate = errors.New("no current heart rate reading")

// DefaultHRVMaxAge is how old an HRV reading may be before its R-R intervals are
// ignored.
const DefaultHRVMaxAge = time.Hour

// EscalationMargin is how much further past its threshold (bpm or ms) a repeated
// rhythm must be before it is re-notified inside the cooldown.
const EscalationMargin = 10.0

// Store is the subset of storage the monitor reads from
type Store interface {
	LatestHeartRate(ctx context.Context, patientID string) (*models.HeartRateReading, error)
	LatestHRV(ctx context.Context, patientID string) (*models.HRVReading, error)
}

// notifiedRecord tracks a previously sent alert for cooldown deduplication.
type notifiedRecord struct {
	Rhythm   models.Rhythm
	Severity float64
	SentAt   time.Time
}

// pendingAlert is a stored alert whose notification failed.
type pendingAlert struct {
	Alert    models.Alert
	FailedAt time.Time
}

// Monitor handles rhythm evaluation and alert deduplication
type Monitor struct {
	store     Store
	hrvMaxAge time.Duration

	mu               sync.Mutex
	notifiedPatients map[string]notifiedRecord
	pending          map[string]pendingAlert
}

// New creates a new Monitor instance
func New(s Store) *Monitor {
	return &Monitor{
		store:            s,
		hrvMaxAge:        DefaultHRVMaxAge,
		notifiedPatients: make(map[string]notifiedRecord),
		pending:          make(map[string]pendingAlert),
	}
}

// SetHRVMaxAge changes how old an HRV reading may be and still supply
// variability. Non-positive values are ignored.
func (m *Monitor) SetHRVMaxAge(d time.Duration) {
	if d > 0 {
		m.hrvMaxAge = d
	}
}

// AssessmentError represents a per-patient error during evaluation
type AssessmentError struct {
	PatientID string
	Err       error
}

func (e AssessmentError) Error() string {
	return fmt.Sprintf("assessment error for patient %s: %v", e.PatientID, e.Err)
}

func (e AssessmentError) Unwrap() error {
	return e.Err
}

// Analyze classifies the patient's latest heart rate, using the R-R intervals of
// the latest HRV reading for variability. A heart rate that is no longer recent
// is reported as ErrNoHeartRate; an HRV reading older than the HRV max age is
// ignored.
func (m *Monitor) Analyze(ctx context.Context, patientID string) (*models.RhythmAssessment, error) {
	hr, err := m.store.LatestHeartRate(ctx, patientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoHeartRate
		}
		return nil, fmt.Errorf("failed to load heart rate: %w", err)
	}
	if !hr.IsValid() {
		return nil, fmt.Errorf("%w: %d bpm is out of range", ErrNoHeartRate, hr.BPM)
	}
	if !hr.IsRecent() {
		return nil, fmt.Errorf("%w: latest reading is from %s", ErrNoHeartRate, hr.Timestamp.Format(time.RFC3339))
	}

	variability := 0.0
	hrv, err := m.store.LatestHRV(ctx, patientID)
	switch {
	case err == nil:
		if time.Since(hrv.Timestamp) <= m.hrvMaxAge {
			variability = RRVariability(hrv.RRIntervals)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load hrv: %w", err)
	}

	c := ClassifyRhythm(hr.BPM, variability)
	return &models.RhythmAssessment{
		PatientID:   patientID,
		Rhythm:      c.Rhythm,
		Critical:    c.Critical,
		Confidence:  c.Confidence,
		HeartRate:   hr.BPM,
		Variability: variability,
		AssessedAt:  time.Now(),
	}, nil
}

// Evaluate analyzes every patient and returns alerts for critical assessments.
// Patients without heart-rate data are skipped silently; other failures are
// returned as non-fatal AssessmentErrors.
func (m *Monitor) Evaluate(ctx context.Context, patientIDs []string) ([]models.Alert, []AssessmentError) {
	var alerts []models.Alert
	var assessmentErrors []AssessmentError

	skipped := 0
	normal := 0
	for _, patientID := range patientIDs {
		if ctx.Err() != nil {
			assessmentErrors = append(assessmentErrors, AssessmentError{PatientID: patientID, Err: ctx.Err()})
			break
		}

		a, err := m.Analyze(ctx, patientID)
		if err != nil {
			if errors.Is(err, ErrNoHeartRate) {
				skipped++
				continue
			}
			assessmentErrors = append(assessmentErrors, AssessmentError{PatientID: patientID, Err: err})
			continue
		}

		if !a.Critical {
			normal++
			continue
		}

		alerts = append(alerts, models.Alert{
			ID:          uuid.New().String(),
			PatientID:   a.PatientID,
			Rhythm:      a.Rhythm,
			HeartRate:   a.HeartRate,
			Variability: a.Variability,
			Confidence:  a.Confidence,
			DetectedAt:  a.AssessedAt,
		})
	}

	logger.Debug("Evaluate: patients=%d, critical=%d, non-critical=%d, no heart rate=%d, errors=%d",
		len(patientIDs), len(alerts), normal, skipped, len(assessmentErrors))

	return alerts, assessmentErrors
}

// FilterRecentlySent removes alerts for patients that were already notified about
// the same rhythm within cooldown, unless the condition escalated by at least
// EscalationMargin. Returns a non-nil slice.
func (m *Monitor) FilterRecentlySent(alerts []models.Alert, cooldown time.Duration) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	result := make([]models.Alert, 0, len(alerts))
	for _, alert := range alerts {
		rec, exists := m.notifiedPatients[alert.PatientID]
		if exists && now.Sub(rec.SentAt) < cooldown && rec.Rhythm == alert.Rhythm {
			escalated := severity(alert.Rhythm, alert.HeartRate, alert.Variability)-rec.Severity >= EscalationMargin
			if !escalated {
				continue
			}
		}
		result = append(result, alert)
	}
	return result
}

// RecordNotified records the given alerts as delivered at the current time.
// Call this after a successful notification to enable cooldown deduplication.
// It also clears any pending alert for the same patients.
func (m *Monitor) RecordNotified(alerts []models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, alert := range alerts {
		m.notifiedPatients[alert.PatientID] = notifiedRecord{
			Rhythm:   alert.Rhythm,
			Severity: severity(alert.Rhythm, alert.HeartRate, alert.Variability),
			SentAt:   now,
		}
		delete(m.pending, alert.PatientID)
	}
}

// RecordFailed marks stored alerts whose notification failed so that later
// cycles resend them instead of raising new ones.
func (m *Monitor) RecordFailed(alerts []models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, alert := range alerts {
		m.pending[alert.PatientID] = pendingAlert{Alert: alert, FailedAt: now}
	}
}

// ResolvePending matches this cycle's alerts against pending ones. An alert that
// repeats its patient's pending alert (same rhythm, not escalated) is replaced by
// the pending alert, which is returned in retry once retryAfter has passed since
// the failure and is otherwise held back. All other alerts are returned in fresh
// and replace the pending entry for their patient. Pending alerts of patients
// absent from alerts are dropped, as their condition has cleared.
func (m *Monitor) ResolvePending(alerts []models.Alert, retryAfter time.Duration) (retry, fresh []models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	current := make(map[string]struct{}, len(alerts))
	retry = make([]models.Alert, 0)
	fresh = make([]models.Alert, 0, len(alerts))
	for _, alert := range alerts {
		current[alert.PatientID] = struct{}{}
		p, ok := m.pending[alert.PatientID]
		if !ok || p.Alert.Rhythm != alert.Rhythm ||
			severity(alert.Rhythm, alert.HeartRate, alert.Variability)-severity(p.Alert.Rhythm, p.Alert.HeartRate, p.Alert.Variability) >= EscalationMargin {
			delete(m.pending, alert.PatientID)
			fresh = append(fresh, alert)
			continue
		}
		if now.Sub(p.FailedAt) >= retryAfter {
			retry = append(retry, p.Alert)
		}
	}
	for patientID := range m.pending {
		if _, ok := current[patientID]; !ok {
			delete(m.pending, patientID)
		}
	}
	return retry, fresh
}
