package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/guardian/internal/models"
)

// SaveHeartRate persists a heart-rate reading. Saving an existing ID is a no-op.
func (s *Storage) SaveHeartRate(ctx context.Context, r *models.HeartRateReading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid heart rate reading: %w", err)
	}

	_, err := s.exec(ctx, `
		INSERT INTO heart_rate_readings (id, patient_id, ts, bpm, is_resting, source, device, reliability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.PatientID, toNanos(r.Timestamp), r.BPM, boolToInt(r.IsResting),
		string(r.Source), string(r.Device), string(r.Reliability))
	if err != nil {
		return fmt.Errorf("failed to save heart rate reading: %w", err)
	}
	return nil
}

// LatestHeartRate returns the patient's newest heart-rate reading
func (s *Storage) LatestHeartRate(ctx context.Context, patientID string) (*models.HeartRateReading, error) {
	return s.latestHeartRate(ctx, patientID, minNanos, maxNanos)
}

func (s *Storage) latestHeartRate(ctx context.Context, patientID string, since, until int64) (*models.HeartRateReading, error) {
	rows, err := s.query(ctx, `
		SELECT id, patient_id, ts, bpm, is_resting, source, device, reliability
		FROM heart_rate_readings
		WHERE patient_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`, patientID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query heart rate: %w", err)
	}
	readings, err := scanHeartRates(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, ErrNotFound
	}
	return &readings[0], nil
}

// HeartRatesInWindow returns the patient's heart-rate readings taken in
// [now-window, now], oldest first.
func (s *Storage) HeartRatesInWindow(ctx context.Context, patientID string, window time.Duration, now time.Time) ([]models.HeartRateReading, error) {
	rows, err := s.query(ctx, `
		SELECT id, patient_id, ts, bpm, is_resting, source, device, reliability
		FROM heart_rate_readings
		WHERE patient_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC`, patientID, toNanos(now.Add(-window)), toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query heart rates: %w", err)
	}
	return scanHeartRates(rows)
}

func scanHeartRates(rows *sql.Rows) ([]models.HeartRateReading, error) {
	defer rows.Close()

	readings := make([]models.HeartRateReading, 0)
	for rows.Next() {
		var (
			r                           models.HeartRateReading
			ts                          int64
			resting                     int
			source, device, reliability string
		)
		if err := rows.Scan(&r.ID, &r.PatientID, &ts, &r.BPM, &resting, &source, &device, &reliability); err != nil {
			return nil, fmt.Errorf("failed to scan heart rate: %w", err)
		}
		r.Timestamp = fromNanos(ts)
		r.IsResting = resting != 0
		r.Source = models.DataSource(source)
		r.Device = models.DeviceType(device)
		r.Reliability = models.Reliability(reliability)
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read heart rates: %w", err)
	}
	return readings, nil
}

// SaveOxygen persists an SpO₂ reading. Saving an existing ID is a no-op.
func (s *Storage) SaveOxygen(ctx context.Context, r *models.OxygenReading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid oxygen reading: %w", err)
	}

	_, err := s.exec(ctx, `
		INSERT INTO oxygen_readings (id, patient_id, ts, percentage, source, device, reliability)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.PatientID, toNanos(r.Timestamp), r.Percentage,
		string(r.Source), string(r.Device), string(r.Reliability))
	if err != nil {
		return fmt.Errorf("failed to save oxygen reading: %w", err)
	}
	return nil
}

// LatestOxygen returns the patient's newest SpO₂ reading
func (s *Storage) LatestOxygen(ctx context.Context, patientID string) (*models.OxygenReading, error) {
	return s.latestOxygen(ctx, patientID, minNanos, maxNanos)
}

func (s *Storage) latestOxygen(ctx context.Context, patientID string, since, until int64) (*models.OxygenReading, error) {
	var (
		r                           models.OxygenReading
		ts                          int64
		source, device, reliability string
	)
	err := s.queryRow(ctx, `
		SELECT id, patient_id, ts, percentage, source, device, reliability
		FROM oxygen_readings
		WHERE patient_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`, patientID, since, until,
	).Scan(&r.ID, &r.PatientID, &ts, &r.Percentage, &source, &device, &reliability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query oxygen: %w", err)
	}

	r.Timestamp = fromNanos(ts)
	r.Source = models.DataSource(source)
	r.Device = models.DeviceType(device)
	r.Reliability = models.Reliability(reliability)
	return &r, nil
}

// SaveHRV persists an HRV reading. Saving an existing ID is a no-op.
func (s *Storage) SaveHRV(ctx context.Context, r *models.HRVReading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid hrv reading: %w", err)
	}

	intervals := r.RRIntervals
	if intervals == nil {
		intervals = []float64{}
	}
	rr, err := json.Marshal(intervals)
	if err != nil {
		return fmt.Errorf("failed to marshal rr intervals: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO hrv_readings (id, patient_id, ts, sdnn_ms, rr_intervals, source, device, reliability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.PatientID, toNanos(r.Timestamp), r.SDNNMs, string(rr),
		string(r.Source), string(r.Device), string(r.Reliability))
	if err != nil {
		return fmt.Errorf("failed to save hrv reading: %w", err)
	}
	return nil
}

// LatestHRV returns the patient's newest HRV reading
func (s *Storage) LatestHRV(ctx context.Context, patientID string) (*models.HRVReading, error) {
	return s.latestHRV(ctx, patientID, minNanos, maxNanos)
}

func (s *Storage) latestHRV(ctx context.Context, patientID string, since, until int64) (*models.HRVReading, error) {
	var (
		r                           models.HRVReading
		ts                          int64
		rr                          string
		source, device, reliability string
	)
	err := s.queryRow(ctx, `
		SELECT id, patient_id, ts, sdnn_ms, rr_intervals, source, device, reliability
		FROM hrv_readings
		WHERE patient_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`, patientID, since, until,
	).Scan(&r.ID, &r.PatientID, &ts, &r.SDNNMs, &rr, &source, &device, &reliability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hrv: %w", err)
	}

	if err := json.Unmarshal([]byte(rr), &r.RRIntervals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rr intervals: %w", err)
	}
	if len(r.RRIntervals) == 0 {
		r.RRIntervals = nil
	}
	r.Timestamp = fromNanos(ts)
	r.Source = models.DataSource(source)
	r.Device = models.DeviceType(device)
	r.Reliability = models.Reliability(reliability)
	return &r, nil
}

// SaveSleepSession persists a sleep session with its segments. Saving an existing
// ID replaces the stored session only when the new one ends later.
func (s *Storage) SaveSleepSession(ctx context.Context, session *models.SleepSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid sleep session: %w", err)
	}

	segments := session.Segments
	if segments == nil {
		segments = []models.SleepSegment{}
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO sleep_sessions (id, patient_id, ts, sleep_end, segments, has_stage_data, source, device, reliability)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sleep_end = excluded.sleep_end,
			segments = excluded.segments,
			has_stage_data = excluded.has_stage_data
		WHERE sleep_sessions.sleep_end < excluded.sleep_end`,
		session.ID, session.PatientID, toNanos(session.SleepStart), toNanos(session.SleepEnd), string(data),
		boolToInt(session.HasStageData), string(session.Source), string(session.Device), string(session.Reliability))
	if err != nil {
		return fmt.Errorf("failed to save sleep session: %w", err)
	}
	return nil
}

// LatestSleepSession returns the patient's most recently started sleep session
func (s *Storage) LatestSleepSession(ctx context.Context, patientID string) (*models.SleepSession, error) {
	return s.latestSleepSession(ctx, patientID, minNanos, maxNanos)
}

func (s *Storage) latestSleepSession(ctx context.Context, patientID string, since, until int64) (*models.SleepSession, error) {
	var (
		session                     models.SleepSession
		start, end                  int64
		segments                    string
		hasStages                   int
		source, device, reliability string
	)
	err := s.queryRow(ctx, `
		SELECT id, patient_id, ts, sleep_end, segments, has_stage_data, source, device, reliability
		FROM sleep_sessions
		WHERE patient_id = ? AND sleep_end >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`, patientID, since, until,
	).Scan(&session.ID, &session.PatientID, &start, &end, &segments, &hasStages, &source, &device, &reliability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sleep session: %w", err)
	}

	if err := json.Unmarshal([]byte(segments), &session.Segments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
	}
	session.SleepStart = fromNanos(start)
	session.SleepEnd = fromNanos(end)
	session.HasStageData = hasStages != 0
	session.Source = models.DataSource(source)
	session.Device = models.DeviceType(device)
	session.Reliability = models.Reliability(reliability)
	return &session, nil
}

// SaveAlert persists a rhythm alert. Saving an existing ID is a no-op.
func (s *Storage) SaveAlert(ctx context.Context, a *models.Alert) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	_, err := s.exec(ctx, `
		INSERT INTO alerts (id, patient_id, ts, rhythm, heart_rate, variability, confidence, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.PatientID, toNanos(a.DetectedAt), string(a.Rhythm), a.HeartRate,
		a.Variability, a.Confidence, boolToInt(a.Notified))
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// MarkNotified flags the given alerts as delivered
func (s *Storage) MarkNotified(ctx context.Context, alertIDs []string) error {
	for _, id := range alertIDs {
		if _, err := s.exec(ctx, `UPDATE alerts SET notified = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to mark alert %s notified: %w", id, err)
		}
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first
func (s *Storage) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		return []models.Alert{}, nil
	}

	rows, err := s.query(ctx, `
		SELECT id, patient_id, ts, rhythm, heart_rate, variability, confidence, notified
		FROM alerts
		ORDER BY ts DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0, limit)
	for rows.Next() {
		var (
			a        models.Alert
			ts       int64
			rhythm   string
			notified int
		)
		if err := rows.Scan(&a.ID, &a.PatientID, &ts, &rhythm, &a.HeartRate, &a.Variability, &a.Confidence, &notified); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.DetectedAt = fromNanos(ts)
		a.Rhythm = models.Rhythm(rhythm)
		a.Notified = notified != 0
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}
