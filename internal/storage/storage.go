// Package storage provides SQL persistence for normalized health readings,
// sleep sessions and rhythm alerts.
//
// The same schema runs on SQLite (modernc.org/sqlite, the default, and
// ":memory:" for tests) and PostgreSQL (lib/pq). Queries are written with "?"
// placeholders and rebound for the postgres driver. Timestamps are stored as
// UTC unix nanoseconds so ordering is identical on both engines.
//
// Per-patient history is bounded by Rotate, which keeps only the newest
// maxReadingsPerPatient rows of each table.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/guardian/internal/models"
)

// ErrNotFound is returned when a lookup matches no rows
var ErrNotFound = errors.New("not found")

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS heart_rate_readings (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		bpm INTEGER NOT NULL,
		is_resting INTEGER NOT NULL,
		source TEXT NOT NULL,
		device TEXT NOT NULL,
		reliability TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_heart_rate_patient_ts ON heart_rate_readings (patient_id, ts)`,
	`CREATE TABLE IF NOT EXISTS oxygen_readings (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		percentage INTEGER NOT NULL,
		source TEXT NOT NULL,
		device TEXT NOT NULL,
		reliability TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oxygen_patient_ts ON oxygen_readings (patient_id, ts)`,
	`CREATE TABLE IF NOT EXISTS hrv_readings (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		sdnn_ms DOUBLE PRECISION NOT NULL,
		rr_intervals TEXT NOT NULL,
		source TEXT NOT NULL,
		device TEXT NOT NULL,
		reliability TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hrv_patient_ts ON hrv_readings (patient_id, ts)`,
	`CREATE TABLE IF NOT EXISTS sleep_sessions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		sleep_end BIGINT NOT NULL,
		segments TEXT NOT NULL,
		has_stage_data INTEGER NOT NULL,
		source TEXT NOT NULL,
		device TEXT NOT NULL,
		reliability TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sleep_patient_ts ON sleep_sessions (patient_id, ts)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		rhythm TEXT NOT NULL,
		heart_rate INTEGER NOT NULL,
		variability DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		notified INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts (ts)`,
}

// rotatedTables lists every per-patient table trimmed by Rotate
var rotatedTables = []string{
	"heart_rate_readings",
	"oxygen_readings",
	"hrv_readings",
	"sleep_sessions",
	"alerts",
}

// Storage provides SQL-backed persistence
type Storage struct {
	db     *sql.DB
	driver string

	maxReadingsPerPatient int
}

// New opens the database, applies the schema and returns a ready Storage.
// An empty driver selects SQLite.
func New(driver, dsn string, maxReadingsPerPatient int) (*Storage, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := NewWithDB(db, driver, maxReadingsPerPatient)
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already opened database without applying the schema.
func NewWithDB(db *sql.DB, driver string, maxReadingsPerPatient int) *Storage {
	return &Storage{
		db:                    db,
		driver:                driver,
		maxReadingsPerPatient: maxReadingsPerPatient,
	}
}

// Close releases the database handle
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// rebind converts "?" placeholders to "$n" for postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Storage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Storage) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Storage) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Patients returns every patient ID that has at least one reading or sleep session
func (s *Storage) Patients(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT patient_id FROM heart_rate_readings
		UNION SELECT patient_id FROM oxygen_readings
		UNION SELECT patient_id FROM hrv_readings
		UNION SELECT patient_id FROM sleep_sessions
		ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	patients := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, id)
	}
	return patients, rows.Err()
}

// CountInWindow counts the heart-rate, oxygen and HRV readings taken in [now-window, now].
func (s *Storage) CountInWindow(ctx context.Context, patientID string, window time.Duration, now time.Time) (int, error) {
	since, until := toNanos(now.Add(-window)), toNanos(now)

	var count int
	err := s.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM heart_rate_readings WHERE patient_id = ? AND ts >= ? AND ts <= ?) +
			(SELECT COUNT(*) FROM oxygen_readings WHERE patient_id = ? AND ts >= ? AND ts <= ?) +
			(SELECT COUNT(*) FROM hrv_readings WHERE patient_id = ? AND ts >= ? AND ts <= ?)`,
		patientID, since, until,
		patientID, since, until,
		patientID, since, until,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// Rotate keeps only the newest maxReadingsPerPatient rows per patient in every
// table and returns how many rows were removed. A non-positive limit disables rotation.
func (s *Storage) Rotate(ctx context.Context) (int64, error) {
	if s.maxReadingsPerPatient <= 0 {
		return 0, nil
	}

	var removed int64
	for _, table := range rotatedTables {
		res, err := s.exec(ctx, fmt.Sprintf(`
			DELETE FROM %[1]s WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY patient_id ORDER BY ts DESC, id DESC) AS rn
					FROM %[1]s
				) ranked WHERE rn > ?
			)`, table), s.maxReadingsPerPatient)
		if err != nil {
			return removed, fmt.Errorf("failed to rotate %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			removed += n
		}
	}
	return removed, nil
}

// Snapshot assembles a vitals snapshot from the newest rows of each category
// recorded in [now-window, now]. Metadata counts the readings in the window and
// warns about stale heart-rate and oxygen values.
func (s *Storage) Snapshot(ctx context.Context, patientID string, window time.Duration, now time.Time) (*models.VitalsSnapshot, error) {
	since, until := toNanos(now.Add(-window)), toNanos(now)

	snap := &models.VitalsSnapshot{
		PatientID: patientID,
		FetchedAt: now.UTC(),
		Metadata: models.SnapshotMetadata{
			Source:      models.SourceUnknown,
			QueryWindow: window,
			Warnings:    make([]string, 0),
		},
	}

	hr, err := s.latestHeartRate(ctx, patientID, since, until)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snap.LatestHeartRate = hr

	ox, err := s.latestOxygen(ctx, patientID, since, until)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snap.LatestOxygen = ox

	hrv, err := s.latestHRV(ctx, patientID, since, until)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snap.LatestHRV = hrv

	sleep, err := s.latestSleepSession(ctx, patientID, since, until)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snap.LastSleepSession = sleep

	count, err := s.CountInWindow(ctx, patientID, window, now)
	if err != nil {
		return nil, err
	}
	snap.Metadata.RawDataPointsProcessed = count

	switch {
	case hr != nil:
		snap.Metadata.Source = hr.Source
	case ox != nil:
		snap.Metadata.Source = ox.Source
	case hrv != nil:
		snap.Metadata.Source = hrv.Source
	case sleep != nil:
		snap.Metadata.Source = sleep.Source
	}

	if !snap.HasAnyData() {
		snap.Metadata.Warnings = append(snap.Metadata.Warnings,
			fmt.Sprintf("no data recorded in the last %s", window))
	}
	if hr != nil && now.Sub(hr.Timestamp) > models.HeartRateRecentWindow {
		snap.Metadata.Warnings = append(snap.Metadata.Warnings,
			fmt.Sprintf("latest heart rate is %s old", now.Sub(hr.Timestamp).Truncate(time.Second)))
	}
	if ox != nil && now.Sub(ox.Timestamp) > models.OxygenRecentWindow {
		snap.Metadata.Warnings = append(snap.Metadata.Warnings,
			fmt.Sprintf("latest oxygen reading is %s old", now.Sub(ox.Timestamp).Truncate(time.Second)))
	}

	return snap, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// unbounded range for Latest* lookups
const (
	minNanos = math.MinInt64
	maxNanos = math.MaxInt64
)
