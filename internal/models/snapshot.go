package models

import (
	"encoding/json"
	"time"
)

// SnapshotMetadata describes how a snapshot was produced. Consumers treat it as opaque.
type SnapshotMetadata struct {
	Source                 DataSource    `json:"source"`
	QueryWindow            time.Duration `json:"query_window"`
	RawDataPointsProcessed int           `json:"raw_data_points_processed"`
	DuplicatesFiltered     int           `json:"duplicates_filtered"`
	Warnings               []string      `json:"warnings"`
}

// VitalsSnapshot is a read-only rollup of the latest reading per category for one patient.
// Any of the latest-reading pointers may be nil.
type VitalsSnapshot struct {
	PatientID        string            `json:"patient_id"`
	FetchedAt        time.Time         `json:"fetched_at"`
	LatestHeartRate  *HeartRateReading `json:"latest_heart_rate,omitempty"`
	LatestOxygen     *OxygenReading    `json:"latest_oxygen,omitempty"`
	LatestHRV        *HRVReading       `json:"latest_hrv,omitempty"`
	LastSleepSession *SleepSession     `json:"last_sleep_session,omitempty"`
	Metadata         SnapshotMetadata  `json:"metadata"`
}

// HasHeartRate reports whether a heart-rate reading is present.
func (s *VitalsSnapshot) HasHeartRate() bool { return s.LatestHeartRate != nil }

// HasOxygen reports whether an SpO₂ reading is present.
func (s *VitalsSnapshot) HasOxygen() bool { return s.LatestOxygen != nil }

// HasHRV reports whether an HRV reading is present.
func (s *VitalsSnapshot) HasHRV() bool { return s.LatestHRV != nil }

// HasSleep reports whether a sleep session is present.
func (s *VitalsSnapshot) HasSleep() bool { return s.LastSleepSession != nil }

// HasAnyData is derived from the presence checks so it can never disagree with them.
func (s *VitalsSnapshot) HasAnyData() bool {
	return s.HasHeartRate() || s.HasOxygen() || s.HasHRV() || s.HasSleep()
}

// MarshalJSON adds the derived presence flags for presentation clients.
func (s VitalsSnapshot) MarshalJSON() ([]byte, error) {
	type plain VitalsSnapshot
	return json.Marshal(struct {
		plain
		HasHeartRate bool `json:"has_heart_rate"`
		HasOxygen    bool `json:"has_oxygen"`
		HasHRV       bool `json:"has_hrv"`
		HasSleep     bool `json:"has_sleep"`
		HasAnyData   bool `json:"has_any_data"`
	}{
		plain:        plain(s),
		HasHeartRate: s.HasHeartRate(),
		HasOxygen:    s.HasOxygen(),
		HasHRV:       s.HasHRV(),
		HasSleep:     s.HasSleep(),
		HasAnyData:   s.HasAnyData(),
	})
}
