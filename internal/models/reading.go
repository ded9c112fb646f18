// Package models defines the normalized health-data model for the guardian service.
// These models represent pulse, blood-oxygen and heart-rate-variability readings,
// sleep sessions, and the per-patient vitals snapshot that presentation code reads.
//
// All models are immutable value objects. Physiological plausibility is exposed as
// boolean predicates (IsValid, IsLow, IsRecent) computed at call time; Validate only
// checks that a value is structurally complete enough to be persisted.
package models

import (
	"errors"
	"time"
)

// Physiological limits and recency windows for readings.
const (
	MinHeartRateBPM = 30
	MaxHeartRateBPM = 250

	MinOxygenPercentage = 70
	MaxOxygenPercentage = 100
	LowOxygenPercentage = 94

	MinSDNNMs = 0.0
	MaxSDNNMs = 300.0

	HeartRateRecentWindow = 5 * time.Minute
	OxygenRecentWindow    = 15 * time.Minute
)

// HRV classification labels, bucketed by SDNN.
const (
	HRVVeryLow = "Very Low"
	HRVLow     = "Low"
	HRVNormal  = "Normal"
	HRVHigh    = "High"
)

// HeartRateReading is one pulse measurement
type HeartRateReading struct {
	ID          string      `json:"id"`
	PatientID   string      `json:"patient_id"`
	Timestamp   time.Time   `json:"timestamp"`
	BPM         int         `json:"bpm"`
	Source      DataSource  `json:"source"`
	Device      DeviceType  `json:"device"`
	Reliability Reliability `json:"reliability"`
	IsResting   bool        `json:"is_resting"`
}

// IsValid reports whether the pulse is within 30–250 bpm inclusive.
func (r *HeartRateReading) IsValid() bool {
	return r.BPM >= MinHeartRateBPM && r.BPM <= MaxHeartRateBPM
}

// IsRecent reports whether the reading was taken within the last 5 minutes.
func (r *HeartRateReading) IsRecent() bool {
	return withinWindow(r.Timestamp, HeartRateRecentWindow)
}

// Validate checks that the reading can be persisted
func (r *HeartRateReading) Validate() error {
	if err := validateHeader(r.ID, r.PatientID, r.Timestamp); err != nil {
		return err
	}
	return validateProvenance(r.Source, r.Device, r.Reliability)
}

// OxygenReading is one SpO₂ measurement
type OxygenReading struct {
	ID          string      `json:"id"`
	PatientID   string      `json:"patient_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Percentage  int         `json:"percentage"`
	Source      DataSource  `json:"source"`
	Device      DeviceType  `json:"device"`
	Reliability Reliability `json:"reliability"`
}

// IsValid reports whether the saturation is within 70–100% inclusive.
func (r *OxygenReading) IsValid() bool {
	return r.Percentage >= MinOxygenPercentage && r.Percentage <= MaxOxygenPercentage
}

// IsLow reports whether the saturation is below 94%.
func (r *OxygenReading) IsLow() bool {
	return r.Percentage < LowOxygenPercentage
}

// IsRecent reports whether the reading was taken within the last 15 minutes.
func (r *OxygenReading) IsRecent() bool {
	return withinWindow(r.Timestamp, OxygenRecentWindow)
}

// Validate checks that the reading can be persisted
func (r *OxygenReading) Validate() error {
	if err := validateHeader(r.ID, r.PatientID, r.Timestamp); err != nil {
		return err
	}
	if r.Percentage < 0 || r.Percentage > 100 {
		return errors.New("percentage must be between 0 and 100")
	}
	return validateProvenance(r.Source, r.Device, r.Reliability)
}

// HRVReading is one heart-rate-variability measurement.
// RRIntervals, when present, holds successive beat-to-beat intervals in milliseconds.
type HRVReading struct {
	ID          string      `json:"id"`
	PatientID   string      `json:"patient_id"`
	Timestamp   time.Time   `json:"timestamp"`
	SDNNMs      float64     `json:"sdnn_ms"`
	Source      DataSource  `json:"source"`
	Device      DeviceType  `json:"device"`
	Reliability Reliability `json:"reliability"`
	RRIntervals []float64   `json:"rr_intervals,omitempty"`
}

// IsValid reports whether SDNN is within 0–300 ms inclusive.
func (r *HRVReading) IsValid() bool {
	return r.SDNNMs >= MinSDNNMs && r.SDNNMs <= MaxSDNNMs
}

// Classification buckets SDNN at 20/50/100 ms.
func (r *HRVReading) Classification() string {
	switch {
	case r.SDNNMs < 20:
		return HRVVeryLow
	case r.SDNNMs < 50:
		return HRVLow
	case r.SDNNMs < 100:
		return HRVNormal
	default:
		return HRVHigh
	}
}

// HasRRIntervals reports whether beat-to-beat intervals were captured.
func (r *HRVReading) HasRRIntervals() bool {
	return len(r.RRIntervals) > 0
}

// Validate checks that the reading can be persisted
func (r *HRVReading) Validate() error {
	if err := validateHeader(r.ID, r.PatientID, r.Timestamp); err != nil {
		return err
	}
	for _, rr := range r.RRIntervals {
		if rr <= 0 {
			return errors.New("rr intervals must be positive")
		}
	}
	return validateProvenance(r.Source, r.Device, r.Reliability)
}

func withinWindow(ts time.Time, window time.Duration) bool {
	return time.Since(ts) <= window
}

func validateHeader(id, patientID string, ts time.Time) error {
	if id == "" {
		return errors.New("reading ID must not be empty")
	}
	if patientID == "" {
		return errors.New("patient ID must not be empty")
	}
	if ts.IsZero() {
		return errors.New("timestamp must be set")
	}
	return nil
}

func validateProvenance(source DataSource, device DeviceType, reliability Reliability) error {
	if !source.Valid() {
		return errors.New("unknown data source: " + string(source))
	}
	if !device.Valid() {
		return errors.New("unknown device type: " + string(device))
	}
	if !reliability.Valid() {
		return errors.New("unknown reliability: " + string(reliability))
	}
	return nil
}
