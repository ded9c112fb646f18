package models

import (
	"errors"
	"time"
)

// Rhythm is the label produced by the rule-based rhythm classifier
type Rhythm string

const (
	RhythmNormalSinus        Rhythm = "Normal Sinus Rhythm"
	RhythmSinusTachycardia   Rhythm = "Sinus Tachycardia"
	RhythmSinusBradycardia   Rhythm = "Sinus Bradycardia"
	RhythmPossibleArrhythmia Rhythm = "Possible Arrhythmia"
)

// RhythmAssessment is the result of classifying a patient's latest heart data
type RhythmAssessment struct {
	PatientID   string    `json:"patient_id"`
	Rhythm      Rhythm    `json:"rhythm"`
	Critical    bool      `json:"critical"`
	Confidence  float64   `json:"confidence"`
	HeartRate   int       `json:"heart_rate"`
	Variability float64   `json:"variability_ms"`
	AssessedAt  time.Time `json:"assessed_at"`
}

// Alert is a critical rhythm assessment queued for notification
type Alert struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	Rhythm      Rhythm    `json:"rhythm"`
	HeartRate   int       `json:"heart_rate"`
	Variability float64   `json:"variability_ms"`
	Confidence  float64   `json:"confidence"`
	DetectedAt  time.Time `json:"detected_at"`
	Notified    bool      `json:"notified"`
}

// Validate checks that all alert fields are valid
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.PatientID == "" {
		return errors.New("patient ID must not be empty")
	}
	switch a.Rhythm {
	case RhythmNormalSinus, RhythmSinusTachycardia, RhythmSinusBradycardia, RhythmPossibleArrhythmia:
	default:
		return errors.New("unknown rhythm: " + string(a.Rhythm))
	}
	if a.Confidence < 0.0 || a.Confidence > 1.0 {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	if a.Variability < 0 {
		return errors.New("variability must not be negative")
	}
	if a.DetectedAt.IsZero() {
		return errors.New("detected at must be set")
	}
	if a.DetectedAt.After(time.Now().Add(time.Minute)) {
		return errors.New("detected at must not be in the future")
	}
	return nil
}
