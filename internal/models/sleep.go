package models

import (
	"errors"
	"time"
)

// MinSleepSessionLength is the shortest session counted as a real night's sleep.
const MinSleepSessionLength = 30 * time.Minute

// SleepSegment is one interval spent in a single sleep stage
type SleepSegment struct {
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Stage SleepStage `json:"stage"`
}

// IsValid reports whether the segment ends after it starts.
func (s SleepSegment) IsValid() bool {
	return s.End.After(s.Start)
}

// Duration returns End - Start.
func (s SleepSegment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// SleepSession is one night's sleep with optional per-stage segments.
//
// Segments are expected to lie within [SleepStart, SleepEnd] but this is not
// enforced here; the extraction layer reports violations as snapshot warnings.
type SleepSession struct {
	ID           string         `json:"id"`
	PatientID    string         `json:"patient_id"`
	SleepStart   time.Time      `json:"sleep_start"`
	SleepEnd     time.Time      `json:"sleep_end"`
	Segments     []SleepSegment `json:"segments"`
	HasStageData bool           `json:"has_stage_data"`
	Source       DataSource     `json:"source"`
	Device       DeviceType     `json:"device"`
	Reliability  Reliability    `json:"reliability"`
}

// IsValid reports whether the session ends after it starts.
func (s *SleepSession) IsValid() bool {
	return s.SleepEnd.After(s.SleepStart)
}

// TotalDuration returns SleepEnd - SleepStart.
func (s *SleepSession) TotalDuration() time.Duration {
	return s.SleepEnd.Sub(s.SleepStart)
}

// TotalHours returns the session length in fractional hours.
func (s *SleepSession) TotalHours() float64 {
	return s.TotalDuration().Hours()
}

// IsMinimumLength reports whether the session lasted at least 30 minutes.
func (s *SleepSession) IsMinimumLength() bool {
	return s.TotalDuration() >= MinSleepSessionLength
}

// DurationInStage sums the durations of all segments tagged with stage.
// Segments need not be sorted; segments that end before they start contribute nothing.
func (s *SleepSession) DurationInStage(stage SleepStage) time.Duration {
	var total time.Duration
	for _, seg := range s.Segments {
		if seg.Stage == stage && seg.IsValid() {
			total += seg.Duration()
		}
	}
	return total
}

// StagePercentages returns, for every stage present in Segments, the share of the
// total session duration spent in that stage as a percentage.
//
// The map is empty when the session has no stage data or no positive duration.
// Values are not normalized and need not sum to 100 when the segments leave gaps.
func (s *SleepSession) StagePercentages() map[SleepStage]float64 {
	result := make(map[SleepStage]float64)
	total := s.TotalDuration()
	if !s.HasStageData || total <= 0 {
		return result
	}

	for _, seg := range s.Segments {
		if _, seen := result[seg.Stage]; seen {
			continue
		}
		result[seg.Stage] = float64(s.DurationInStage(seg.Stage)) / float64(total) * 100
	}
	return result
}

// Validate checks that the session can be persisted
func (s *SleepSession) Validate() error {
	if err := validateHeader(s.ID, s.PatientID, s.SleepStart); err != nil {
		return err
	}
	if s.SleepEnd.IsZero() {
		return errors.New("sleep end must be set")
	}
	for _, seg := range s.Segments {
		if !seg.Stage.Valid() {
			return errors.New("unknown sleep stage: " + string(seg.Stage))
		}
	}
	return validateProvenance(s.Source, s.Device, s.Reliability)
}
