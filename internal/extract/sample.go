package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// idNamespace scopes the name-based UUIDs derived for readings and sessions.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/rewired-gh/guardian/readings"))

// SampleType names the kind of raw data point delivered by a health platform
type SampleType string

const (
	TypeHeartRate        SampleType = "heart_rate"
	TypeRestingHeartRate SampleType = "resting_heart_rate"
	TypeOxygenSaturation SampleType = "oxygen_saturation"
	TypeHRV              SampleType = "heart_rate_variability"
	TypeSleepStage       SampleType = "sleep_stage"
)

// Known reports whether t is a sample type the extractor understands.
func (t SampleType) Known() bool {
	switch t {
	case TypeHeartRate, TypeRestingHeartRate, TypeOxygenSaturation, TypeHRV, TypeSleepStage:
		return true
	}
	return false
}

// Sample is one raw data point as delivered by a platform query, an HTTP client
// or an MQTT device bridge. End defaults to Start for instantaneous samples.
// Source and Device are free-form and are normalized during extraction.
type Sample struct {
	Type        SampleType `json:"type" validate:"required"`
	PatientID   string     `json:"patient_id,omitempty"`
	Start       time.Time  `json:"start" validate:"required"`
	End         time.Time  `json:"end,omitempty"`
	Value       float64    `json:"value" validate:"gte=0"`
	Unit        string     `json:"unit,omitempty"`
	Stage       string     `json:"stage,omitempty" validate:"required_if=Type sleep_stage"`
	Source      string     `json:"source,omitempty"`
	Device      string     `json:"device,omitempty"`
	RRIntervals []float64  `json:"rr_intervals,omitempty" validate:"omitempty,dive,gt=0"`
}

// Validate checks the sample's structure. It does not judge plausibility.
func (s *Sample) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	if !s.End.IsZero() && s.End.Before(s.Start) {
		return errors.New("end must not be before start")
	}
	return nil
}

// end returns End, or Start for instantaneous samples.
func (s *Sample) end() time.Time {
	if s.End.IsZero() {
		return s.Start
	}
	return s.End
}

// ValidateSamples returns the first structural error in a batch, prefixed by its index.
func ValidateSamples(samples []Sample) error {
	for i := range samples {
		if err := samples[i].Validate(); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}

// dedupeKey identifies exact duplicates: same type, interval, value and stage.
type dedupeKey struct {
	typ   SampleType
	start int64
	end   int64
	value float64
	stage string
}

func (s *Sample) key() dedupeKey {
	return dedupeKey{
		typ:   s.Type,
		start: s.Start.UnixNano(),
		end:   s.end().UnixNano(),
		value: s.Value,
		stage: strings.ToLower(strings.TrimSpace(s.Stage)),
	}
}

// id derives a stable reading ID from the key, so a sample that arrives again in
// a later batch maps to the row already stored.
func (k dedupeKey) id(patientID string) string {
	name := fmt.Sprintf("%s|%s|%d|%d|%g|%s", patientID, k.typ, k.start, k.end, k.value, k.stage)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// sessionID identifies a sleep session by patient and start time.
func sessionID(patientID string, start time.Time) string {
	name := fmt.Sprintf("%s|%s|%d", patientID, TypeSleepStage, start.UnixNano())
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
