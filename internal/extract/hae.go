package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rewired-gh/guardian/internal/models"
)

// appleEpochOffset is the number of seconds between the Unix epoch and
// 2001-01-01, the epoch used by Health Auto Export files.
const appleEpochOffset int64 = 978307200

func appleTime(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec+appleEpochOffset, nsec).UTC()
}

// haeMetric is the root object of a Health Auto Export metric file
type haeMetric struct {
	Metric string         `json:"metric"`
	Data   []haeDataPoint `json:"data"`
}

type haeDataPoint struct {
	Metric  string      `json:"metric"`
	Start   float64     `json:"start"`
	End     float64     `json:"end"`
	Unit    string      `json:"unit"`
	Qty     *float64    `json:"qty,omitempty"`
	Min     *float64    `json:"min,omitempty"`
	Avg     *float64    `json:"avg,omitempty"`
	Max     *float64    `json:"max,omitempty"`
	Sources []haeSource `json:"sources,omitempty"`

	TotalSleep *float64 `json:"totalSleep,omitempty"`
	Awake      *float64 `json:"awake,omitempty"`
	Core       *float64 `json:"core,omitempty"`
	Deep       *float64 `json:"deep,omitempty"`
	REM        *float64 `json:"rem,omitempty"`
}

type haeSource struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

func (dp *haeDataPoint) sourceName() string {
	if len(dp.Sources) > 0 {
		return dp.Sources[0].Name
	}
	return ""
}

// sleepStage returns the first stage field with a positive duration.
func (dp *haeDataPoint) sleepStage() (string, float64) {
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"awake", dp.Awake},
		{"core", dp.Core},
		{"deep", dp.Deep},
		{"rem", dp.REM},
		{"asleep", dp.TotalSleep},
	} {
		if f.v != nil && *f.v > 0 {
			return f.name, *f.v
		}
	}
	return "", 0
}

// sampleTypeForMetric maps Health Auto Export metric names to sample types
var sampleTypeForMetric = map[string]SampleType{
	"heart_rate":              TypeHeartRate,
	"resting_heart_rate":      TypeRestingHeartRate,
	"blood_oxygen_saturation": TypeOxygenSaturation,
	"oxygen_saturation":       TypeOxygenSaturation,
	"heart_rate_variability":  TypeHRV,
	"sleep_analysis":          TypeSleepStage,
}

// ParseHealthExport reads a Health Auto Export metric file (a single metric
// object or an array of them) and returns its supported data points as samples
// for patientID. Metrics the extractor does not model, such as step counts, are
// skipped. SpO₂ values written as a fraction are scaled to percent.
func ParseHealthExport(r io.Reader, patientID string) ([]Sample, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("export is empty")
	}

	var metrics []haeMetric
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &metrics)
	} else {
		var m haeMetric
		err = json.Unmarshal(raw, &m)
		metrics = []haeMetric{m}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}

	samples := make([]Sample, 0)
	for _, m := range metrics {
		for i := range m.Data {
			dp := &m.Data[i]
			name := dp.Metric
			if name == "" {
				name = m.Metric
			}
			typ, ok := sampleTypeForMetric[strings.ToLower(name)]
			if !ok {
				continue
			}
			if s, ok := sampleFromDataPoint(typ, dp, patientID); ok {
				samples = append(samples, s)
			}
		}
	}
	return samples, nil
}

func sampleFromDataPoint(typ SampleType, dp *haeDataPoint, patientID string) (Sample, bool) {
	s := Sample{
		Type:      typ,
		PatientID: patientID,
		Start:     appleTime(dp.Start),
		Unit:      dp.Unit,
		Source:    string(models.SourceAppleHealth),
		Device:    dp.sourceName(),
	}
	if dp.End > dp.Start {
		s.End = appleTime(dp.End)
	}

	switch typ {
	case TypeHeartRate:
		switch {
		case dp.Avg != nil:
			s.Value = *dp.Avg
		case dp.Qty != nil:
			s.Value = *dp.Qty
		default:
			return s, false
		}
	case TypeSleepStage:
		stage, _ := dp.sleepStage()
		if stage == "" {
			return s, false
		}
		s.Stage = stage
	case TypeOxygenSaturation:
		if dp.Qty == nil {
			return s, false
		}
		s.Value = *dp.Qty
		// Health Auto Export reports saturation as a fraction even when units is "%".
		// Samples from other channels are already in percent.
		if s.Value <= 1 {
			s.Value *= 100
		}
		s.Unit = "%"
	default:
		if dp.Qty == nil {
			return s, false
		}
		s.Value = *dp.Qty
	}
	return s, true
}
