package models

import "strings"

// DataSource identifies the platform a reading was extracted from
type DataSource string

const (
	SourceAppleHealth   DataSource = "apple_health"
	SourceHealthConnect DataSource = "health_connect"
	SourceManual        DataSource = "manual"
	SourceSimulated     DataSource = "simulated"
	SourceUnknown       DataSource = "unknown"
)

// Valid reports whether s is one of the known sources.
func (s DataSource) Valid() bool {
	switch s {
	case SourceAppleHealth, SourceHealthConnect, SourceManual, SourceSimulated, SourceUnknown:
		return true
	}
	return false
}

// ParseDataSource maps free-form input onto a DataSource, falling back to SourceUnknown.
func ParseDataSource(s string) DataSource {
	v := DataSource(normalizeEnum(s))
	if v.Valid() {
		return v
	}
	return SourceUnknown
}

// DeviceType identifies the kind of device that produced a reading
type DeviceType string

const (
	DeviceAppleWatch    DeviceType = "apple_watch"
	DeviceWearOS        DeviceType = "wear_os"
	DeviceFitnessBand   DeviceType = "fitness_band"
	DeviceSmartRing     DeviceType = "smart_ring"
	DevicePhone         DeviceType = "phone"
	DevicePulseOximeter DeviceType = "pulse_oximeter"
	DeviceUnknown       DeviceType = "unknown"
)

// Valid reports whether d is one of the known device types.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceAppleWatch, DeviceWearOS, DeviceFitnessBand, DeviceSmartRing, DevicePhone, DevicePulseOximeter, DeviceUnknown:
		return true
	}
	return false
}

// IsWearable reports whether the device is worn on the body and samples continuously.
func (d DeviceType) IsWearable() bool {
	switch d {
	case DeviceAppleWatch, DeviceWearOS, DeviceFitnessBand, DeviceSmartRing, DevicePulseOximeter:
		return true
	}
	return false
}

// ParseDeviceType maps free-form input onto a DeviceType, falling back to DeviceUnknown.
// Source names reported by Apple Health ("Jane's Apple Watch") are recognised by substring.
func ParseDeviceType(s string) DeviceType {
	v := DeviceType(normalizeEnum(s))
	if v.Valid() {
		return v
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "watch") && strings.Contains(lower, "apple"):
		return DeviceAppleWatch
	case strings.Contains(lower, "wear os"), strings.Contains(lower, "galaxy watch"), strings.Contains(lower, "pixel watch"):
		return DeviceWearOS
	case strings.Contains(lower, "ring"):
		return DeviceSmartRing
	case strings.Contains(lower, "band"), strings.Contains(lower, "fitbit"), strings.Contains(lower, "whoop"):
		return DeviceFitnessBand
	case strings.Contains(lower, "oximeter"):
		return DevicePulseOximeter
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "phone"):
		return DevicePhone
	}
	return DeviceUnknown
}

// Reliability is a coarse trust tag assigned by the extraction layer
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
	ReliabilityLow    Reliability = "low"
)

// Valid reports whether r is one of the known reliability tags.
func (r Reliability) Valid() bool {
	return r == ReliabilityHigh || r == ReliabilityMedium || r == ReliabilityLow
}

// ParseReliability maps free-form input onto a Reliability, falling back to ReliabilityLow.
func ParseReliability(s string) Reliability {
	v := Reliability(normalizeEnum(s))
	if v.Valid() {
		return v
	}
	return ReliabilityLow
}

// SleepStage tags one sleep segment
type SleepStage string

const (
	StageAwake   SleepStage = "awake"
	StageLight   SleepStage = "light"
	StageDeep    SleepStage = "deep"
	StageREM     SleepStage = "rem"
	StageAsleep  SleepStage = "asleep"
	StageUnknown SleepStage = "unknown"
)

// Valid reports whether s is one of the known stages.
func (s SleepStage) Valid() bool {
	switch s {
	case StageAwake, StageLight, StageDeep, StageREM, StageAsleep, StageUnknown:
		return true
	}
	return false
}

// IsSpecific reports whether the stage carries real staging information.
// Generic "asleep" and "unknown" segments only say that the patient slept.
func (s SleepStage) IsSpecific() bool {
	return s == StageAwake || s == StageLight || s == StageDeep || s == StageREM
}

// ParseSleepStage maps free-form input onto a SleepStage. Apple Health calls
// light sleep "core"; it is folded into StageLight.
func ParseSleepStage(s string) SleepStage {
	switch v := normalizeEnum(s); v {
	case "core":
		return StageLight
	case "in_bed", "inbed":
		return StageAwake
	default:
		if st := SleepStage(v); st.Valid() {
			return st
		}
	}
	return StageUnknown
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
