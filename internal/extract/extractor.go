// Package extract turns raw health-platform samples into normalized readings,
// sleep sessions and vitals snapshots.
//
// The extractor owns every decision the model layer leaves open: which samples
// fall inside the query window, which are exact duplicates, how sleep-stage
// samples are grouped into sessions, and how much each reading is trusted.
// Out-of-range values are kept and reported as warnings; consumers decide
// plausibility through the models' IsValid predicates.
package extract

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/guardian/internal/models"
)

// Defaults applied when a Config field is zero
const (
	DefaultWindow          = 24 * time.Hour
	DefaultSleepSessionGap = time.Hour
	DefaultStaleAfter      = time.Hour
)

// futureTolerance absorbs clock skew between devices and the server.
const futureTolerance = time.Minute

// Config controls extraction
type Config struct {
	Window          time.Duration
	SleepSessionGap time.Duration
	StaleAfter      time.Duration
}

// Extractor normalizes raw samples
type Extractor struct {
	cfg Config
}

// New creates an Extractor, filling zero Config fields with defaults
func New(cfg Config) *Extractor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SleepSessionGap <= 0 {
		cfg.SleepSessionGap = DefaultSleepSessionGap
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Extractor{cfg: cfg}
}

// Window returns the query window applied by Extract
func (e *Extractor) Window() time.Duration {
	return e.cfg.Window
}

// Result holds the normalized output of one extraction
type Result struct {
	PatientID     string
	Window        time.Duration
	Source        models.DataSource
	HeartRates    []models.HeartRateReading
	Oxygen        []models.OxygenReading
	HRV           []models.HRVReading
	SleepSessions []models.SleepSession

	RawDataPoints      int
	DuplicatesFiltered int
	Warnings           []string
}

// Count returns the number of normalized readings and sessions produced.
func (r *Result) Count() int {
	return len(r.HeartRates) + len(r.Oxygen) + len(r.HRV) + len(r.SleepSessions)
}

// counters for aggregated warnings
type tally struct {
	invalid      int
	foreign      int
	future       int
	outside      int
	unknownTypes map[SampleType]int
	badHeartRate int
	badOxygen    int
	badHRV       int
	badSegments  int
	sourceCounts map[models.DataSource]int
	sourceOrder  []models.DataSource
}

// Extract normalizes samples for patientID relative to now.
func (e *Extractor) Extract(patientID string, samples []Sample, now time.Time) *Result {
	now = now.UTC()
	res := &Result{
		PatientID:     patientID,
		Window:        e.cfg.Window,
		Source:        models.SourceUnknown,
		HeartRates:    make([]models.HeartRateReading, 0),
		Oxygen:        make([]models.OxygenReading, 0),
		HRV:           make([]models.HRVReading, 0),
		SleepSessions: make([]models.SleepSession, 0),
		RawDataPoints: len(samples),
		Warnings:      make([]string, 0),
	}
	t := tally{
		unknownTypes: make(map[SampleType]int),
		sourceCounts: make(map[models.DataSource]int),
	}

	windowStart := now.Add(-e.cfg.Window)
	seen := make(map[dedupeKey]struct{}, len(samples))
	var segments []stagedSegment

	for i := range samples {
		s := &samples[i]
		if err := s.Validate(); err != nil {
			t.invalid++
			continue
		}
		if s.PatientID != "" && s.PatientID != patientID {
			t.foreign++
			continue
		}
		if s.Start.After(now.Add(futureTolerance)) {
			t.future++
			continue
		}
		if s.end().Before(windowStart) {
			t.outside++
			continue
		}
		if !s.Type.Known() {
			t.unknownTypes[s.Type]++
			continue
		}

		k := s.key()
		if _, dup := seen[k]; dup {
			res.DuplicatesFiltered++
			continue
		}
		seen[k] = struct{}{}

		source := models.ParseDataSource(s.Source)
		if _, ok := t.sourceCounts[source]; !ok {
			t.sourceOrder = append(t.sourceOrder, source)
		}
		t.sourceCounts[source]++

		device := models.ParseDeviceType(s.Device)
		ts := s.end().UTC()
		reliability := e.reliability(device, ts, now)

		switch s.Type {
		case TypeHeartRate, TypeRestingHeartRate:
			r := models.HeartRateReading{
				ID:          k.id(patientID),
				PatientID:   patientID,
				Timestamp:   ts,
				BPM:         int(math.Round(s.Value)),
				Source:      source,
				Device:      device,
				Reliability: reliability,
				IsResting:   s.Type == TypeRestingHeartRate,
			}
			if !r.IsValid() {
				t.badHeartRate++
			}
			res.HeartRates = append(res.HeartRates, r)

		case TypeOxygenSaturation:
			r := models.OxygenReading{
				ID:          k.id(patientID),
				PatientID:   patientID,
				Timestamp:   ts,
				Percentage:  int(math.Round(s.Value)),
				Source:      source,
				Device:      device,
				Reliability: reliability,
			}
			if !r.IsValid() {
				t.badOxygen++
			}
			res.Oxygen = append(res.Oxygen, r)

		case TypeHRV:
			r := models.HRVReading{
				ID:          k.id(patientID),
				PatientID:   patientID,
				Timestamp:   ts,
				SDNNMs:      s.Value,
				Source:      source,
				Device:      device,
				Reliability: reliability,
			}
			if len(s.RRIntervals) > 0 {
				r.RRIntervals = append([]float64(nil), s.RRIntervals...)
			}
			if !r.IsValid() {
				t.badHRV++
			}
			res.HRV = append(res.HRV, r)

		case TypeSleepStage:
			seg := models.SleepSegment{
				Start: s.Start.UTC(),
				End:   s.end().UTC(),
				Stage: models.ParseSleepStage(s.Stage),
			}
			if !seg.IsValid() {
				t.badSegments++
				continue
			}
			segments = append(segments, stagedSegment{SleepSegment: seg, source: source, device: device})
		}
	}

	res.SleepSessions = e.groupSleep(patientID, segments)
	res.Source = dominantSource(t)
	sortReadings(res)
	res.Warnings = t.warnings(res, e.cfg.Window)
	return res
}

// reliability is high for fresh wearable data, medium for other fresh data,
// and low once the reading is older than StaleAfter.
func (e *Extractor) reliability(device models.DeviceType, ts, now time.Time) models.Reliability {
	switch {
	case now.Sub(ts) > e.cfg.StaleAfter:
		return models.ReliabilityLow
	case device.IsWearable():
		return models.ReliabilityHigh
	default:
		return models.ReliabilityMedium
	}
}

type stagedSegment struct {
	models.SleepSegment
	source models.DataSource
	device models.DeviceType
}

// groupSleep sorts segments and starts a new session whenever the gap since the
// previous segment's end exceeds SleepSessionGap. Session reliability depends on
// the device only; a night's sleep is always hours old when it is read.
func (e *Extractor) groupSleep(patientID string, segments []stagedSegment) []models.SleepSession {
	sessions := make([]models.SleepSession, 0)
	if len(segments) == 0 {
		return sessions
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start.Before(segments[j].Start)
	})

	var current *models.SleepSession
	flush := func() {
		if current != nil {
			sessions = append(sessions, *current)
		}
	}
	for _, seg := range segments {
		if current == nil || seg.Start.Sub(current.SleepEnd) > e.cfg.SleepSessionGap {
			flush()
			reliability := models.ReliabilityMedium
			if seg.device.IsWearable() {
				reliability = models.ReliabilityHigh
			}
			current = &models.SleepSession{
				ID:          sessionID(patientID, seg.Start),
				PatientID:   patientID,
				SleepStart:  seg.Start,
				SleepEnd:    seg.End,
				Source:      seg.source,
				Device:      seg.device,
				Reliability: reliability,
			}
		}
		current.Segments = append(current.Segments, seg.SleepSegment)
		if seg.End.After(current.SleepEnd) {
			current.SleepEnd = seg.End
		}
		if seg.Stage.IsSpecific() {
			current.HasStageData = true
		}
	}
	flush()
	return sessions
}

func dominantSource(t tally) models.DataSource {
	best := models.SourceUnknown
	bestCount := 0
	for _, s := range t.sourceOrder {
		if c := t.sourceCounts[s]; c > bestCount {
			best, bestCount = s, c
		}
	}
	return best
}

func sortReadings(res *Result) {
	sort.SliceStable(res.HeartRates, func(i, j int) bool {
		return res.HeartRates[i].Timestamp.Before(res.HeartRates[j].Timestamp)
	})
	sort.SliceStable(res.Oxygen, func(i, j int) bool {
		return res.Oxygen[i].Timestamp.Before(res.Oxygen[j].Timestamp)
	})
	sort.SliceStable(res.HRV, func(i, j int) bool {
		return res.HRV[i].Timestamp.Before(res.HRV[j].Timestamp)
	})
}

func (t tally) warnings(res *Result, window time.Duration) []string {
	w := make([]string, 0)
	if t.invalid > 0 {
		w = append(w, fmt.Sprintf("%d malformed samples skipped", t.invalid))
	}
	if t.foreign > 0 {
		w = append(w, fmt.Sprintf("%d samples for other patients skipped", t.foreign))
	}
	if t.future > 0 {
		w = append(w, fmt.Sprintf("%d samples with future timestamps skipped", t.future))
	}
	if t.outside > 0 {
		w = append(w, fmt.Sprintf("%d samples outside the %s window skipped", t.outside, window))
	}

	types := make([]string, 0, len(t.unknownTypes))
	for typ := range t.unknownTypes {
		types = append(types, string(typ))
	}
	sort.Strings(types)
	for _, typ := range types {
		w = append(w, fmt.Sprintf("unknown sample type %q (%d samples)", typ, t.unknownTypes[SampleType(typ)]))
	}

	if t.badHeartRate > 0 {
		w = append(w, fmt.Sprintf("%d heart rate readings outside %d-%d bpm", t.badHeartRate, models.MinHeartRateBPM, models.MaxHeartRateBPM))
	}
	if t.badOxygen > 0 {
		w = append(w, fmt.Sprintf("%d oxygen readings outside %d-%d%%", t.badOxygen, models.MinOxygenPercentage, models.MaxOxygenPercentage))
	}
	if t.badHRV > 0 {
		w = append(w, fmt.Sprintf("%d hrv readings outside %.0f-%.0f ms", t.badHRV, models.MinSDNNMs, models.MaxSDNNMs))
	}
	if t.badSegments > 0 {
		w = append(w, fmt.Sprintf("%d sleep segments ending before they start dropped", t.badSegments))
	}
	if res.Count() == 0 {
		w = append(w, fmt.Sprintf("no data in the last %s", window))
	}
	return w
}

// Snapshot picks the newest reading of each category and the most recently
// ended sleep session.
func (r *Result) Snapshot(now time.Time) *models.VitalsSnapshot {
	snap := &models.VitalsSnapshot{
		PatientID: r.PatientID,
		FetchedAt: now.UTC(),
		Metadata: models.SnapshotMetadata{
			Source:                 r.Source,
			QueryWindow:            r.Window,
			RawDataPointsProcessed: r.RawDataPoints,
			DuplicatesFiltered:     r.DuplicatesFiltered,
			Warnings:               append(make([]string, 0, len(r.Warnings)), r.Warnings...),
		},
	}

	for i := range r.HeartRates {
		if snap.LatestHeartRate == nil || r.HeartRates[i].Timestamp.After(snap.LatestHeartRate.Timestamp) {
			hr := r.HeartRates[i]
			snap.LatestHeartRate = &hr
		}
	}
	for i := range r.Oxygen {
		if snap.LatestOxygen == nil || r.Oxygen[i].Timestamp.After(snap.LatestOxygen.Timestamp) {
			ox := r.Oxygen[i]
			snap.LatestOxygen = &ox
		}
	}
	for i := range r.HRV {
		if snap.LatestHRV == nil || r.HRV[i].Timestamp.After(snap.LatestHRV.Timestamp) {
			hrv := r.HRV[i]
			snap.LatestHRV = &hrv
		}
	}
	for i := range r.SleepSessions {
		if snap.LastSleepSession == nil || r.SleepSessions[i].SleepEnd.After(snap.LastSleepSession.SleepEnd) {
			s := r.SleepSessions[i]
			snap.LastSleepSession = &s
		}
	}
	return snap
}
