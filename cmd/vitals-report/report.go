package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/guardian/internal/extract"
	"github.com/rewired-gh/guardian/internal/models"
	"github.com/rewired-gh/guardian/internal/monitor"
)

// printReport renders the snapshot as a human-readable report
func printReport(w io.Writer, res *extract.Result, snap *models.VitalsSnapshot) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "VITALS REPORT - patient %s\n", snap.PatientID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "As of:      %s\n", snap.FetchedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Window:     %s\n", snap.Metadata.QueryWindow)
	fmt.Fprintf(w, "Source:     %s\n", snap.Metadata.Source)
	fmt.Fprintf(w, "Processed:  %d data points, %d duplicates filtered, %d readings kept\n",
		snap.Metadata.RawDataPointsProcessed, snap.Metadata.DuplicatesFiltered, res.Count())

	printVitals(w, snap)
	printSleep(w, snap.LastSleepSession)
	printRhythm(w, snap)
	printWarnings(w, snap.Metadata.Warnings)
}

func printVitals(w io.Writer, snap *models.VitalsSnapshot) {
	fmt.Fprintln(w, "\nLATEST VITALS:")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	if hr := snap.LatestHeartRate; hr != nil {
		fmt.Fprintf(w, "  Heart rate:  %d bpm%s  [%s, %s ago, %s reliability]\n",
			hr.BPM, mark(!hr.IsValid(), " (out of range)"), hr.Device, age(snap.FetchedAt, hr.Timestamp), hr.Reliability)
	} else {
		fmt.Fprintln(w, "  Heart rate:  no data")
	}

	if ox := snap.LatestOxygen; ox != nil {
		fmt.Fprintf(w, "  SpO2:        %d%%%s%s  [%s, %s ago]\n",
			ox.Percentage, mark(ox.IsLow(), " LOW"), mark(!ox.IsValid(), " (out of range)"), ox.Device, age(snap.FetchedAt, ox.Timestamp))
	} else {
		fmt.Fprintln(w, "  SpO2:        no data")
	}

	if hrv := snap.LatestHRV; hrv != nil {
		fmt.Fprintf(w, "  HRV (SDNN):  %.1f ms (%s)%s  [%s ago]\n",
			hrv.SDNNMs, hrv.Classification(), mark(!hrv.IsValid(), " (out of range)"), age(snap.FetchedAt, hrv.Timestamp))
		if hrv.HasRRIntervals() {
			fmt.Fprintf(w, "  R-R:         %d intervals\n", len(hrv.RRIntervals))
		}
	} else {
		fmt.Fprintln(w, "  HRV (SDNN):  no data")
	}
}

func printSleep(w io.Writer, s *models.SleepSession) {
	fmt.Fprintln(w, "\nLAST SLEEP SESSION:")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	if s == nil {
		fmt.Fprintln(w, "  no data")
		return
	}

	fmt.Fprintf(w, "  %s -> %s (%.2f h)%s\n",
		s.SleepStart.Format("2006-01-02 15:04"), s.SleepEnd.Format("15:04"), s.TotalHours(),
		mark(!s.IsMinimumLength(), " below minimum length"))

	pct := s.StagePercentages()
	if len(pct) == 0 {
		fmt.Fprintln(w, "  No stage data")
		return
	}
	stages := make([]models.SleepStage, 0, len(pct))
	for stage := range pct {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool {
		if pct[stages[i]] != pct[stages[j]] {
			return pct[stages[i]] > pct[stages[j]]
		}
		return stages[i] < stages[j]
	})
	for _, stage := range stages {
		fmt.Fprintf(w, "  %-7s %5.1f%%  %s\n", stage, pct[stage], s.DurationInStage(stage).Round(time.Minute))
	}
}

func printRhythm(w io.Writer, snap *models.VitalsSnapshot) {
	fmt.Fprintln(w, "\nRHYTHM:")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	hr := snap.LatestHeartRate
	if hr == nil || !hr.IsValid() {
		fmt.Fprintln(w, "  not assessed (no valid heart rate)")
		return
	}

	variability := 0.0
	if snap.LatestHRV != nil {
		variability = monitor.RRVariability(snap.LatestHRV.RRIntervals)
	}
	c := monitor.ClassifyRhythm(hr.BPM, variability)
	fmt.Fprintf(w, "  %s%s (confidence %.0f%%, variability %.1f ms)\n",
		c.Rhythm, mark(c.Critical, " CRITICAL"), c.Confidence*100, variability)
}

func printWarnings(w io.Writer, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w, "\nWARNINGS:")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, warning := range warnings {
		fmt.Fprintf(w, "  - %s\n", warning)
	}
}

func mark(cond bool, text string) string {
	if cond {
		return text
	}
	return ""
}

func age(now, ts time.Time) time.Duration {
	d := now.Sub(ts)
	if d < 0 {
		return 0
	}
	return d.Round(time.Minute)
}
