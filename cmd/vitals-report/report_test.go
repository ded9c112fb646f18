package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/guardian/internal/extract"
)

var reportNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestPrintReport(t *testing.T) {
	samples := []extract.Sample{
		{Type: extract.TypeHeartRate, Start: reportNow.Add(-5 * time.Minute), Value: 128, Device: "Apple Watch"},
		{Type: extract.TypeOxygenSaturation, Start: reportNow.Add(-10 * time.Minute), Value: 92, Device: "Apple Watch"},
		{Type: extract.TypeHRV, Start: reportNow.Add(-10 * time.Minute), Value: 35, RRIntervals: []float64{470, 468, 472}},
		{Type: extract.TypeSleepStage, Start: reportNow.Add(-8 * time.Hour), End: reportNow.Add(-6 * time.Hour), Stage: "light"},
		{Type: extract.TypeSleepStage, Start: reportNow.Add(-6 * time.Hour), End: reportNow.Add(-5 * time.Hour), Stage: "deep"},
		{Type: "step_count", Start: reportNow.Add(-time.Hour), Value: 400},
	}
	res := extract.New(extract.Config{}).Extract("p-1", samples, reportNow)

	var buf bytes.Buffer
	printReport(&buf, res, res.Snapshot(reportNow))
	out := buf.String()

	assert.Contains(t, out, "VITALS REPORT - patient p-1")
	assert.Contains(t, out, "Heart rate:  128 bpm")
	assert.Contains(t, out, "SpO2:        92% LOW")
	assert.Contains(t, out, "HRV (SDNN):  35.0 ms")
	assert.Contains(t, out, "R-R:         3 intervals")
	assert.Contains(t, out, "(3.00 h)")
	assert.Contains(t, out, "Sinus Tachycardia CRITICAL")
	assert.Contains(t, out, "WARNINGS:")

	// Stages are listed by share, largest first.
	light := strings.Index(out, "light")
	deep := strings.Index(out, "deep")
	require.True(t, light > 0 && deep > 0)
	assert.Less(t, light, deep)
}

func TestPrintReport_Empty(t *testing.T) {
	res := extract.New(extract.Config{}).Extract("p-1", nil, reportNow)

	var buf bytes.Buffer
	printReport(&buf, res, res.Snapshot(reportNow))
	out := buf.String()

	assert.Contains(t, out, "Heart rate:  no data")
	assert.Contains(t, out, "not assessed (no valid heart rate)")
	assert.Contains(t, out, "no data in the last 24h0m0s")
}

func TestAge(t *testing.T) {
	assert.Equal(t, 5*time.Minute, age(reportNow, reportNow.Add(-5*time.Minute-10*time.Second)))
	assert.Equal(t, time.Duration(0), age(reportNow, reportNow.Add(time.Minute)))
}
