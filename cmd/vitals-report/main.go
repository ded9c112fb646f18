// Command vitals-report runs the extractor over a Health Auto Export file and
// prints the resulting vitals snapshot without touching a database.
//
// Usage:
//
//	vitals-report -file export.json [-patient p-1] [-window 24h] [-at 2026-03-01T08:00:00Z] [-json]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rewired-gh/guardian/internal/extract"
	"github.com/rewired-gh/guardian/internal/logger"
)

func main() {
	file := flag.String("file", "", "Path to a Health Auto Export JSON file")
	patientID := flag.String("patient", "local", "Patient ID to attribute samples to")
	window := flag.Duration("window", 24*time.Hour, "Lookback window")
	at := flag.String("at", "", "Evaluate as of this RFC3339 time (default now)")
	asJSON := flag.Bool("json", false, "Print the snapshot as JSON")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logger.Init(*logLevel, "text")
	defer logger.Sync()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: vitals-report -file export.json")
		flag.PrintDefaults()
		os.Exit(2)
	}

	now := time.Now()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			logger.Fatal("Invalid -at time: %v", err)
		}
		now = t
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("Failed to open export: %v", err)
	}
	defer f.Close()

	samples, err := extract.ParseHealthExport(f, *patientID)
	if err != nil {
		logger.Fatal("Failed to parse export: %v", err)
	}
	logger.Debug("Parsed %d samples from %s", len(samples), *file)

	res := extract.New(extract.Config{Window: *window}).Extract(*patientID, samples, now)
	snap := res.Snapshot(now)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			logger.Fatal("Failed to encode snapshot: %v", err)
		}
		return
	}

	printReport(os.Stdout, res, snap)
}
