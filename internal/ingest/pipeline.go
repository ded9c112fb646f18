// Package ingest moves raw samples from the HTTP API and MQTT device bridges
// through extraction into storage, and keeps the per-patient snapshot cache warm.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rewired-gh/guardian/internal/cache"
	"github.com/rewired-gh/guardian/internal/extract"
	"github.com/rewired-gh/guardian/internal/logger"
	"github.com/rewired-gh/guardian/internal/metrics"
	"github.com/rewired-gh/guardian/internal/models"
)

// Ingestion channels used as metric labels
const (
	ChannelAPI    = "api"
	ChannelExport = "export"
	ChannelMQTT   = "mqtt"
)

// ErrMissingPatient is returned when a batch has no patient ID
var ErrMissingPatient = errors.New("patient ID must not be empty")

// Store is the persistence the pipeline writes to and rebuilds snapshots from
type Store interface {
	SaveHeartRate(ctx context.Context, r *models.HeartRateReading) error
	SaveOxygen(ctx context.Context, r *models.OxygenReading) error
	SaveHRV(ctx context.Context, r *models.HRVReading) error
	SaveSleepSession(ctx context.Context, s *models.SleepSession) error
	Snapshot(ctx context.Context, patientID string, window time.Duration, now time.Time) (*models.VitalsSnapshot, error)
}

// IngestResult summarizes one ingested batch
type IngestResult struct {
	PatientID  string                 `json:"patient_id"`
	Received   int                    `json:"received"`
	Stored     int                    `json:"stored"`
	Duplicates int                    `json:"duplicates"`
	Warnings   []string               `json:"warnings"`
	Snapshot   *models.VitalsSnapshot `json:"snapshot"`
}

// Pipeline runs extraction, persistence and cache refresh for sample batches
type Pipeline struct {
	extractor *extract.Extractor
	store     Store
	cache     cache.Cache
	now       func() time.Time
}

// NewPipeline creates a pipeline. A nil cache disables caching.
func NewPipeline(ex *extract.Extractor, store Store, c cache.Cache) *Pipeline {
	if c == nil {
		c = cache.Nop{}
	}
	return &Pipeline{
		extractor: ex,
		store:     store,
		cache:     c,
		now:       time.Now,
	}
}

// Ingest processes a batch submitted through the API
func (p *Pipeline) Ingest(ctx context.Context, patientID string, samples []extract.Sample) (*IngestResult, error) {
	return p.ingest(ctx, ChannelAPI, patientID, samples)
}

// IngestExport processes a batch parsed from a Health Auto Export file
func (p *Pipeline) IngestExport(ctx context.Context, patientID string, samples []extract.Sample) (*IngestResult, error) {
	return p.ingest(ctx, ChannelExport, patientID, samples)
}

func (p *Pipeline) ingest(ctx context.Context, channel, patientID string, samples []extract.Sample) (*IngestResult, error) {
	if patientID == "" {
		return nil, ErrMissingPatient
	}
	metrics.SamplesReceived.WithLabelValues(channel).Add(float64(len(samples)))

	now := p.now()
	res := p.extractor.Extract(patientID, samples, now)
	metrics.DuplicatesFiltered.Add(float64(res.DuplicatesFiltered))

	stored, err := p.persist(ctx, res)
	if err != nil {
		metrics.IngestErrors.WithLabelValues(channel).Inc()
		return nil, err
	}

	if err := p.cache.Invalidate(ctx, patientID); err != nil {
		logger.L().Warn("Failed to invalidate snapshot", zap.String("patient_id", patientID), zap.Error(err))
	}
	snap, err := p.rebuild(ctx, patientID, now)
	if err != nil {
		metrics.IngestErrors.WithLabelValues(channel).Inc()
		return nil, err
	}

	logger.L().Debug("Ingested batch",
		zap.String("channel", channel),
		zap.String("patient_id", patientID),
		zap.Int("received", len(samples)),
		zap.Int("stored", stored),
		zap.Int("duplicates", res.DuplicatesFiltered),
		zap.Int("warnings", len(res.Warnings)),
	)

	return &IngestResult{
		PatientID:  patientID,
		Received:   len(samples),
		Stored:     stored,
		Duplicates: res.DuplicatesFiltered,
		Warnings:   res.Warnings,
		Snapshot:   snap,
	}, nil
}

func (p *Pipeline) persist(ctx context.Context, res *extract.Result) (int, error) {
	stored := 0
	for i := range res.HeartRates {
		if err := p.store.SaveHeartRate(ctx, &res.HeartRates[i]); err != nil {
			return stored, fmt.Errorf("failed to store heart rate: %w", err)
		}
		stored++
	}
	metrics.ReadingsStored.WithLabelValues("heart_rate").Add(float64(len(res.HeartRates)))

	for i := range res.Oxygen {
		if err := p.store.SaveOxygen(ctx, &res.Oxygen[i]); err != nil {
			return stored, fmt.Errorf("failed to store oxygen: %w", err)
		}
		stored++
	}
	metrics.ReadingsStored.WithLabelValues("oxygen").Add(float64(len(res.Oxygen)))

	for i := range res.HRV {
		if err := p.store.SaveHRV(ctx, &res.HRV[i]); err != nil {
			return stored, fmt.Errorf("failed to store hrv: %w", err)
		}
		stored++
	}
	metrics.ReadingsStored.WithLabelValues("hrv").Add(float64(len(res.HRV)))

	for i := range res.SleepSessions {
		if err := p.store.SaveSleepSession(ctx, &res.SleepSessions[i]); err != nil {
			return stored, fmt.Errorf("failed to store sleep session: %w", err)
		}
		stored++
	}
	metrics.ReadingsStored.WithLabelValues("sleep").Add(float64(len(res.SleepSessions)))

	return stored, nil
}

// Snapshot returns the patient's cached snapshot, rebuilding it from storage on a miss.
func (p *Pipeline) Snapshot(ctx context.Context, patientID string) (*models.VitalsSnapshot, error) {
	if patientID == "" {
		return nil, ErrMissingPatient
	}

	snap, err := p.cache.GetSnapshot(ctx, patientID)
	if err == nil {
		metrics.CacheHits.Inc()
		return snap, nil
	}
	metrics.CacheMisses.Inc()
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.L().Warn("Snapshot cache read failed", zap.String("patient_id", patientID), zap.Error(err))
	}

	return p.rebuild(ctx, patientID, p.now())
}

func (p *Pipeline) rebuild(ctx context.Context, patientID string, now time.Time) (*models.VitalsSnapshot, error) {
	snap, err := p.store.Snapshot(ctx, patientID, p.extractor.Window(), now)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}
	if err := p.cache.PutSnapshot(ctx, snap); err != nil {
		logger.L().Warn("Failed to cache snapshot", zap.String("patient_id", patientID), zap.Error(err))
	}
	return snap, nil
}
