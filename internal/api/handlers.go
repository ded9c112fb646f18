// Package api serves guardian's HTTP surface: sample ingestion, per-patient
// vitals reads, recent alerts, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rewired-gh/guardian/internal/cache"
	"github.com/rewired-gh/guardian/internal/extract"
	"github.com/rewired-gh/guardian/internal/ingest"
	"github.com/rewired-gh/guardian/internal/logger"
	"github.com/rewired-gh/guardian/internal/metrics"
	"github.com/rewired-gh/guardian/internal/models"
	"github.com/rewired-gh/guardian/internal/monitor"
	"github.com/rewired-gh/guardian/internal/storage"
)

const (
	maxBodyBytes      = 10 << 20
	defaultAlertLimit = 50
	maxAlertLimit     = 500
	historyLength     = 10
)

// Pipeline is the ingestion surface used by the handlers
type Pipeline interface {
	Ingest(ctx context.Context, patientID string, samples []extract.Sample) (*ingest.IngestResult, error)
	IngestExport(ctx context.Context, patientID string, samples []extract.Sample) (*ingest.IngestResult, error)
	Snapshot(ctx context.Context, patientID string) (*models.VitalsSnapshot, error)
}

// Analyzer classifies a patient's current rhythm
type Analyzer interface {
	Analyze(ctx context.Context, patientID string) (*models.RhythmAssessment, error)
}

// Store is the read side of storage used by the handlers
type Store interface {
	LatestSleepSession(ctx context.Context, patientID string) (*models.SleepSession, error)
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	Ping(ctx context.Context) error
}

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	pipeline  Pipeline
	analyzer  Analyzer
	store     Store
	cache     cache.Cache
	startTime time.Time
}

// NewHandler creates a handler. A nil cache disables assessment history.
func NewHandler(p Pipeline, a Analyzer, s Store, c cache.Cache) *Handler {
	if c == nil {
		c = cache.Nop{}
	}
	return &Handler{
		pipeline:  p,
		analyzer:  a,
		store:     s,
		cache:     c,
		startTime: time.Now(),
	}
}

// SleepResponse is the body of GET /v1/patients/{id}/sleep
type SleepResponse struct {
	Session          *models.SleepSession          `json:"session"`
	TotalHours       float64                       `json:"total_hours"`
	IsMinimumLength  bool                          `json:"is_minimum_length"`
	StagePercentages map[models.SleepStage]float64 `json:"stage_percentages"`
}

// RhythmResponse is the body of GET /v1/patients/{id}/rhythm
type RhythmResponse struct {
	Assessment *models.RhythmAssessment  `json:"assessment"`
	History    []models.RhythmAssessment `json:"history"`
}

// HealthStatus is the body of GET /health
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Storage   string    `json:"storage"`
	Redis     string    `json:"redis"`
	Uptime    string    `json:"uptime"`
}

// SamplesHandler handles POST /v1/patients/{id}/samples
func (h *Handler) SamplesHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/patients/{id}/samples"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, route, "Failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	samples, err := ingest.DecodeBatch(body)
	if err != nil {
		h.fail(w, r, route, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := extract.ValidateSamples(samples); err != nil {
		h.fail(w, r, route, "Invalid sample: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.pipeline.Ingest(r.Context(), mux.Vars(r)["id"], samples)
	if err != nil {
		h.fail(w, r, route, "Failed to ingest samples: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.ok(w, r, route, res)
}

// ExportHandler handles POST /v1/patients/{id}/export
func (h *Handler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/patients/{id}/export"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	patientID := mux.Vars(r)["id"]
	samples, err := extract.ParseHealthExport(http.MaxBytesReader(w, r.Body, maxBodyBytes), patientID)
	if err != nil {
		h.fail(w, r, route, "Invalid export: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.pipeline.IngestExport(r.Context(), patientID, samples)
	if err != nil {
		h.fail(w, r, route, "Failed to ingest export: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.ok(w, r, route, res)
}

// SnapshotHandler handles GET /v1/patients/{id}/snapshot
func (h *Handler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/patients/{id}/snapshot"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	snap, err := h.pipeline.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, route, "Failed to build snapshot: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.ok(w, r, route, snap)
}

// RhythmHandler handles GET /v1/patients/{id}/rhythm
func (h *Handler) RhythmHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/patients/{id}/rhythm"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	patientID := mux.Vars(r)["id"]
	a, err := h.analyzer.Analyze(r.Context(), patientID)
	if errors.Is(err, monitor.ErrNoHeartRate) {
		h.fail(w, r, route, "No current heart rate reading", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, route, "Failed to assess rhythm: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.cache.PushAssessment(r.Context(), a); err != nil {
		logger.L().Warn("Failed to record assessment", zap.String("patient_id", patientID), zap.Error(err))
	}
	history, err := h.cache.Assessments(r.Context(), patientID, historyLength)
	if err != nil {
		history = []models.RhythmAssessment{}
	}

	h.ok(w, r, route, RhythmResponse{Assessment: a, History: history})
}

// SleepHandler handles GET /v1/patients/{id}/sleep
func (h *Handler) SleepHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/patients/{id}/sleep"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	session, err := h.store.LatestSleepSession(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		h.fail(w, r, route, "No sleep session", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, route, "Failed to load sleep session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.ok(w, r, route, SleepResponse{
		Session:          session,
		TotalHours:       session.TotalHours(),
		IsMinimumLength:  session.IsMinimumLength(),
		StagePercentages: session.StagePercentages(),
	})
}

// AlertsHandler handles GET /v1/alerts?limit=N
func (h *Handler) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	const route = "/v1/alerts"
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	limit := defaultAlertLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxAlertLimit {
			h.fail(w, r, route, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	alerts, err := h.store.RecentAlerts(r.Context(), limit)
	if err != nil {
		h.fail(w, r, route, "Failed to load alerts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.ok(w, r, route, alerts)
}

// HealthHandler handles GET /health
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Storage:   "connected",
		Redis:     "disconnected",
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
	}
	if err := h.store.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Storage = "disconnected"
	}
	if _, disabled := h.cache.(cache.Nop); disabled {
		status.Redis = "disabled"
	} else if h.cache.Ping(ctx) == nil {
		status.Redis = "connected"
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, status, code)
}

func (h *Handler) ok(w http.ResponseWriter, r *http.Request, route string, data interface{}) {
	metrics.RequestsTotal.WithLabelValues(route, r.Method, "200").Inc()
	respondJSON(w, data, http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route, message string, status int) {
	metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		logger.L().Error("Request failed",
			zap.String("route", route),
			zap.String("patient_id", mux.Vars(r)["id"]),
			zap.String("error", message),
		)
	}
	respondError(w, message, status)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
