package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rewired-gh/guardian/internal/logger"
)

// NewRouter registers all routes on a gorilla/mux router
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/patients/{id}/samples", h.SamplesHandler).Methods(http.MethodPost)
	v1.HandleFunc("/patients/{id}/export", h.ExportHandler).Methods(http.MethodPost)
	v1.HandleFunc("/patients/{id}/snapshot", h.SnapshotHandler).Methods(http.MethodGet)
	v1.HandleFunc("/patients/{id}/rhythm", h.RhythmHandler).Methods(http.MethodGet)
	v1.HandleFunc("/patients/{id}/sleep", h.SleepHandler).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", h.AlertsHandler).Methods(http.MethodGet)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	return router
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request at debug level
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.L().Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
