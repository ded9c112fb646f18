package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewired-gh/guardian/internal/logger"
	"github.com/rewired-gh/guardian/internal/metrics"
	"github.com/rewired-gh/guardian/internal/models"
	"github.com/rewired-gh/guardian/internal/monitor"
)

// notifier delivers critical alerts
type notifier interface {
	Send(alerts []models.Alert) error
}

// alertStore is the storage used by an evaluation cycle
type alertStore interface {
	monitor.Store
	Patients(ctx context.Context) ([]string, error)
	SaveAlert(ctx context.Context, a *models.Alert) error
	MarkNotified(ctx context.Context, alertIDs []string) error
}

// runEvaluationCycle assesses every known patient, persists new critical alerts
// and sends them together with due resends of alerts whose delivery failed.
// A nil notifier only persists.
func runEvaluationCycle(
	ctx context.Context,
	mon *monitor.Monitor,
	store alertStore,
	n notifier,
	cooldown time.Duration,
	retryAfter time.Duration,
) error {
	timer := prometheus.NewTimer(metrics.CycleDuration)
	defer timer.ObserveDuration()

	patients, err := store.Patients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list patients: %w", err)
	}
	metrics.MonitoredPatients.Set(float64(len(patients)))
	if len(patients) == 0 {
		logger.Debug("No patients to evaluate")
		return nil
	}

	alerts, assessmentErrors := mon.Evaluate(ctx, patients)
	for _, e := range assessmentErrors {
		logger.Warn("Failed to assess patient %s: %v", e.PatientID, e.Err)
	}
	if len(assessmentErrors) == len(patients) {
		return fmt.Errorf("all %d assessments failed: %w", len(patients), assessmentErrors[0].Err)
	}
	for _, a := range alerts {
		metrics.AlertsRaised.WithLabelValues(string(a.Rhythm)).Inc()
	}

	unsent := mon.FilterRecentlySent(alerts, cooldown)
	if suppressed := len(alerts) - len(unsent); suppressed > 0 {
		metrics.AlertsSuppressed.Add(float64(suppressed))
		logger.Debug("Suppressed %d alerts inside cooldown", suppressed)
	}

	// Repeats of an alert that failed to send reuse its stored row.
	retry, fresh := mon.ResolvePending(unsent, retryAfter)

	saved := make([]models.Alert, 0, len(fresh))
	for i := range fresh {
		if err := store.SaveAlert(ctx, &fresh[i]); err != nil {
			logger.Warn("Failed to save alert for patient %s: %v", fresh[i].PatientID, err)
			continue
		}
		saved = append(saved, fresh[i])
	}
	if len(saved) > 0 {
		logger.Info("Raised %d critical alerts", len(saved))
	}

	outgoing := append(retry, saved...)
	if len(outgoing) == 0 {
		return nil
	}

	if n == nil {
		// Cooldown still applies so the alert table is not flooded every tick.
		mon.RecordNotified(outgoing)
		return nil
	}

	if err := n.Send(outgoing); err != nil {
		logger.Error("Failed to send alert notification: %v", err)
		mon.RecordFailed(outgoing)
		return nil
	}

	ids := make([]string, len(outgoing))
	for i, a := range outgoing {
		ids[i] = a.ID
	}
	if err := store.MarkNotified(ctx, ids); err != nil {
		logger.Warn("Failed to mark alerts as notified: %v", err)
	}
	mon.RecordNotified(outgoing)
	logger.Info("Sent notification for %d alerts (%d resent)", len(outgoing), len(retry))

	return nil
}
