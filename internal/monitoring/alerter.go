package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPipelineFailureRate AlertType = "pipeline_failure_rate"
	AlertSyncFailure         AlertType = "sync_failure"
	AlertConflictBacklog     AlertType = "conflict_backlog"
	AlertCreditOverrun       AlertType = "credit_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// The failure-rate check needs at least 5 finished runs so a single failed
// run in a quiet window does not page anyone.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.PipelineTotal >= 5 && snap.PipelineFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPipelineFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d runs in last %dh)",
				snap.PipelineFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.PipelineFailed, snap.PipelineTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.PipelineFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.PipelineFailed,
				"total":        snap.PipelineTotal,
			},
			Timestamp: now,
		})
	}

	if snap.SyncFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d sync job(s) failed in last %dh",
				snap.SyncFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_count": snap.SyncFailed,
				"total_jobs":   snap.SyncTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ConflictBacklogLimit > 0 && snap.OpenConflicts > a.cfg.ConflictBacklogLimit {
		alerts = append(alerts, Alert{
			Type:     AlertConflictBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d open sync conflicts exceed backlog limit %d",
				snap.OpenConflicts, a.cfg.ConflictBacklogLimit,
			),
			Details: map[string]any{
				"open_conflicts": snap.OpenConflicts,
				"limit":          a.cfg.ConflictBacklogLimit,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CreditBudget > 0 && snap.PipelineCredits > a.cfg.CreditBudget {
		alerts = append(alerts, Alert{
			Type:     AlertCreditOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d enrichment credits exceed budget %d in last %dh",
				snap.PipelineCredits, a.cfg.CreditBudget, snap.LookbackHours,
			),
			Details: map[string]any{
				"credits": snap.PipelineCredits,
				"budget":  a.cfg.CreditBudget,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
