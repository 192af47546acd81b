// Package monitoring posts triage run digests and threshold alerts to a
// webhook.
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

	"github.com/sells-group/coverage-intel/internal/config"
	"github.com/sells-group/coverage-intel/internal/model"
	"github.com/sells-group/coverage-intel/internal/resilience"
	"github.com/sells-group/coverage-intel/internal/triage"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunDigest      AlertType = "triage_run_digest"
	AlertTriageFailures AlertType = "triage_failures"
	AlertCostOverrun    AlertType = "triage_cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a triage run against configured thresholds and sends
// alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool { return a.cfg.WebhookURL != "" }

// Evaluate checks a run against thresholds and returns any alerts. The
// digest is only produced when the run found something actionable.
func (a *Alerter) Evaluate(r model.RunResult) []Alert {
	var alerts []Alert
	now := a.now()

	if a.cfg.SendDigest && len(r.Buckets.Actionable()) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunDigest,
			Severity: "info",
			Message:  triage.FormatRunSummary(r),
			Details: map[string]any{
				"high":     len(r.Buckets.HighPriority),
				"medium":   len(r.Buckets.MediumPriority),
				"total":    r.Buckets.Total(),
				"cost_usd": r.CostUSD,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailureThreshold > 0 && r.FailureCount >= a.cfg.FailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertTriageFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"Triage run had %d failures (threshold %d) across %d discoveries",
				r.FailureCount, a.cfg.FailureThreshold, len(r.Items),
			),
			Details: map[string]any{
				"failures":  r.FailureCount,
				"threshold": a.cfg.FailureThreshold,
				"items":     len(r.Items),
				"reasons":   failureReasons(r.Failures),
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && r.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Triage cost $%.2f exceeds threshold $%.2f",
				r.CostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      r.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"calls":         r.Ledger.Calls,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// failureReasons counts failures by stage.
func failureReasons(fs []model.Failure) map[string]int {
	out := make(map[string]int, len(fs))
	for _, f := range fs {
		out[f.Stage]++
	}
	return out
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.Enabled() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
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

// Notify evaluates a run and sends whatever it produces.
func (a *Alerter) Notify(ctx context.Context, r model.RunResult) int {
	if !a.Enabled() {
		return 0
	}
	return a.SendAlerts(ctx, a.Evaluate(r))
}

// sendWebhook posts a single alert to the webhook URL. 429 and 5xx replies
// are returned as transient so the retry loop picks them up.
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
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
