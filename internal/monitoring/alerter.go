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

	"github.com/sells-group/provenance-cli/internal/config"
)

// minResolvedForRate is the sample size below which the expiry rate is ignored.
const minResolvedForRate = 5

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExpiryRate     AlertType = "expiry_rate"
	AlertOverdueBacklog AlertType = "overdue_backlog"
	AlertPendingBacklog AlertType = "pending_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
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
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	resolved := snap.Resolved()
	if a.cfg.ExpiryRateThreshold > 0 && resolved >= minResolvedForRate && snap.ExpiryRate > a.cfg.ExpiryRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertExpiryRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Request expiry rate %.1f%% exceeds threshold %.1f%% (%d expired / %d resolved in last %dh)",
				snap.ExpiryRate*100, a.cfg.ExpiryRateThreshold*100,
				snap.Expired, resolved, snap.LookbackHours,
			),
			Details: map[string]any{
				"expiry_rate": snap.ExpiryRate,
				"threshold":   a.cfg.ExpiryRateThreshold,
				"expired":     snap.Expired,
				"resolved":    resolved,
			},
			Timestamp: now,
		})
	}

	if a.cfg.OverdueThreshold > 0 && snap.OverduePending >= a.cfg.OverdueThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertOverdueBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d pending request(s) are past their deadline (threshold %d)",
				snap.OverduePending, a.cfg.OverdueThreshold,
			),
			Details: map[string]any{
				"overdue":   snap.OverduePending,
				"threshold": a.cfg.OverdueThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxPending > 0 && snap.Pending > a.cfg.MaxPending {
		alerts = append(alerts, Alert{
			Type:     AlertPendingBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d pending request(s) exceed the backlog limit of %d",
				snap.Pending, a.cfg.MaxPending,
			),
			Details: map[string]any{
				"pending":     snap.Pending,
				"max_pending": a.cfg.MaxPending,
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
