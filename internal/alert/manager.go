// Package alert persists anomaly alerts and dispatches their configured
// actions. Alert rules carry a cooldown keyed by rule ID so repeated
// triggers of the same condition do not cause alert storms.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Manager triggers, lists, and resolves anomaly alerts.
type Manager struct {
	store      domain.AlertStore
	cache      domain.Cache
	bus        domain.EventBus
	notifier   domain.Notifier
	httpClient *http.Client

	defaultCooldown time.Duration
	webhookURL      string
	adminUserID     string

	now func() time.Time
}

// NewManager creates an alert manager.
func NewManager(st domain.AlertStore, cache domain.Cache, eventBus domain.EventBus, notifier domain.Notifier, cfg domain.AlertConfig) *Manager {
	cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}

	return &Manager{
		store:           st,
		cache:           cache,
		bus:             eventBus,
		notifier:        notifier,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		defaultCooldown: cooldown,
		webhookURL:      cfg.WebhookURL,
		adminUserID:     cfg.AdminUserID,
		now:             time.Now,
	}
}

// Trigger fires one alert under the given rule. While the rule's
// cooldown is live the trigger is suppressed and nothing persists.
// Returns the persisted alert and true, or nil and false when
// suppressed.
func (m *Manager) Trigger(ctx context.Context, rule *domain.AlertRule, draft *domain.AnomalyAlert) (*domain.AnomalyAlert, bool, error) {
	if rule == nil || rule.ID == "" {
		return nil, false, fmt.Errorf("alert rule with id is required")
	}
	if draft == nil {
		return nil, false, fmt.Errorf("alert draft is required")
	}
	if !rule.Enabled {
		return nil, false, nil
	}

	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = m.defaultCooldown
	}

	// The cooldown decision and its state update are one atomic step.
	won, err := m.cache.SetIfAbsent(ctx, cooldownKey(rule.ID), []byte("1"), cooldown)
	if err != nil {
		// A broken cooldown backend must not swallow alerts.
		slog.Warn("alert cooldown check failed, proceeding without suppression",
			"rule_id", rule.ID,
			"error", err,
		)
		won = true
	}
	if !won {
		slog.Debug("alert suppressed by cooldown", "rule_id", rule.ID)
		return nil, false, nil
	}

	alert := *draft
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Status == "" {
		alert.Status = domain.AlertPending
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = m.now().UTC()
	}

	if err := m.store.SaveAlert(ctx, &alert); err != nil {
		return nil, false, fmt.Errorf("failed to save alert: %w", err)
	}

	m.execute(ctx, rule, &alert)
	m.publish(ctx, &alert)

	slog.Info("alert raised",
		"alert_id", alert.ID,
		"rule_id", rule.ID,
		"type", alert.AlertType,
		"severity", alert.Severity,
		"user_id", alert.UserID,
	)

	return &alert, true, nil
}

// ActiveAlerts returns pending/investigating alerts newest first.
func (m *Manager) ActiveAlerts(ctx context.Context, severity domain.Severity, limit int) ([]*domain.AnomalyAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	return m.store.ListActiveAlerts(ctx, severity, limit)
}

// Resolve transitions an alert to resolved. Idempotent: resolving an
// already-terminal alert returns false without touching it.
func (m *Manager) Resolve(ctx context.Context, alertID, resolvedBy string) (bool, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return false, err
	}

	if alert.Status.Terminal() {
		return false, nil
	}

	resolvedAt := m.now().UTC()
	if err := m.store.UpdateAlertStatus(ctx, alertID, domain.AlertResolved, resolvedBy, &resolvedAt); err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}

	slog.Info("alert resolved", "alert_id", alertID, "resolved_by", resolvedBy)
	return true, nil
}

// execute runs the rule's configured actions. Action failures are
// logged; the alert itself is already durable.
func (m *Manager) execute(ctx context.Context, rule *domain.AlertRule, alert *domain.AnomalyAlert) {
	actions := rule.Actions
	if len(actions) == 0 {
		actions = []domain.AlertAction{domain.AlertActionLog, domain.AlertActionNotifyAdmin}
	}

	for _, action := range actions {
		switch action {
		case domain.AlertActionLog:
			slog.Warn("anomaly alert",
				"alert_id", alert.ID,
				"type", alert.AlertType,
				"severity", alert.Severity,
				"user_id", alert.UserID,
				"description", alert.Description,
			)

		case domain.AlertActionWebhook:
			m.postWebhook(alert)

		case domain.AlertActionNotifyAdmin:
			m.notifyAdmin(ctx, alert)

		default:
			slog.Warn("unknown alert action", "action", action, "rule_id", rule.ID)
		}
	}
}

// postWebhook delivers the alert payload in the background so a slow
// receiver never stalls the assessment path.
func (m *Manager) postWebhook(alert *domain.AnomalyAlert) {
	if m.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "alert_id", alert.ID, "error", err)
		return
	}

	go func() {
		req, err := http.NewRequest(http.MethodPost, m.webhookURL, bytes.NewReader(payload))
		if err != nil {
			slog.Error("failed to build webhook request", "alert_id", alert.ID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			slog.Error("webhook delivery failed", "alert_id", alert.ID, "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			slog.Error("webhook delivery rejected",
				"alert_id", alert.ID,
				"status", resp.StatusCode,
			)
		}
	}()
}

func (m *Manager) notifyAdmin(ctx context.Context, alert *domain.AnomalyAlert) {
	if m.notifier == nil {
		return
	}

	n := &domain.Notification{
		ID:      uuid.New().String(),
		UserID:  m.adminUserID,
		Type:    domain.NotifyAdminAlert,
		Title:   fmt.Sprintf("[%s] %s alert", alert.Severity, alert.AlertType),
		Content: alert.Description,
		Channel: "admin",
		Status:  domain.NotificationPending,
		Metadata: map[string]string{
			"alert_id": alert.ID,
		},
		CreatedAt: m.now().UTC(),
	}

	if err := m.notifier.SendNotification(ctx, n); err != nil {
		slog.Error("failed to notify admin", "alert_id", alert.ID, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, alert *domain.AnomalyAlert) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.TopicAlertRaised, payload); err != nil {
		slog.Warn("failed to publish alert", "alert_id", alert.ID, "error", err)
	}
}

func cooldownKey(ruleID string) string {
	return "alert:cooldown:" + ruleID
}
