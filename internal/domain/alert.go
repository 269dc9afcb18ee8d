package domain

import (
	"encoding/json"
	"time"
)

// AlertType classifies what a detector or analyzer observed.
type AlertType string

const (
	// AlertBehaviorAnomaly is reserved for callers embedding the engine;
	// the built-in analyzer emits the two specific types below instead.
	AlertBehaviorAnomaly  AlertType = "behavior_anomaly"
	AlertPatternDeviation AlertType = "pattern_deviation"
	AlertVelocitySpike    AlertType = "velocity_spike"
	AlertNetworkAbuse     AlertType = "network_abuse"
)

// Severity grades an alert. Unlike RiskLevel it carries a fourth, critical
// grade for alerts that need immediate attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of an anomaly alert.
// Resolved and false_positive are terminal.
type AlertStatus string

const (
	AlertPending       AlertStatus = "pending"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// Terminal reports whether the status ends the alert lifecycle.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// AlertEvidence is the typed evidence payload attached to an alert.
// Raw is an escape hatch for audit data that has no structured field.
type AlertEvidence struct {
	Velocity    float64         `json:"velocity,omitempty"`
	SampleCount int             `json:"sampleCount,omitempty"`
	WindowHours float64         `json:"windowHours,omitempty"`
	Deviation   float64         `json:"deviation,omitempty"`
	Mean        float64         `json:"mean,omitempty"`
	Latest      float64         `json:"latest,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// AnomalyAlert is a persisted anomaly observation.
// ResolvedAt is set iff the status is terminal.
type AnomalyAlert struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	AlertType   AlertType     `json:"alertType"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Evidence    AlertEvidence `json:"evidence"`
	Status      AlertStatus   `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy  string        `json:"resolvedBy,omitempty"`
}

// AlertAction is a dispatch action configured on an alert rule.
type AlertAction string

const (
	AlertActionLog         AlertAction = "log"
	AlertActionWebhook     AlertAction = "webhook"
	AlertActionNotifyAdmin AlertAction = "notify_admin"
)

// AlertRule configures triggering behavior for one class of alert.
// Cooldown suppresses repeated triggers of the same rule; the cooldown is
// keyed by rule ID, not by alert instance.
type AlertRule struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Cooldown time.Duration `json:"cooldown"`
	Actions  []AlertAction `json:"actions"`
	Enabled  bool          `json:"enabled"`
}
