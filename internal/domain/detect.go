package domain

import "time"

// RiskLevel is the tri-state severity assigned to a detection result.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Outcome is the final verdict for an assessed attempt.
type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeMonitor Outcome = "monitor"
	OutcomeBlock   Outcome = "block"
)

// Detector action hints carried on results and decisions. The calling layer
// maps these to concrete behavior (cooldown enforcement, review queues).
const (
	ActionCooldown            = "cooldown_1h"
	ActionMonitor             = "monitor"
	ActionManualReview        = "manual_review"
	ActionBlockRegistration   = "block_registration"
	ActionRequireVerification = "require_verification"
)

// DetectorResult is the partial verdict of a single risk detector.
// Reasons must be non-empty whenever IsValid is false.
type DetectorResult struct {
	Detector  string    `json:"detector"`
	IsValid   bool      `json:"isValid"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Reasons   []string  `json:"reasons,omitempty"`
	Actions   []string  `json:"actions,omitempty"`
}

// Unavailable is the fail-open result used when a detector cannot run.
func Unavailable(detector string) DetectorResult {
	return DetectorResult{
		Detector:  detector,
		IsValid:   true,
		RiskLevel: RiskLow,
		Reasons:   []string{"detection unavailable"},
	}
}

// Decision is the aggregated verdict for one attempt.
type Decision struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId,omitempty"`
	Outcome      Outcome          `json:"outcome"`
	RiskLevel    RiskLevel        `json:"riskLevel"`
	Reasons      []string         `json:"reasons,omitempty"`
	Actions      []string         `json:"actions,omitempty"`
	Results      []DetectorResult `json:"results,omitempty"`
	ReviewCaseID string           `json:"reviewCaseId,omitempty"`
	AssessedAt   time.Time        `json:"assessedAt"`
}

// Blocked reports whether the decision rejects the attempt.
func (d *Decision) Blocked() bool {
	return d.Outcome == OutcomeBlock
}

// SuspiciousActivity is an append-only audit entry recorded whenever an
// assessment lands above low risk.
type SuspiciousActivity struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId,omitempty"`
	IP          string           `json:"ip"`
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Severity    Severity         `json:"severity"`
	Results     []DetectorResult `json:"results,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}
