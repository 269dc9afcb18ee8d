package domain

import (
	"encoding/json"
	"time"
)

// CaseStatus is the review-case workflow state.
// approved and rejected are terminal; escalated may re-enter in_review.
type CaseStatus string

const (
	CasePending   CaseStatus = "pending"
	CaseInReview  CaseStatus = "in_review"
	CaseApproved  CaseStatus = "approved"
	CaseRejected  CaseStatus = "rejected"
	CaseEscalated CaseStatus = "escalated"
)

// Terminal reports whether the status ends the case workflow.
func (s CaseStatus) Terminal() bool {
	return s == CaseApproved || s == CaseRejected
}

// CasePriority orders the human review queue.
type CasePriority string

const (
	PriorityLow    CasePriority = "low"
	PriorityMedium CasePriority = "medium"
	PriorityHigh   CasePriority = "high"
	PriorityUrgent CasePriority = "urgent"
)

// ReviewAction is the decision recorded when a case is closed.
type ReviewAction string

const (
	ReviewApprove        ReviewAction = "approve"
	ReviewReject         ReviewAction = "reject"
	ReviewFreeze         ReviewAction = "freeze"
	ReviewBan            ReviewAction = "ban"
	ReviewRecoverRewards ReviewAction = "recover_rewards"
	ReviewRequireVerify  ReviewAction = "require_verification"
)

// ReviewDecision is the reviewer's recorded verdict on a case.
type ReviewDecision struct {
	Action     ReviewAction `json:"action"`
	Reason     string       `json:"reason"`
	ReviewerID string       `json:"reviewerId"`
	Timestamp  time.Time    `json:"timestamp"`
	Notes      string       `json:"notes,omitempty"`
}

// CaseEvidence is one typed evidence entry attached to a review case.
type CaseEvidence struct {
	Kind    string          `json:"kind"`
	Summary string          `json:"summary"`
	Data    json.RawMessage `json:"data,omitempty"`
	AddedAt time.Time       `json:"addedAt"`
}

// ReviewCase is a human-in-the-loop workflow item. A case carrying a
// decision must be in a terminal status matching the decision action.
type ReviewCase struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	CaseType   string          `json:"caseType"`
	Priority   CasePriority    `json:"priority"`
	Status     CaseStatus      `json:"status"`
	AssignedTo string          `json:"assignedTo,omitempty"`
	Evidence   []CaseEvidence  `json:"evidence,omitempty"`
	Decision   *ReviewDecision `json:"decision,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// PriorityForRisk derives the review priority from the triggering risk level.
func PriorityForRisk(level RiskLevel) CasePriority {
	switch level {
	case RiskHigh:
		return PriorityUrgent
	case RiskMedium:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}
