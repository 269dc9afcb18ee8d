// Package review implements the human-review case workflow:
// pending -> in_review -> {approved | rejected | escalated}, with
// escalated cases re-entering review under a new assignment.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Store is the persistence surface the case manager needs.
type Store interface {
	domain.CaseStore
	domain.NotificationStore
}

// Enforcer executes the account consequences a decision can carry.
// Satisfied by the enforcement service.
type Enforcer interface {
	FreezeAccount(ctx context.Context, userID, reason, createdBy string, expiresAt *time.Time, features ...string) (*domain.FreezeRecord, error)
	BanUser(ctx context.Context, userID, reason, createdBy string) (*domain.FreezeRecord, error)
	RecoverRewards(ctx context.Context, userID string, amount float64, reason, caseID, createdBy string) (*domain.RewardRecovery, error)
}

// DecisionRequest carries a reviewer's verdict into Decide.
// RecoverAmount applies only to recover_rewards decisions.
type DecisionRequest struct {
	Decision      domain.ReviewDecision
	RecoverAmount float64
}

// Manager runs the review-case state machine.
type Manager struct {
	store    Store
	enforcer Enforcer
	bus      domain.EventBus
	now      func() time.Time
}

// NewManager creates a review case manager.
func NewManager(st Store, enforcer Enforcer, eventBus domain.EventBus) *Manager {
	return &Manager{
		store:    st,
		enforcer: enforcer,
		bus:      eventBus,
		now:      time.Now,
	}
}

// Create opens a new pending case. Priority derives from the triggering
// risk level.
func (m *Manager) Create(ctx context.Context, userID, caseType string, risk domain.RiskLevel, evidence []domain.CaseEvidence) (*domain.ReviewCase, error) {
	if userID == "" || caseType == "" {
		return nil, fmt.Errorf("userID and caseType are required")
	}

	now := m.now().UTC()
	c := &domain.ReviewCase{
		ID:        uuid.New().String(),
		UserID:    userID,
		CaseType:  caseType,
		Priority:  domain.PriorityForRisk(risk),
		Status:    domain.CasePending,
		Evidence:  evidence,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}

	slog.Info("review case opened",
		"case_id", c.ID,
		"user_id", userID,
		"case_type", caseType,
		"priority", c.Priority,
	)

	return c, nil
}

// Assign moves a pending or escalated case into review.
func (m *Manager) Assign(ctx context.Context, caseID, reviewerID string) (*domain.ReviewCase, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewerID is required")
	}

	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.Status != domain.CasePending && c.Status != domain.CaseEscalated {
		return nil, fmt.Errorf("cannot assign case in status %s", c.Status)
	}

	c.Status = domain.CaseInReview
	c.AssignedTo = reviewerID
	c.UpdatedAt = m.now().UTC()

	if err := m.store.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}
	return c, nil
}

// Escalate pushes an in-review case back to the escalation queue and
// clears its assignment.
func (m *Manager) Escalate(ctx context.Context, caseID, reason string) (*domain.ReviewCase, error) {
	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.Status != domain.CaseInReview {
		return nil, fmt.Errorf("cannot escalate case in status %s", c.Status)
	}

	now := m.now().UTC()
	c.Status = domain.CaseEscalated
	c.AssignedTo = ""
	c.Evidence = append(c.Evidence, domain.CaseEvidence{
		Kind:    "escalation",
		Summary: reason,
		AddedAt: now,
	})
	c.UpdatedAt = now

	if err := m.store.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}
	return c, nil
}

// Decide closes an in-review case. The terminal status follows the
// decision action; freeze, ban, and recover_rewards decisions invoke
// enforcement before the case is saved.
func (m *Manager) Decide(ctx context.Context, caseID string, req *DecisionRequest) (*domain.ReviewCase, error) {
	if req == nil || req.Decision.ReviewerID == "" {
		return nil, fmt.Errorf("decision with reviewerID is required")
	}

	c, err := m.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if c.Status != domain.CaseInReview {
		return nil, fmt.Errorf("cannot decide case in status %s", c.Status)
	}

	target, err := statusForAction(req.Decision.Action)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	decision := req.Decision
	if decision.Timestamp.IsZero() {
		decision.Timestamp = now
	}

	if err := m.enforce(ctx, c, &decision, req.RecoverAmount); err != nil {
		return nil, err
	}

	c.Status = target
	c.Decision = &decision
	c.UpdatedAt = now

	if err := m.store.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}

	m.notifyOutcome(ctx, c)
	m.publish(ctx, c)

	slog.Info("review case decided",
		"case_id", c.ID,
		"user_id", c.UserID,
		"action", decision.Action,
		"status", c.Status,
		"reviewer", decision.ReviewerID,
	)

	return c, nil
}

// Get returns one case.
func (m *Manager) Get(ctx context.Context, caseID string) (*domain.ReviewCase, error) {
	return m.store.GetCase(ctx, caseID)
}

// List returns cases newest first with optional status/assignee filters.
func (m *Manager) List(ctx context.Context, status domain.CaseStatus, assignedTo string) ([]*domain.ReviewCase, error) {
	return m.store.ListCases(ctx, status, assignedTo)
}

// statusForAction maps a decision action to its terminal status.
func statusForAction(action domain.ReviewAction) (domain.CaseStatus, error) {
	switch action {
	case domain.ReviewApprove:
		return domain.CaseApproved, nil
	case domain.ReviewReject, domain.ReviewFreeze, domain.ReviewBan,
		domain.ReviewRecoverRewards, domain.ReviewRequireVerify:
		return domain.CaseRejected, nil
	default:
		return "", fmt.Errorf("unknown review action: %s", action)
	}
}

func (m *Manager) enforce(ctx context.Context, c *domain.ReviewCase, decision *domain.ReviewDecision, recoverAmount float64) error {
	if m.enforcer == nil {
		return nil
	}

	switch decision.Action {
	case domain.ReviewFreeze:
		_, err := m.enforcer.FreezeAccount(ctx, c.UserID, decision.Reason, decision.ReviewerID, nil)
		return err
	case domain.ReviewBan:
		_, err := m.enforcer.BanUser(ctx, c.UserID, decision.Reason, decision.ReviewerID)
		return err
	case domain.ReviewRecoverRewards:
		_, err := m.enforcer.RecoverRewards(ctx, c.UserID, recoverAmount, decision.Reason, c.ID, decision.ReviewerID)
		return err
	default:
		return nil
	}
}

func (m *Manager) notifyOutcome(ctx context.Context, c *domain.ReviewCase) {
	n := &domain.Notification{
		ID:      uuid.New().String(),
		UserID:  c.UserID,
		Type:    domain.NotifyReviewOutcome,
		Title:   "Account review completed",
		Content: fmt.Sprintf("Your account review finished with status %s.", c.Status),
		Channel: "email",
		Status:  domain.NotificationPending,
		Metadata: map[string]string{
			"case_id": c.ID,
		},
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.EnqueueNotification(ctx, n); err != nil {
		slog.Error("failed to enqueue review outcome notification",
			"case_id", c.ID,
			"error", err,
		)
	}
}

func (m *Manager) publish(ctx context.Context, c *domain.ReviewCase) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.TopicCaseDecided, payload); err != nil {
		slog.Warn("failed to publish case decision", "case_id", c.ID, "error", err)
	}
}
