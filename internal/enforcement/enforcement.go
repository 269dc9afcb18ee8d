// Package enforcement applies account-level consequences: freezes, bans,
// and reward clawbacks, and exposes the derived account status read-model.
package enforcement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/store"
)

// Store is the persistence surface enforcement needs.
type Store interface {
	domain.SignalStore
	domain.FreezeStore
	domain.CaseStore
	domain.NotificationStore
}

// Service executes enforcement actions.
type Service struct {
	store Store
	bus   domain.EventBus
	now   func() time.Time
}

// NewService creates an enforcement service.
func NewService(st Store, eventBus domain.EventBus) *Service {
	return &Service{
		store: st,
		bus:   eventBus,
		now:   time.Now,
	}
}

// FreezeAccount records a freeze, notifies the affected user, and
// publishes the freeze event. With no explicit features the freeze
// covers the whole account.
func (s *Service) FreezeAccount(ctx context.Context, userID, reason, createdBy string, expiresAt *time.Time, features ...string) (*domain.FreezeRecord, error) {
	if userID == "" || reason == "" {
		return nil, fmt.Errorf("userID and reason are required")
	}
	if len(features) == 0 {
		features = []string{domain.FreezeScopeAll}
	}

	now := s.now().UTC()
	freeze := &domain.FreezeRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Features:  features,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := s.store.SaveFreeze(ctx, freeze); err != nil {
		return nil, fmt.Errorf("failed to save freeze: %w", err)
	}

	notification := &domain.Notification{
		ID:      uuid.New().String(),
		UserID:  userID,
		Type:    domain.NotifyAccountFrozen,
		Title:   "Account restricted",
		Content: fmt.Sprintf("Your account has been restricted: %s", reason),
		Channel: "email",
		Status:  domain.NotificationPending,
		Metadata: map[string]string{
			"freeze_id": freeze.ID,
		},
		CreatedAt: now,
	}
	if err := s.store.EnqueueNotification(ctx, notification); err != nil {
		// Freeze already in force; notification loss is logged, not fatal.
		slog.Error("failed to enqueue freeze notification",
			"user_id", userID,
			"freeze_id", freeze.ID,
			"error", err,
		)
	}

	s.publish(ctx, domain.TopicAccountFrozen, freeze)

	slog.Info("account frozen",
		"user_id", userID,
		"freeze_id", freeze.ID,
		"reason", reason,
		"created_by", createdBy,
	)

	return freeze, nil
}

// BanUser freezes the account permanently and pins the risk level high.
func (s *Service) BanUser(ctx context.Context, userID, reason, createdBy string) (*domain.FreezeRecord, error) {
	freeze, err := s.FreezeAccount(ctx, userID, reason, createdBy, nil)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetUserRiskLevel(ctx, userID, domain.RiskHigh); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to raise risk level: %w", err)
	}

	return freeze, nil
}

// RecoverRewards records a clawback of referral rewards.
func (s *Service) RecoverRewards(ctx context.Context, userID string, amount float64, reason, caseID, createdBy string) (*domain.RewardRecovery, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("recovery amount must be positive")
	}

	recovery := &domain.RewardRecovery{
		ID:        uuid.New().String(),
		UserID:    userID,
		CaseID:    caseID,
		Amount:    amount,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}

	if err := s.store.SaveRecovery(ctx, recovery); err != nil {
		return nil, fmt.Errorf("failed to save recovery: %w", err)
	}

	slog.Info("rewards recovered",
		"user_id", userID,
		"amount", amount,
		"case_id", caseID,
	)

	return recovery, nil
}

// AccountStatus joins the latest active freeze, risk level, recovered
// rewards, and open review cases into one read-model. Expired freezes
// report not-frozen.
func (s *Service) AccountStatus(ctx context.Context, userID string) (*domain.AccountStatus, error) {
	now := s.now().UTC()

	status := &domain.AccountStatus{
		UserID:    userID,
		RiskLevel: domain.RiskLow,
	}

	user, err := s.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		status.RiskLevel = user.RiskLevel
	case errors.Is(err, store.ErrNotFound):
		// Unknown user still reports freeze and case state.
	default:
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	freeze, err := s.store.ActiveFreeze(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load freeze state: %w", err)
	}
	if freeze != nil {
		status.IsFrozen = true
		status.FrozenFeatures = freeze.Features
		status.FreezeReason = freeze.Reason
		status.FreezeExpiresAt = freeze.ExpiresAt
	}

	recovered, err := s.store.RecoveredTotal(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to total recoveries: %w", err)
	}
	status.TotalRecoveredRewards = recovered

	openCases, err := s.store.CountOpenCases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count open cases: %w", err)
	}
	status.ActiveReviewCases = int(openCases)

	return status, nil
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish enforcement event", "topic", topic, "error", err)
	}
}
