package enforcement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLStore) {
	t.Helper()

	s, err := store.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "enforcement-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.NewChannelBus(10)
	t.Cleanup(func() { b.Close() })

	return NewService(s, b), s
}

func TestFreezeAccount(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	freeze, err := svc.FreezeAccount(ctx, "user-1", "referral abuse confirmed", "reviewer-1", nil)
	if err != nil {
		t.Fatalf("FreezeAccount failed: %v", err)
	}

	if len(freeze.Features) != 1 || freeze.Features[0] != domain.FreezeScopeAll {
		t.Errorf("expected default all-features scope, got %v", freeze.Features)
	}

	active, err := s.ActiveFreeze(ctx, "user-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("ActiveFreeze failed: %v", err)
	}
	if active == nil || active.ID != freeze.ID {
		t.Errorf("expected freeze to be active, got %+v", active)
	}

	// The affected user gets a pending notification.
	pending, err := s.PendingNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("PendingNotifications failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != domain.NotifyAccountFrozen {
		t.Errorf("expected one account_frozen notification, got %+v", pending)
	}
}

func TestFreezeValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.FreezeAccount(context.Background(), "", "reason", "system", nil); err == nil {
		t.Error("expected error for missing userID")
	}
	if _, err := svc.FreezeAccount(context.Background(), "user-1", "", "system", nil); err == nil {
		t.Error("expected error for missing reason")
	}
}

func TestBanUser(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	if err := s.SaveUser(ctx, &domain.User{
		ID:        "user-ban",
		Email:     "ban@example.com",
		RiskLevel: domain.RiskLow,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	freeze, err := svc.BanUser(ctx, "user-ban", "confirmed fraud ring", "reviewer-1")
	if err != nil {
		t.Fatalf("BanUser failed: %v", err)
	}
	if freeze.ExpiresAt != nil {
		t.Error("ban freeze must be permanent")
	}

	user, err := s.GetUser(ctx, "user-ban")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high risk level after ban, got %s", user.RiskLevel)
	}
}

func TestRecoverRewards(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecoverRewards(ctx, "user-1", 0, "zero", "", "system"); err == nil {
		t.Error("expected error for non-positive amount")
	}

	if _, err := svc.RecoverRewards(ctx, "user-1", 25.5, "fraudulent referrals", "case-9", "reviewer-1"); err != nil {
		t.Fatalf("RecoverRewards failed: %v", err)
	}
	if _, err := svc.RecoverRewards(ctx, "user-1", 10, "second batch", "case-9", "reviewer-1"); err != nil {
		t.Fatalf("RecoverRewards failed: %v", err)
	}

	total, err := s.RecoveredTotal(ctx, "user-1")
	if err != nil {
		t.Fatalf("RecoveredTotal failed: %v", err)
	}
	if total != 35.5 {
		t.Errorf("expected recovered total 35.5, got %.2f", total)
	}
}

func TestAccountStatus(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	t.Run("UnknownUserDefaults", func(t *testing.T) {
		status, err := svc.AccountStatus(ctx, "ghost")
		if err != nil {
			t.Fatalf("AccountStatus failed: %v", err)
		}
		if status.IsFrozen || status.RiskLevel != domain.RiskLow || status.ActiveReviewCases != 0 {
			t.Errorf("unexpected default status: %+v", status)
		}
	})

	t.Run("FrozenWithOpenCase", func(t *testing.T) {
		if err := s.SaveUser(ctx, &domain.User{
			ID:        "user-status",
			Email:     "status@example.com",
			RiskLevel: domain.RiskMedium,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
		if _, err := svc.FreezeAccount(ctx, "user-status", "under investigation", "system", nil); err != nil {
			t.Fatalf("FreezeAccount failed: %v", err)
		}
		if err := s.SaveCase(ctx, &domain.ReviewCase{
			ID:        "case-status",
			UserID:    "user-status",
			CaseType:  "referral_abuse",
			Priority:  domain.PriorityHigh,
			Status:    domain.CasePending,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("SaveCase failed: %v", err)
		}

		status, err := svc.AccountStatus(ctx, "user-status")
		if err != nil {
			t.Fatalf("AccountStatus failed: %v", err)
		}
		if !status.IsFrozen {
			t.Error("expected frozen status")
		}
		if status.RiskLevel != domain.RiskMedium {
			t.Errorf("expected medium risk, got %s", status.RiskLevel)
		}
		if status.ActiveReviewCases != 1 {
			t.Errorf("expected 1 active case, got %d", status.ActiveReviewCases)
		}
	})

	t.Run("ExpiredFreezeNotFrozen", func(t *testing.T) {
		expired := time.Now().UTC().Add(-time.Hour)
		if _, err := svc.FreezeAccount(ctx, "user-expired", "temporary hold", "system", &expired); err != nil {
			t.Fatalf("FreezeAccount failed: %v", err)
		}

		status, err := svc.AccountStatus(ctx, "user-expired")
		if err != nil {
			t.Fatalf("AccountStatus failed: %v", err)
		}
		if status.IsFrozen {
			t.Error("expired freeze must report not frozen")
		}
	})
}
