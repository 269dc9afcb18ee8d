package detector

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func celAttempt(email string) *AttemptContext {
	return &AttemptContext{Attempt: &domain.RegistrationAttempt{
		ID:        "candidate",
		IP:        "1.2.3.4",
		Email:     email,
		UserAgent: "agent",
		Timestamp: time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC),
	}}
}

func TestCELRules(t *testing.T) {
	ctx := context.Background()

	d, err := NewCELRules()
	if err != nil {
		t.Fatalf("NewCELRules failed: %v", err)
	}

	blockRule := &Rule{
		ID:         "rule-domain-block",
		Name:       "disposable domain",
		Expression: `email_domain == "spam.test"`,
		Bands: []RuleBand{
			{LowerLimit: floatPtr(1.0), Block: true, Reason: "disposable email domain"},
		},
		Enabled: true,
	}
	if err := d.LoadRule(blockRule); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	t.Run("BlockBand", func(t *testing.T) {
		result := d.Check(ctx, celAttempt("u@spam.test"))

		if result.IsValid {
			t.Error("expected invalid result when block band matches")
		}
		if result.RiskLevel != domain.RiskHigh {
			t.Errorf("expected high risk, got %s", result.RiskLevel)
		}
		if len(result.Reasons) == 0 || result.Reasons[0] != "disposable email domain" {
			t.Errorf("expected band reason, got %v", result.Reasons)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		result := d.Check(ctx, celAttempt("u@legit.example"))

		if !result.IsValid || result.RiskLevel != domain.RiskLow {
			t.Errorf("expected valid low, got valid=%t level=%s", result.IsValid, result.RiskLevel)
		}
	})

	t.Run("MonitorBand", func(t *testing.T) {
		monitorRule := &Rule{
			ID:         "rule-night-hours",
			Name:       "off hours registration",
			Expression: `hour < 6 ? 1 : 0`,
			Bands: []RuleBand{
				{LowerLimit: floatPtr(1.0), Outcome: domain.RiskMedium, Reason: "registration during off hours"},
			},
			Enabled: true,
		}
		if err := d.LoadRule(monitorRule); err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}

		result := d.Check(ctx, celAttempt("u@legit.example"))

		if !result.IsValid {
			t.Error("monitor band should stay valid")
		}
		if result.RiskLevel != domain.RiskMedium {
			t.Errorf("expected medium risk, got %s", result.RiskLevel)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		err := d.ReloadRules([]*Rule{
			blockRule,
			{ID: "disabled", Name: "disabled", Expression: "true", Enabled: false},
		})
		if err != nil {
			t.Fatalf("ReloadRules failed: %v", err)
		}
		if d.RulesCount() != 1 {
			t.Errorf("expected 1 loaded rule after reload, got %d", d.RulesCount())
		}
	})
}

func TestCELRulesCompileErrors(t *testing.T) {
	d, err := NewCELRules()
	if err != nil {
		t.Fatalf("NewCELRules failed: %v", err)
	}

	t.Run("BadSyntax", func(t *testing.T) {
		err := d.LoadRule(&Rule{ID: "bad", Name: "bad", Expression: "email ==", Enabled: true})
		if err == nil {
			t.Error("expected compile error for bad syntax")
		}
	})

	t.Run("WrongReturnType", func(t *testing.T) {
		err := d.LoadRule(&Rule{ID: "str", Name: "str", Expression: `"not numeric"`, Enabled: true})
		if err == nil {
			t.Error("expected error for string-typed expression")
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		err := d.LoadRule(&Rule{Name: "anon", Expression: "true", Enabled: true})
		if err == nil {
			t.Error("expected error for rule without id")
		}
	})
}
