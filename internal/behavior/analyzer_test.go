package behavior

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "behavior-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSamples(t *testing.T, s *store.SQLStore, userID, patternType string, scores []float64, timestamps []time.Time) {
	t.Helper()
	ctx := context.Background()

	for i := range scores {
		sample := &domain.BehaviorPattern{
			ID:          fmt.Sprintf("seed-%s-%d", patternType, i),
			UserID:      userID,
			PatternType: patternType,
			Features:    map[string]float64{domain.FeatureHourOfDay: 12},
			RiskScore:   scores[i],
			Timestamp:   timestamps[i],
		}
		if err := s.AppendBehaviorSample(ctx, sample); err != nil {
			t.Fatalf("failed to seed sample: %v", err)
		}
	}
}

func TestRecordColdStart(t *testing.T) {
	s := newTestStore(t)
	a := NewAnalyzer(s, domain.DefaultConfig().Behavior)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	sample, alerts, err := a.Record(context.Background(), "user-new", "invite", "1.2.3.4", "agent", at)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if sample.RiskScore != 0.5 {
		t.Errorf("expected cold-start score 0.5, got %.2f", sample.RiskScore)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for first sample, got %d", len(alerts))
	}
	if sample.Feature(domain.FeatureHourOfDay) != 14 {
		t.Errorf("expected hour feature 14, got %.0f", sample.Feature(domain.FeatureHourOfDay))
	}
	if sample.Feature(domain.FeatureDailyFrequency) != 1 {
		t.Errorf("expected daily frequency 1, got %.0f", sample.Feature(domain.FeatureDailyFrequency))
	}
}

func TestRecordScoring(t *testing.T) {
	t.Run("DaytimeBaseline", func(t *testing.T) {
		s := newTestStore(t)
		a := NewAnalyzer(s, domain.DefaultConfig().Behavior)
		at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

		seedSamples(t, s, "user-1", "invite", []float64{0.3}, []time.Time{at.Add(-time.Hour)})

		sample, _, err := a.Record(context.Background(), "user-1", "invite", "1.2.3.4", "agent", at)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if sample.RiskScore != 0.3 {
			t.Errorf("expected baseline score 0.3, got %.2f", sample.RiskScore)
		}
	})

	t.Run("OffHoursBump", func(t *testing.T) {
		s := newTestStore(t)
		a := NewAnalyzer(s, domain.DefaultConfig().Behavior)
		at := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

		seedSamples(t, s, "user-1", "invite", []float64{0.4}, []time.Time{at.Add(-time.Hour)})

		sample, _, err := a.Record(context.Background(), "user-1", "invite", "1.2.3.4", "agent", at)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		// base 0.3 + 0.2 off-hours; |0.5 - 0.4| = 0.1 is within tolerance
		if sample.RiskScore != 0.5 {
			t.Errorf("expected off-hours score 0.5, got %.2f", sample.RiskScore)
		}
	})

	t.Run("DeviationFromHistoryBump", func(t *testing.T) {
		s := newTestStore(t)
		a := NewAnalyzer(s, domain.DefaultConfig().Behavior)
		at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

		seedSamples(t, s, "user-1", "invite",
			[]float64{0.9, 0.9},
			[]time.Time{at.Add(-2 * time.Hour), at.Add(-time.Hour)})

		sample, _, err := a.Record(context.Background(), "user-1", "invite", "1.2.3.4", "agent", at)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		// base 0.3; |0.3 - 0.9| = 0.6 > 0.3 adds 0.2
		if sample.RiskScore != 0.5 {
			t.Errorf("expected deviation-bumped score 0.5, got %.2f", sample.RiskScore)
		}
	})
}

func TestVelocitySpike(t *testing.T) {
	s := newTestStore(t)
	a := NewAnalyzer(s, domain.DefaultConfig().Behavior)
	at := time.Date(2026, 3, 10, 12, 18, 0, 0, time.UTC)

	// Five prior samples spread over the 18 minutes before the new event.
	var scores []float64
	var timestamps []time.Time
	for i := 0; i < 5; i++ {
		scores = append(scores, 0.5)
		timestamps = append(timestamps, at.Add(-18*time.Minute).Add(time.Duration(i)*3*time.Minute))
	}
	seedSamples(t, s, "user-burst", "invite", scores, timestamps)

	_, alerts, err := a.Record(context.Background(), "user-burst", "invite", "1.2.3.4", "agent", at)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var spike *domain.AnomalyAlert
	for _, alert := range alerts {
		if alert.AlertType == domain.AlertVelocitySpike {
			spike = alert
		}
	}
	if spike == nil {
		t.Fatal("expected a velocity_spike alert for 6 samples in 18 minutes")
	}
	if spike.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", spike.Severity)
	}
	// 6 samples over 0.3 hours is 20/hour
	if spike.Evidence.Velocity < 19.9 || spike.Evidence.Velocity > 20.1 {
		t.Errorf("expected velocity ~20/hour, got %.2f", spike.Evidence.Velocity)
	}
	if spike.Evidence.SampleCount != 6 {
		t.Errorf("expected 6 samples in evidence, got %d", spike.Evidence.SampleCount)
	}
}

func TestVelocityRequiresMinSamples(t *testing.T) {
	s := newTestStore(t)
	a := NewAnalyzer(s, domain.DefaultConfig().Behavior)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Three rapid samples are below the minimum sample count.
	seedSamples(t, s, "user-few", "invite",
		[]float64{0.5, 0.5, 0.5},
		[]time.Time{at.Add(-3 * time.Minute), at.Add(-2 * time.Minute), at.Add(-time.Minute)})

	_, alerts, err := a.Record(context.Background(), "user-few", "invite", "1.2.3.4", "agent", at)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	for _, alert := range alerts {
		if alert.AlertType == domain.AlertVelocitySpike {
			t.Error("velocity alert should require the minimum sample count")
		}
	}
}

func TestPatternDeviation(t *testing.T) {
	a := NewAnalyzer(newTestStore(t), domain.DefaultConfig().Behavior)
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	window := func(scores ...float64) []*domain.BehaviorPattern {
		samples := make([]*domain.BehaviorPattern, len(scores))
		for i, score := range scores {
			samples[i] = &domain.BehaviorPattern{
				ID:        fmt.Sprintf("w-%d", i),
				UserID:    "user-dev",
				RiskScore: score,
				Timestamp: at.Add(time.Duration(i-len(scores)) * time.Minute),
			}
		}
		return samples
	}

	t.Run("HighSeverity", func(t *testing.T) {
		// latest 3.125, mean 0.625, deviation 2.5
		alert := a.detectPatternDeviation("user-dev", window(0, 0, 0, 0, 3.125), at)
		if alert == nil {
			t.Fatal("expected a pattern_deviation alert")
		}
		if alert.Severity != domain.SeverityHigh {
			t.Errorf("expected high severity, got %s", alert.Severity)
		}
		if alert.Evidence.Deviation != 2.5 {
			t.Errorf("expected deviation 2.5, got %.2f", alert.Evidence.Deviation)
		}
	})

	t.Run("CriticalSeverity", func(t *testing.T) {
		// latest 5, mean 1, deviation 4
		alert := a.detectPatternDeviation("user-dev", window(0, 0, 0, 0, 5), at)
		if alert == nil {
			t.Fatal("expected a pattern_deviation alert")
		}
		if alert.Severity != domain.SeverityCritical {
			t.Errorf("expected critical severity, got %s", alert.Severity)
		}
	})

	t.Run("WithinThreshold", func(t *testing.T) {
		if alert := a.detectPatternDeviation("user-dev", window(0.3, 0.4, 0.5), at); alert != nil {
			t.Errorf("expected no alert for small deviation, got %+v", alert)
		}
	})

	t.Run("RequiresThreeSamples", func(t *testing.T) {
		if alert := a.detectPatternDeviation("user-dev", window(0, 9), at); alert != nil {
			t.Error("deviation detection requires at least 3 samples")
		}
	})
}

func TestHistoryPrune(t *testing.T) {
	s := newTestStore(t)
	cfg := domain.DefaultConfig().Behavior
	cfg.HistoryLimit = 3
	a := NewAnalyzer(s, cfg)

	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if _, _, err := a.Record(ctx, "user-prune", "invite", "1.2.3.4", "agent", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	samples, err := s.QueryBehaviorSamples(ctx, "user-prune", "invite", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("expected history capped at 3 samples, got %d", len(samples))
	}
}

func TestHashMod1000(t *testing.T) {
	a := hashMod1000("1.2.3.4")
	b := hashMod1000("1.2.3.4")
	c := hashMod1000("5.6.7.8")

	if a != b {
		t.Error("hash must be stable for equal inputs")
	}
	if a < 0 || a >= 1000 {
		t.Errorf("hash out of range: %f", a)
	}
	if a == c {
		t.Log("distinct inputs collided; acceptable but worth noting")
	}
	if hashMod1000("") != 0 {
		t.Error("empty input should hash to 0")
	}
}
