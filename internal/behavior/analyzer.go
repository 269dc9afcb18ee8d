// Package behavior maintains per-user activity time series and runs
// velocity and pattern-deviation anomaly detection over them.
package behavior

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// sampleRetention bounds how far back samples are kept regardless of the
// per-series history cap.
const sampleRetention = 30 * 24 * time.Hour

// Analyzer records behavior samples and detects anomalies on demand.
// It holds no mutable state of its own; every detection recomputes from
// the store.
type Analyzer struct {
	store domain.SignalStore
	cfg   domain.BehaviorConfig
}

// NewAnalyzer creates a behavior analyzer.
func NewAnalyzer(store domain.SignalStore, cfg domain.BehaviorConfig) *Analyzer {
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = 10
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = 24 * time.Hour
	}
	if cfg.MinVelocitySamples <= 0 {
		cfg.MinVelocitySamples = 5
	}
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = 2.0
	}
	if cfg.CriticalDeviation <= 0 {
		cfg.CriticalDeviation = 3.0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.DefaultScore <= 0 {
		cfg.DefaultScore = 0.5
	}
	return &Analyzer{store: store, cfg: cfg}
}

// Record extracts features from one activity event, scores it against the
// user's history, appends the sample, and returns any anomaly alert
// drafts. The caller persists the drafts through the alert manager.
func (a *Analyzer) Record(ctx context.Context, userID, activityType, ip, userAgent string, at time.Time) (*domain.BehaviorPattern, []*domain.AnomalyAlert, error) {
	if userID == "" || activityType == "" {
		return nil, nil, fmt.Errorf("userID and activityType are required")
	}

	history, err := a.store.QueryBehaviorSamples(ctx, userID, activityType, at.Add(-a.cfg.VelocityWindow), at)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load behavior history: %w", err)
	}

	sample := &domain.BehaviorPattern{
		ID:          uuid.New().String(),
		UserID:      userID,
		PatternType: activityType,
		Features: map[string]float64{
			domain.FeatureHourOfDay:      float64(at.Hour()),
			domain.FeatureDayOfWeek:      float64(at.Weekday()),
			domain.FeatureDailyFrequency: float64(len(history) + 1),
			domain.FeatureIPHash:         hashMod1000(ip),
			domain.FeatureUserAgentHash:  hashMod1000(userAgent),
		},
		Timestamp: at,
	}
	sample.RiskScore = a.score(sample, history)

	if err := a.store.AppendBehaviorSample(ctx, sample); err != nil {
		return nil, nil, fmt.Errorf("failed to append behavior sample: %w", err)
	}
	if err := a.store.PruneBehaviorSamples(ctx, userID, activityType, a.cfg.HistoryLimit, at.Add(-sampleRetention)); err != nil {
		return nil, nil, fmt.Errorf("failed to prune behavior samples: %w", err)
	}

	window := append(history, sample)
	alerts := a.detect(userID, window, at)

	return sample, alerts, nil
}

// score computes the risk score for one sample against prior history.
// With no history the configured cold-start default applies.
func (a *Analyzer) score(sample *domain.BehaviorPattern, history []*domain.BehaviorPattern) float64 {
	if len(history) == 0 {
		return a.cfg.DefaultScore
	}

	score := 0.3

	hour := sample.Feature(domain.FeatureHourOfDay)
	if hour < 6 || hour > 22 {
		score += 0.2
	}

	if sample.Feature(domain.FeatureDailyFrequency) > 10 {
		score += 0.3
	}

	var sum float64
	for _, h := range history {
		sum += h.RiskScore
	}
	mean := sum / float64(len(history))
	if abs(score-mean) > 0.3 {
		score += 0.2
	}

	return clamp(score, 0, 1)
}

// detect runs velocity-spike and pattern-deviation checks over the
// current window and returns zero or more alert drafts.
func (a *Analyzer) detect(userID string, window []*domain.BehaviorPattern, at time.Time) []*domain.AnomalyAlert {
	var alerts []*domain.AnomalyAlert

	if alert := a.detectVelocitySpike(userID, window, at); alert != nil {
		alerts = append(alerts, alert)
	}
	if alert := a.detectPatternDeviation(userID, window, at); alert != nil {
		alerts = append(alerts, alert)
	}

	return alerts
}

// detectVelocitySpike measures events per hour over the actual sample
// span, not the configured window. Six samples spread over eighteen
// minutes is a rate of twenty per hour.
func (a *Analyzer) detectVelocitySpike(userID string, window []*domain.BehaviorPattern, at time.Time) *domain.AnomalyAlert {
	if len(window) < a.cfg.MinVelocitySamples {
		return nil
	}

	earliest := window[0].Timestamp
	for _, s := range window {
		if s.Timestamp.Before(earliest) {
			earliest = s.Timestamp
		}
	}

	spanHours := at.Sub(earliest).Hours()
	if spanHours <= 0 {
		spanHours = 1.0 / 3600 // all samples within one second
	}

	velocity := float64(len(window)) / spanHours
	if velocity <= a.cfg.VelocityThreshold {
		return nil
	}

	return &domain.AnomalyAlert{
		UserID:    userID,
		AlertType: domain.AlertVelocitySpike,
		Severity:  domain.SeverityHigh,
		Description: fmt.Sprintf("activity velocity %.1f/hour exceeds %.1f/hour over %d samples",
			velocity, a.cfg.VelocityThreshold, len(window)),
		Evidence: domain.AlertEvidence{
			Velocity:    velocity,
			SampleCount: len(window),
			WindowHours: spanHours,
		},
		Status:    domain.AlertPending,
		CreatedAt: at,
	}
}

// detectPatternDeviation compares the most recent risk score to the
// window mean.
func (a *Analyzer) detectPatternDeviation(userID string, window []*domain.BehaviorPattern, at time.Time) *domain.AnomalyAlert {
	if len(window) < 3 {
		return nil
	}

	latest := window[len(window)-1]
	for _, s := range window {
		if s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}

	var sum float64
	for _, s := range window {
		sum += s.RiskScore
	}
	mean := sum / float64(len(window))

	deviation := abs(latest.RiskScore - mean)
	if deviation <= a.cfg.DeviationThreshold {
		return nil
	}

	severity := domain.SeverityHigh
	if deviation > a.cfg.CriticalDeviation {
		severity = domain.SeverityCritical
	}

	return &domain.AnomalyAlert{
		UserID:    userID,
		AlertType: domain.AlertPatternDeviation,
		Severity:  severity,
		Description: fmt.Sprintf("risk score %.2f deviates %.2f from mean %.2f over %d samples",
			latest.RiskScore, deviation, mean, len(window)),
		Evidence: domain.AlertEvidence{
			Deviation:   deviation,
			Mean:        mean,
			Latest:      latest.RiskScore,
			SampleCount: len(window),
		},
		Status:    domain.AlertPending,
		CreatedAt: at,
	}
}

// hashMod1000 folds a string into a stable categorical proxy in [0,1000).
func hashMod1000(s string) float64 {
	if s == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32() % 1000)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
