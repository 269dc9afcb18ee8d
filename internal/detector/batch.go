package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// BatchPattern looks for coordinated registration bursts within a short
// window: the same IP, the same user agent, or the same email domain.
// The domain dimension uses twice the threshold since shared domains
// carry more legitimate volume.
type BatchPattern struct {
	store     domain.SignalStore
	window    time.Duration
	threshold int
}

// NewBatchPattern creates the batch registration detector.
func NewBatchPattern(store domain.SignalStore, cfg domain.DetectorConfig) *BatchPattern {
	window := cfg.BatchWindow
	if window <= 0 {
		window = 300 * time.Second
	}
	threshold := cfg.BatchThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &BatchPattern{store: store, window: window, threshold: threshold}
}

// Name implements Detector.
func (d *BatchPattern) Name() string { return "batch_pattern" }

// Check implements Detector.
func (d *BatchPattern) Check(ctx context.Context, in *AttemptContext) domain.DetectorResult {
	if in.Attempt == nil {
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}

	since := in.Attempt.Timestamp.Add(-d.window)
	var reasons []string

	if in.Attempt.IP != "" {
		count, err := d.store.CountAttemptsByIP(ctx, in.Attempt.IP, since)
		if err != nil {
			return failOpen(d.Name(), err)
		}
		if count >= int64(d.threshold) {
			reasons = append(reasons, fmt.Sprintf(
				"batch pattern: %d registrations from IP %s within %s", count, in.Attempt.IP, d.window))
		}
	}

	if in.Attempt.UserAgent != "" {
		count, err := d.store.CountAttemptsByUserAgent(ctx, in.Attempt.UserAgent, since)
		if err != nil {
			return failOpen(d.Name(), err)
		}
		if count >= int64(d.threshold) {
			reasons = append(reasons, fmt.Sprintf(
				"batch pattern: %d registrations sharing a user agent within %s", count, d.window))
		}
	}

	if emailDomain := in.Attempt.EmailDomain(); emailDomain != "" {
		count, err := d.store.CountAttemptsByEmailDomain(ctx, emailDomain, since)
		if err != nil {
			return failOpen(d.Name(), err)
		}
		if count >= int64(2*d.threshold) {
			reasons = append(reasons, fmt.Sprintf(
				"batch pattern: %d registrations on domain %s within %s", count, emailDomain, d.window))
		}
	}

	switch {
	case len(reasons) >= 2:
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   false,
			RiskLevel: domain.RiskHigh,
			Reasons:   reasons,
			Actions:   []string{domain.ActionBlockRegistration},
		}

	case len(reasons) == 1:
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   true,
			RiskLevel: domain.RiskMedium,
			Reasons:   reasons,
			Actions:   []string{domain.ActionMonitor},
		}

	default:
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}
}
