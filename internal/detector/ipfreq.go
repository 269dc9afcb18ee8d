package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// IPFrequency counts registrations from the same IP within a trailing
// window. At the limit the attempt is blocked with a cooldown; at 70% of
// the limit it is flagged for monitoring.
type IPFrequency struct {
	store  domain.SignalStore
	limit  int
	window time.Duration
}

// NewIPFrequency creates the IP frequency detector.
func NewIPFrequency(store domain.SignalStore, cfg domain.DetectorConfig) *IPFrequency {
	limit := cfg.IPFrequencyLimit
	if limit <= 0 {
		limit = 5
	}
	window := cfg.IPWindow
	if window <= 0 {
		window = time.Hour
	}
	return &IPFrequency{store: store, limit: limit, window: window}
}

// Name implements Detector.
func (d *IPFrequency) Name() string { return "ip_frequency" }

// Check implements Detector.
func (d *IPFrequency) Check(ctx context.Context, in *AttemptContext) domain.DetectorResult {
	if in.Attempt == nil || in.Attempt.IP == "" {
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}

	since := in.Attempt.Timestamp.Add(-d.window)
	count, err := d.store.CountAttemptsByIP(ctx, in.Attempt.IP, since)
	if err != nil {
		return failOpen(d.Name(), err)
	}

	switch {
	case count >= int64(d.limit):
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   false,
			RiskLevel: domain.RiskHigh,
			Reasons: []string{
				fmt.Sprintf("IP %s registered %d times within %s (limit %d)",
					in.Attempt.IP, count, d.window, d.limit),
			},
			Actions: []string{domain.ActionCooldown, domain.ActionBlockRegistration},
		}

	case count >= monitorThreshold(d.limit):
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   true,
			RiskLevel: domain.RiskMedium,
			Reasons: []string{
				fmt.Sprintf("IP %s approaching registration limit: %d of %d within %s",
					in.Attempt.IP, count, d.limit, d.window),
			},
			Actions: []string{domain.ActionMonitor},
		}

	default:
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}
}
