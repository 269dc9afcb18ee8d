// Package detector implements the per-attempt risk detectors.
//
// Each detector is a pure function of the attempt and historical signals.
// Detectors fail open: any internal error degrades to a low-risk
// "detection unavailable" result so a store outage never blocks
// legitimate registrations.
package detector

import (
	"context"
	"log/slog"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// AttemptContext carries everything a detector may inspect for one check.
// Inviter is nil for direct registrations.
type AttemptContext struct {
	Attempt *domain.RegistrationAttempt
	Inviter *domain.User
}

// Detector is a single independent risk check.
type Detector interface {
	Name() string
	Check(ctx context.Context, in *AttemptContext) domain.DetectorResult
}

// failOpen logs the detector failure and returns the degraded result.
func failOpen(name string, err error) domain.DetectorResult {
	slog.Error("detector failed, degrading to fail-open result",
		"detector", name,
		"error", err,
	)
	return domain.Unavailable(name)
}

// monitorThreshold is the 70% warning band below a hard limit.
// A limit of 5 yields 4 (3.5 rounded up).
func monitorThreshold(limit int) int64 {
	return int64(math.Ceil(0.7 * float64(limit)))
}
