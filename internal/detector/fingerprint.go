package detector

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// fingerprintSampleLimit bounds how many recent attempts the structural
// comparison walks per check.
const fingerprintSampleLimit = 500

// FingerprintReuse counts distinct users sharing a device fingerprint.
// When the attempt carries a structured fingerprint, stored fingerprints
// scoring at or above the similarity threshold count as the same device
// even when their hashes differ; otherwise matching falls back to hash
// equality. Reuse across accounts is a strong multi-account signal.
type FingerprintReuse struct {
	store      domain.SignalStore
	limit      int
	similarity float64
}

// NewFingerprintReuse creates the fingerprint reuse detector.
func NewFingerprintReuse(store domain.SignalStore, cfg domain.DetectorConfig) *FingerprintReuse {
	limit := cfg.DeviceReuseLimit
	if limit <= 0 {
		limit = 3
	}
	similarity := cfg.FingerprintSimilarity
	if similarity <= 0 {
		similarity = 0.9
	}
	return &FingerprintReuse{store: store, limit: limit, similarity: similarity}
}

// Name implements Detector.
func (d *FingerprintReuse) Name() string { return "fingerprint_reuse" }

// Check implements Detector.
func (d *FingerprintReuse) Check(ctx context.Context, in *AttemptContext) domain.DetectorResult {
	if in.Attempt == nil || (in.Attempt.FingerprintHash == "" && in.Attempt.Fingerprint == nil) {
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}

	count, err := d.distinctDeviceUsers(ctx, in.Attempt)
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
				fmt.Sprintf("device fingerprint shared by %d distinct users (limit %d)",
					count, d.limit),
			},
			Actions: []string{domain.ActionBlockRegistration, domain.ActionRequireVerification},
		}

	case count >= monitorThreshold(d.limit):
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   true,
			RiskLevel: domain.RiskMedium,
			Reasons: []string{
				fmt.Sprintf("device fingerprint shared by %d distinct users, approaching limit %d",
					count, d.limit),
			},
			Actions: []string{domain.ActionManualReview},
		}

	default:
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}
}

// distinctDeviceUsers counts users whose past attempts came from the same
// device as the given attempt. Without a structured fingerprint only the
// cheap hash-equality count is available.
func (d *FingerprintReuse) distinctDeviceUsers(ctx context.Context, attempt *domain.RegistrationAttempt) (int64, error) {
	fp := attempt.Fingerprint
	if fp == nil {
		return d.store.CountDistinctUsersByFingerprint(ctx, attempt.FingerprintHash)
	}

	hash := attempt.FingerprintHash
	if hash == "" {
		hash = fp.Hash()
	}

	samples, err := d.store.FingerprintSamples(ctx, hash, fingerprintSampleLimit)
	if err != nil {
		return 0, err
	}

	users := make(map[string]struct{})
	for _, s := range samples {
		if s.UserID == "" {
			continue
		}
		if s.Hash != "" && s.Hash == hash {
			users[s.UserID] = struct{}{}
			continue
		}
		if s.Fingerprint != nil && fp.Similarity(s.Fingerprint) >= d.similarity {
			users[s.UserID] = struct{}{}
		}
	}
	return int64(len(users)), nil
}
