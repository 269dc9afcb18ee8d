package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SelfInvitation catches users inviting themselves through aliases or
// shared infrastructure. Identical emails and shared registration IPs
// block outright; near-identical local parts on the same domain are
// routed to manual review.
type SelfInvitation struct {
	maxEditDistance int
}

// NewSelfInvitation creates the self-invitation detector.
func NewSelfInvitation(cfg domain.DetectorConfig) *SelfInvitation {
	maxDist := cfg.EmailEditDistance
	if maxDist <= 0 {
		maxDist = 2
	}
	return &SelfInvitation{maxEditDistance: maxDist}
}

// Name implements Detector.
func (d *SelfInvitation) Name() string { return "self_invitation" }

// Check implements Detector.
func (d *SelfInvitation) Check(ctx context.Context, in *AttemptContext) domain.DetectorResult {
	if in.Attempt == nil || in.Inviter == nil {
		return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
	}

	inviterEmail := strings.ToLower(strings.TrimSpace(in.Inviter.Email))
	inviteeEmail := strings.ToLower(strings.TrimSpace(in.Attempt.Email))

	if inviterEmail != "" && inviterEmail == inviteeEmail {
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   false,
			RiskLevel: domain.RiskHigh,
			Reasons:   []string{"self-invitation: invitee email identical to inviter email"},
			Actions:   []string{domain.ActionBlockRegistration},
		}
	}

	if in.Inviter.RegistrationIP != "" && in.Inviter.RegistrationIP == in.Attempt.IP {
		return domain.DetectorResult{
			Detector:  d.Name(),
			IsValid:   false,
			RiskLevel: domain.RiskHigh,
			Reasons: []string{
				fmt.Sprintf("self-invitation: invitee shares registration IP %s with inviter", in.Attempt.IP),
			},
			Actions: []string{domain.ActionBlockRegistration},
		}
	}

	if domain.EmailDomain(inviterEmail) != "" &&
		domain.EmailDomain(inviterEmail) == domain.EmailDomain(inviteeEmail) {
		inviterLocal := domain.EmailLocalPart(inviterEmail)
		inviteeLocal := domain.EmailLocalPart(inviteeEmail)

		if d.similarLocalParts(inviterLocal, inviteeLocal) {
			return domain.DetectorResult{
				Detector:  d.Name(),
				IsValid:   true,
				RiskLevel: domain.RiskMedium,
				Reasons: []string{
					fmt.Sprintf("possible self-invitation: invitee %s resembles inviter %s",
						inviteeEmail, inviterEmail),
				},
				Actions: []string{domain.ActionManualReview},
			}
		}
	}

	return domain.DetectorResult{Detector: d.Name(), IsValid: true, RiskLevel: domain.RiskLow}
}

// similarLocalParts reports whether two email local parts look like
// aliases of each other: equal after stripping digits and separators, or
// within the edit distance threshold.
func (d *SelfInvitation) similarLocalParts(a, b string) bool {
	if stripSeparators(a) == stripSeparators(b) {
		return true
	}
	return levenshtein(a, b) <= d.maxEditDistance
}

// stripSeparators removes digits, dots, and dashes.
func stripSeparators(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}
