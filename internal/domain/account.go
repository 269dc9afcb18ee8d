package domain

import "time"

// FreezeScopeAll freezes every feature of an account.
const FreezeScopeAll = "all"

// FreezeRecord is one account freeze entry. A freeze with a nil ExpiresAt
// holds until lifted; an expiry in the past makes the freeze inactive.
type FreezeRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Features  []string   `json:"features"`
	Reason    string     `json:"reason"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	LiftedAt  *time.Time `json:"liftedAt,omitempty"`
}

// ActiveAt reports whether the freeze is in force at the given instant.
func (f *FreezeRecord) ActiveAt(now time.Time) bool {
	if f.LiftedAt != nil {
		return false
	}
	if f.ExpiresAt != nil && !f.ExpiresAt.After(now) {
		return false
	}
	return true
}

// RewardRecovery records a clawback of referral rewards.
type RewardRecovery struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CaseID    string    `json:"caseId,omitempty"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// AccountStatus is a derived read-model joining the latest active freeze,
// the user's risk level, recovered rewards, and open review cases.
// It is recomputed on read, never stored.
type AccountStatus struct {
	UserID                string     `json:"userId"`
	IsFrozen              bool       `json:"isFrozen"`
	FrozenFeatures        []string   `json:"frozenFeatures,omitempty"`
	FreezeReason          string     `json:"freezeReason,omitempty"`
	FreezeExpiresAt       *time.Time `json:"freezeExpiresAt,omitempty"`
	RiskLevel             RiskLevel  `json:"riskLevel"`
	TotalRecoveredRewards float64    `json:"totalRecoveredRewards"`
	ActiveReviewCases     int        `json:"activeReviewCases"`
}
