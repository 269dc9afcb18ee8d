// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RegistrationAttempt is a single registration or invitation-redemption
// attempt as seen by the risk engine. Immutable once recorded.
type RegistrationAttempt struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId,omitempty"`
	IP              string             `json:"ip"`
	UserAgent       string             `json:"userAgent"`
	Email           string             `json:"email"`
	InviteCode      string             `json:"inviteCode,omitempty"`
	FingerprintHash string             `json:"fingerprintHash,omitempty"`
	Fingerprint     *DeviceFingerprint `json:"fingerprint,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// EmailDomain returns the part of the attempt email after '@', lowercased.
func (a *RegistrationAttempt) EmailDomain() string {
	return EmailDomain(a.Email)
}

// EmailDomain extracts the lowercased domain of an email address.
// Returns "" when the address has no '@'.
func EmailDomain(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 || idx == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[idx+1:])
}

// EmailLocalPart extracts the lowercased local part of an email address.
func EmailLocalPart(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return strings.ToLower(email)
	}
	return strings.ToLower(email[:idx])
}

// DeviceFingerprint is the structured client fingerprint submitted with an
// attempt. Two fingerprints are compared by weighted field similarity, not
// just hash equality.
type DeviceFingerprint struct {
	UserAgent        string            `json:"userAgent"`
	ScreenResolution string            `json:"screenResolution"`
	Timezone         string            `json:"timezone"`
	Language         string            `json:"language"`
	Platform         string            `json:"platform"`
	CookieEnabled    bool              `json:"cookieEnabled"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Hash returns a deterministic digest of the fingerprint fields.
// Extra attributes are folded in by sorted key so the digest is stable.
func (f *DeviceFingerprint) Hash() string {
	var b strings.Builder
	b.WriteString(f.UserAgent)
	b.WriteByte('|')
	b.WriteString(f.ScreenResolution)
	b.WriteByte('|')
	b.WriteString(f.Timezone)
	b.WriteByte('|')
	b.WriteString(f.Language)
	b.WriteByte('|')
	b.WriteString(f.Platform)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%t", f.CookieEnabled)

	if len(f.Extra) > 0 {
		keys := make([]string, 0, len(f.Extra))
		for k := range f.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(f.Extra[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Similarity scores how closely two fingerprints match, weighted per field.
// Returns a value in [0,1]. 1.0 means every compared field matches.
func (f *DeviceFingerprint) Similarity(other *DeviceFingerprint) float64 {
	if other == nil {
		return 0
	}

	score := 0.0
	if f.UserAgent == other.UserAgent {
		score += 0.30
	}
	if f.ScreenResolution == other.ScreenResolution {
		score += 0.20
	}
	if f.Timezone == other.Timezone {
		score += 0.15
	}
	if f.Language == other.Language {
		score += 0.15
	}
	if f.Platform == other.Platform {
		score += 0.15
	}
	if f.CookieEnabled == other.CookieEnabled {
		score += 0.05
	}
	return score
}

// FingerprintSample pairs an attempt's user with the device fingerprint
// it carried, for structural comparison against a new attempt.
type FingerprintSample struct {
	UserID      string
	Hash        string
	Fingerprint *DeviceFingerprint
}

// User is the subset of the platform user record the engine reads.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	RegistrationIP string    `json:"registrationIp"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	CreatedAt      time.Time `json:"createdAt"`
}
