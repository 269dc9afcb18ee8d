package domain

import (
	"context"
	"time"
)

// NotificationStatus is the delivery state of a queued notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is a queued message for a user or an admin. Delivery
// mechanics (SMTP, push, SMS) live outside the engine behind Notifier.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Channel   string            `json:"channel"`
	Status    NotificationStatus `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	SentAt    *time.Time        `json:"sentAt,omitempty"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

// Notification types produced by the engine.
const (
	NotifyAccountFrozen  = "account_frozen"
	NotifyReviewOutcome  = "review_outcome"
	NotifyAdminAlert     = "admin_alert"
	NotifyInviteExpiring = "invite_expiring"
	NotifyDigest         = "digest"
)

// Notifier delivers a single notification over its channel.
// Implementations must be safe for concurrent use.
type Notifier interface {
	SendNotification(ctx context.Context, n *Notification) error
}

// InviteCode is the subset of invite-code state the scheduler reads to send
// expiry reminders. ReminderSentAt dedupes reminders to one per 24h.
type InviteCode struct {
	Code           string     `json:"code"`
	OwnerID        string     `json:"ownerId"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	RedeemedAt     *time.Time `json:"redeemedAt,omitempty"`
	ReminderSentAt *time.Time `json:"reminderSentAt,omitempty"`
}
