package domain

import (
	"context"
	"time"
)

// SignalStore is the engine's window onto historical attempts, fingerprint
// usage, and behavior samples. Every detector reads through this interface
// so any backing store can be substituted; the engine never issues raw
// queries itself.
type SignalStore interface {
	// Attempt history
	RecordAttempt(ctx context.Context, attempt *RegistrationAttempt) error
	CountAttemptsByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	CountAttemptsByUserAgent(ctx context.Context, userAgent string, since time.Time) (int64, error)
	CountAttemptsByEmailDomain(ctx context.Context, emailDomain string, since time.Time) (int64, error)
	CountDistinctUsersByFingerprint(ctx context.Context, hash string) (int64, error)
	// FingerprintSamples returns recent attempts that carried the given
	// hash or a structured fingerprint, newest first.
	FingerprintSamples(ctx context.Context, hash string, limit int) ([]*FingerprintSample, error)

	// Users
	GetUser(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	SetUserRiskLevel(ctx context.Context, userID string, level RiskLevel) error

	// Behavior time series
	AppendBehaviorSample(ctx context.Context, sample *BehaviorPattern) error
	QueryBehaviorSamples(ctx context.Context, userID, patternType string, from, to time.Time) ([]*BehaviorPattern, error)
	PruneBehaviorSamples(ctx context.Context, userID, patternType string, keep int, before time.Time) error

	// Audit trail
	RecordSuspiciousActivity(ctx context.Context, entry *SuspiciousActivity) error
	// ListSuspiciousActivities returns audit entries newest first,
	// optionally filtered by user ("" means any).
	ListSuspiciousActivities(ctx context.Context, userID string, limit int) ([]*SuspiciousActivity, error)
}

// AlertStore persists anomaly alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *AnomalyAlert) error
	GetAlert(ctx context.Context, id string) (*AnomalyAlert, error)
	// ListActiveAlerts returns pending/investigating alerts newest first,
	// optionally filtered by severity ("" means any).
	ListActiveAlerts(ctx context.Context, severity Severity, limit int) ([]*AnomalyAlert, error)
	UpdateAlertStatus(ctx context.Context, id string, status AlertStatus, resolvedBy string, resolvedAt *time.Time) error
}

// CaseStore persists review cases.
type CaseStore interface {
	SaveCase(ctx context.Context, c *ReviewCase) error
	GetCase(ctx context.Context, id string) (*ReviewCase, error)
	// ListCases returns cases newest first, optionally filtered by status
	// ("" means any) and assignee ("" means any).
	ListCases(ctx context.Context, status CaseStatus, assignedTo string) ([]*ReviewCase, error)
	CountOpenCases(ctx context.Context, userID string) (int64, error)
}

// FreezeStore persists account freezes and reward recoveries.
type FreezeStore interface {
	SaveFreeze(ctx context.Context, f *FreezeRecord) error
	// ActiveFreeze returns the latest freeze in force at now, or nil.
	ActiveFreeze(ctx context.Context, userID string, now time.Time) (*FreezeRecord, error)
	SaveRecovery(ctx context.Context, r *RewardRecovery) error
	RecoveredTotal(ctx context.Context, userID string) (float64, error)
}

// NotificationStore persists the pending-notification queue and the
// invite-code reminder state consumed by the scheduler.
type NotificationStore interface {
	EnqueueNotification(ctx context.Context, n *Notification) error
	PendingNotifications(ctx context.Context, limit int) ([]*Notification, error)
	MarkNotification(ctx context.Context, id string, status NotificationStatus, at time.Time) error
	DeleteExpiredNotifications(ctx context.Context, before time.Time) (int64, error)

	SaveInviteCode(ctx context.Context, code *InviteCode) error
	// ExpiringInviteCodes returns unredeemed codes expiring before the
	// given deadline that have not been reminded in the last 24 hours.
	ExpiringInviteCodes(ctx context.Context, before time.Time) ([]*InviteCode, error)
	MarkInviteReminded(ctx context.Context, code string, at time.Time) error
}

// Store is the full persistence surface implemented by the SQL store.
type Store interface {
	SignalStore
	AlertStore
	CaseStore
	FreezeStore
	NotificationStore

	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
