package store

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    registration_ip TEXT NOT NULL,
    risk_level TEXT NOT NULL DEFAULT 'low',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

const schemaAttempts = `
CREATE TABLE IF NOT EXISTS registration_attempts (
    id TEXT PRIMARY KEY,
    user_id TEXT,
    ip TEXT NOT NULL,
    user_agent TEXT NOT NULL,
    email TEXT NOT NULL,
    email_domain TEXT NOT NULL,
    invite_code TEXT,
    fingerprint_hash TEXT,
    fingerprint TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_ip ON registration_attempts(ip, timestamp);
CREATE INDEX IF NOT EXISTS idx_attempts_ua ON registration_attempts(user_agent, timestamp);
CREATE INDEX IF NOT EXISTS idx_attempts_domain ON registration_attempts(email_domain, timestamp);
CREATE INDEX IF NOT EXISTS idx_attempts_fingerprint ON registration_attempts(fingerprint_hash);
`

const schemaBehaviorSamples = `
CREATE TABLE IF NOT EXISTS behavior_samples (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    pattern_type TEXT NOT NULL,
    features TEXT NOT NULL,
    risk_score REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_behavior_user ON behavior_samples(user_id, pattern_type, timestamp);
`

const schemaSuspiciousActivities = `
CREATE TABLE IF NOT EXISTS suspicious_activities (
    id TEXT PRIMARY KEY,
    user_id TEXT,
    ip TEXT NOT NULL,
    type TEXT NOT NULL,
    description TEXT NOT NULL,
    severity TEXT NOT NULL,
    results TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_suspicious_user ON suspicious_activities(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_suspicious_ip ON suspicious_activities(ip, timestamp);
`

const schemaAnomalyAlerts = `
CREATE TABLE IF NOT EXISTS anomaly_alerts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL,
    evidence TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    resolved_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON anomaly_alerts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_user ON anomaly_alerts(user_id, created_at);
`

const schemaReviewCases = `
CREATE TABLE IF NOT EXISTS review_cases (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    case_type TEXT NOT NULL,
    priority TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    assigned_to TEXT,
    evidence TEXT,
    decision TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_status ON review_cases(status, created_at);
CREATE INDEX IF NOT EXISTS idx_cases_assignee ON review_cases(assigned_to, created_at);
CREATE INDEX IF NOT EXISTS idx_cases_user ON review_cases(user_id, status);
`

const schemaAccountFreezes = `
CREATE TABLE IF NOT EXISTS account_freezes (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    features TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP,
    lifted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_freezes_user ON account_freezes(user_id, created_at);
`

const schemaRewardRecoveries = `
CREATE TABLE IF NOT EXISTS reward_recoveries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    case_id TEXT,
    amount REAL NOT NULL,
    reason TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recoveries_user ON reward_recoveries(user_id);
`

const schemaNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    channel TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    sent_at TIMESTAMP,
    expires_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
`

const schemaInviteCodes = `
CREATE TABLE IF NOT EXISTS invite_codes (
    code TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    redeemed_at TIMESTAMP,
    reminder_sent_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_invites_expiry ON invite_codes(expires_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaAttempts,
		schemaBehaviorSamples,
		schemaSuspiciousActivities,
		schemaAnomalyAlerts,
		schemaReviewCases,
		schemaAccountFreezes,
		schemaRewardRecoveries,
		schemaNotifications,
		schemaInviteCodes,
	}
}
