// Package store provides SQL-backed persistence for the risk engine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// RecordAttempt appends a registration attempt to the history.
func (s *SQLStore) RecordAttempt(ctx context.Context, attempt *domain.RegistrationAttempt) error {
	if attempt == nil || attempt.ID == "" {
		return fmt.Errorf("%w: attempt with id is required", ErrInvalidInput)
	}

	var fingerprint sql.NullString
	if attempt.Fingerprint != nil {
		raw, err := json.Marshal(attempt.Fingerprint)
		if err != nil {
			return fmt.Errorf("failed to encode fingerprint: %w", err)
		}
		fingerprint = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO registration_attempts (
			id, user_id, ip, user_agent, email, email_domain,
			invite_code, fingerprint_hash, fingerprint, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		attempt.ID, nullable(attempt.UserID), attempt.IP, attempt.UserAgent,
		attempt.Email, attempt.EmailDomain(),
		nullable(attempt.InviteCode), nullable(attempt.FingerprintHash),
		fingerprint, attempt.Timestamp,
	)
	return err
}

// CountAttemptsByIP counts attempts from one IP since the given instant.
func (s *SQLStore) CountAttemptsByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	return s.countAttempts(ctx, "ip", ip, since)
}

// CountAttemptsByUserAgent counts attempts sharing a user agent since the
// given instant.
func (s *SQLStore) CountAttemptsByUserAgent(ctx context.Context, userAgent string, since time.Time) (int64, error) {
	return s.countAttempts(ctx, "user_agent", userAgent, since)
}

// CountAttemptsByEmailDomain counts attempts sharing an email domain since
// the given instant.
func (s *SQLStore) CountAttemptsByEmailDomain(ctx context.Context, emailDomain string, since time.Time) (int64, error) {
	return s.countAttempts(ctx, "email_domain", emailDomain, since)
}

// countAttempts counts rows matching one indexed dimension. The column name
// is fixed by the callers above, never caller-supplied.
func (s *SQLStore) countAttempts(ctx context.Context, column, value string, since time.Time) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM registration_attempts
		WHERE %s = ? AND timestamp >= ?
	`, column)

	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), value, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts by %s: %w", column, err)
	}
	return count, nil
}

// CountDistinctUsersByFingerprint counts distinct users whose attempts
// carried the given fingerprint hash.
func (s *SQLStore) CountDistinctUsersByFingerprint(ctx context.Context, hash string) (int64, error) {
	if hash == "" {
		return 0, nil
	}

	query := `
		SELECT COUNT(DISTINCT user_id) FROM registration_attempts
		WHERE fingerprint_hash = ? AND user_id IS NOT NULL
	`

	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), hash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count fingerprint users: %w", err)
	}
	return count, nil
}

// FingerprintSamples returns recent attempts carrying either the given hash
// or a structured fingerprint, newest first. Rows with a malformed stored
// fingerprint are returned with only their hash.
func (s *SQLStore) FingerprintSamples(ctx context.Context, hash string, limit int) ([]*domain.FingerprintSample, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT user_id, fingerprint_hash, fingerprint
		FROM registration_attempts
		WHERE fingerprint_hash = ? OR fingerprint IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), hash, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprint samples: %w", err)
	}
	defer rows.Close()

	var samples []*domain.FingerprintSample
	for rows.Next() {
		var userID, fpHash, raw sql.NullString
		if err := rows.Scan(&userID, &fpHash, &raw); err != nil {
			return nil, err
		}

		sample := &domain.FingerprintSample{
			UserID: userID.String,
			Hash:   fpHash.String,
		}
		if raw.Valid {
			var fp domain.DeviceFingerprint
			if err := json.Unmarshal([]byte(raw.String), &fp); err == nil {
				sample.Fingerprint = &fp
			}
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, email, registration_ip, risk_level, created_at
		FROM users WHERE id = ?
	`

	var u domain.User
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(
		&u.ID, &u.Email, &u.RegistrationIP, &u.RiskLevel, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveUser inserts or updates a user record.
func (s *SQLStore) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user with id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO users (id, email, registration_ip, risk_level, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			registration_ip = excluded.registration_ip,
			risk_level = excluded.risk_level
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		user.ID, user.Email, user.RegistrationIP, user.RiskLevel, user.CreatedAt,
	)
	return err
}

// SetUserRiskLevel updates the stored risk level for a user.
func (s *SQLStore) SetUserRiskLevel(ctx context.Context, userID string, level domain.RiskLevel) error {
	query := `UPDATE users SET risk_level = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query), level, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendBehaviorSample appends one sample to the behavior time series.
func (s *SQLStore) AppendBehaviorSample(ctx context.Context, sample *domain.BehaviorPattern) error {
	if sample == nil || sample.ID == "" || sample.UserID == "" {
		return fmt.Errorf("%w: sample with id and userId is required", ErrInvalidInput)
	}

	features, _ := json.Marshal(sample.Features)

	query := `
		INSERT INTO behavior_samples (id, user_id, pattern_type, features, risk_score, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		sample.ID, sample.UserID, sample.PatternType,
		string(features), sample.RiskScore, sample.Timestamp,
	)
	return err
}

// QueryBehaviorSamples returns samples for a (user, pattern type) within
// [from, to], oldest first. patternType "" matches any type.
func (s *SQLStore) QueryBehaviorSamples(ctx context.Context, userID, patternType string, from, to time.Time) ([]*domain.BehaviorPattern, error) {
	query := `
		SELECT id, user_id, pattern_type, features, risk_score, timestamp
		FROM behavior_samples
		WHERE user_id = ? AND timestamp >= ? AND timestamp <= ?
	`
	args := []any{userID, from, to}
	if patternType != "" {
		query += ` AND pattern_type = ?`
		args = append(args, patternType)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*domain.BehaviorPattern
	for rows.Next() {
		var p domain.BehaviorPattern
		var features string
		if err := rows.Scan(&p.ID, &p.UserID, &p.PatternType, &features, &p.RiskScore, &p.Timestamp); err != nil {
			return nil, err
		}
		if features != "" {
			json.Unmarshal([]byte(features), &p.Features)
		}
		samples = append(samples, &p)
	}
	return samples, rows.Err()
}

// PruneBehaviorSamples drops samples older than before, keeping at most
// keep recent rows per (user, pattern type).
func (s *SQLStore) PruneBehaviorSamples(ctx context.Context, userID, patternType string, keep int, before time.Time) error {
	// Age-based prune first, then cap by count.
	del := `
		DELETE FROM behavior_samples
		WHERE user_id = ? AND pattern_type = ? AND timestamp < ?
	`
	if _, err := s.db.ExecContext(ctx, s.rebind(del), userID, patternType, before); err != nil {
		return err
	}

	if keep <= 0 {
		return nil
	}

	trim := `
		DELETE FROM behavior_samples
		WHERE user_id = ? AND pattern_type = ? AND id NOT IN (
			SELECT id FROM behavior_samples
			WHERE user_id = ? AND pattern_type = ?
			ORDER BY timestamp DESC
			LIMIT ?
		)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(trim), userID, patternType, userID, patternType, keep)
	return err
}

// RecordSuspiciousActivity appends an audit entry.
func (s *SQLStore) RecordSuspiciousActivity(ctx context.Context, entry *domain.SuspiciousActivity) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%w: entry with id is required", ErrInvalidInput)
	}

	results, _ := json.Marshal(entry.Results)

	query := `
		INSERT INTO suspicious_activities (id, user_id, ip, type, description, severity, results, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		entry.ID, nullable(entry.UserID), entry.IP, entry.Type,
		entry.Description, entry.Severity, string(results), entry.Timestamp,
	)
	return err
}

// ListSuspiciousActivities returns audit entries newest first. userID ""
// matches any user.
func (s *SQLStore) ListSuspiciousActivities(ctx context.Context, userID string, limit int) ([]*domain.SuspiciousActivity, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, ip, type, description, severity, results, timestamp
		FROM suspicious_activities
	`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.SuspiciousActivity
	for rows.Next() {
		var entry domain.SuspiciousActivity
		var uid sql.NullString
		var results string
		if err := rows.Scan(&entry.ID, &uid, &entry.IP, &entry.Type,
			&entry.Description, &entry.Severity, &results, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.UserID = uid.String
		if results != "" {
			if err := json.Unmarshal([]byte(results), &entry.Results); err != nil {
				return nil, fmt.Errorf("failed to decode results for %s: %w", entry.ID, err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Ping checks database health.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// nullable maps "" to NULL so partial indexes and DISTINCT counts behave.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
