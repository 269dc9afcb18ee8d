package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveAlert inserts or updates an anomaly alert.
func (s *SQLStore) SaveAlert(ctx context.Context, alert *domain.AnomalyAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert with id is required", ErrInvalidInput)
	}

	evidence, _ := json.Marshal(alert.Evidence)

	query := `
		INSERT INTO anomaly_alerts (
			id, user_id, alert_type, severity, description, evidence,
			status, created_at, resolved_at, resolved_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		alert.ID, alert.UserID, alert.AlertType, alert.Severity,
		alert.Description, string(evidence), alert.Status,
		alert.CreatedAt, alert.ResolvedAt, nullable(alert.ResolvedBy),
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (s *SQLStore) GetAlert(ctx context.Context, id string) (*domain.AnomalyAlert, error) {
	query := `
		SELECT id, user_id, alert_type, severity, description, evidence,
		       status, created_at, resolved_at, resolved_by
		FROM anomaly_alerts WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, s.rebind(query), id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListActiveAlerts returns pending/investigating alerts newest first.
func (s *SQLStore) ListActiveAlerts(ctx context.Context, severity domain.Severity, limit int) ([]*domain.AnomalyAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, alert_type, severity, description, evidence,
		       status, created_at, resolved_at, resolved_by
		FROM anomaly_alerts
		WHERE status IN ('pending', 'investigating')
	`
	args := []any{}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.AnomalyAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus transitions an alert's status.
func (s *SQLStore) UpdateAlertStatus(ctx context.Context, id string, status domain.AlertStatus, resolvedBy string, resolvedAt *time.Time) error {
	query := `
		UPDATE anomaly_alerts
		SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, s.rebind(query), status, nullable(resolvedBy), resolvedAt, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.AnomalyAlert, error) {
	var a domain.AnomalyAlert
	var evidence string
	var resolvedBy sql.NullString

	err := row.Scan(
		&a.ID, &a.UserID, &a.AlertType, &a.Severity, &a.Description,
		&evidence, &a.Status, &a.CreatedAt, &a.ResolvedAt, &resolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if evidence != "" {
		json.Unmarshal([]byte(evidence), &a.Evidence)
	}
	a.ResolvedBy = resolvedBy.String
	return &a, nil
}

// SaveCase inserts or updates a review case.
func (s *SQLStore) SaveCase(ctx context.Context, c *domain.ReviewCase) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case with id is required", ErrInvalidInput)
	}

	evidence, _ := json.Marshal(c.Evidence)
	var decision any
	if c.Decision != nil {
		b, _ := json.Marshal(c.Decision)
		decision = string(b)
	}

	query := `
		INSERT INTO review_cases (
			id, user_id, case_type, priority, status, assigned_to,
			evidence, decision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			priority = excluded.priority,
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			evidence = excluded.evidence,
			decision = excluded.decision,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		c.ID, c.UserID, c.CaseType, c.Priority, c.Status,
		nullable(c.AssignedTo), string(evidence), decision,
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCase retrieves a review case by ID.
func (s *SQLStore) GetCase(ctx context.Context, id string) (*domain.ReviewCase, error) {
	query := `
		SELECT id, user_id, case_type, priority, status, assigned_to,
		       evidence, decision, created_at, updated_at
		FROM review_cases WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, s.rebind(query), id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCases returns cases newest first with optional filters.
func (s *SQLStore) ListCases(ctx context.Context, status domain.CaseStatus, assignedTo string) ([]*domain.ReviewCase, error) {
	query := `
		SELECT id, user_id, case_type, priority, status, assigned_to,
		       evidence, decision, created_at, updated_at
		FROM review_cases
	`
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if assignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, assignedTo)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.ReviewCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// CountOpenCases counts a user's non-terminal review cases.
func (s *SQLStore) CountOpenCases(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM review_cases
		WHERE user_id = ? AND status IN ('pending', 'in_review', 'escalated')
	`

	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(&count)
	return count, err
}

func scanCase(row rowScanner) (*domain.ReviewCase, error) {
	var c domain.ReviewCase
	var assignedTo sql.NullString
	var evidence, decision sql.NullString

	err := row.Scan(
		&c.ID, &c.UserID, &c.CaseType, &c.Priority, &c.Status,
		&assignedTo, &evidence, &decision, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AssignedTo = assignedTo.String
	if evidence.Valid && evidence.String != "" {
		json.Unmarshal([]byte(evidence.String), &c.Evidence)
	}
	if decision.Valid && decision.String != "" {
		var d domain.ReviewDecision
		if err := json.Unmarshal([]byte(decision.String), &d); err == nil {
			c.Decision = &d
		}
	}
	return &c, nil
}

// SaveFreeze inserts or updates an account freeze entry.
func (s *SQLStore) SaveFreeze(ctx context.Context, f *domain.FreezeRecord) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("%w: freeze with id is required", ErrInvalidInput)
	}

	features, _ := json.Marshal(f.Features)

	query := `
		INSERT INTO account_freezes (
			id, user_id, features, reason, created_by, created_at, expires_at, lifted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			expires_at = excluded.expires_at,
			lifted_at = excluded.lifted_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		f.ID, f.UserID, string(features), f.Reason, f.CreatedBy,
		f.CreatedAt, f.ExpiresAt, f.LiftedAt,
	)
	return err
}

// ActiveFreeze returns the latest freeze in force for a user, or nil.
func (s *SQLStore) ActiveFreeze(ctx context.Context, userID string, now time.Time) (*domain.FreezeRecord, error) {
	query := `
		SELECT id, user_id, features, reason, created_by, created_at, expires_at, lifted_at
		FROM account_freezes
		WHERE user_id = ?
		  AND lifted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
		LIMIT 1
	`

	var f domain.FreezeRecord
	var features string
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID, now).Scan(
		&f.ID, &f.UserID, &features, &f.Reason, &f.CreatedBy,
		&f.CreatedAt, &f.ExpiresAt, &f.LiftedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if features != "" {
		json.Unmarshal([]byte(features), &f.Features)
	}
	return &f, nil
}

// SaveRecovery records a reward clawback.
func (s *SQLStore) SaveRecovery(ctx context.Context, r *domain.RewardRecovery) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: recovery with id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO reward_recoveries (id, user_id, case_id, amount, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		r.ID, r.UserID, nullable(r.CaseID), r.Amount, r.Reason, r.CreatedBy, r.CreatedAt,
	)
	return err
}

// RecoveredTotal sums a user's recovered rewards.
func (s *SQLStore) RecoveredTotal(ctx context.Context, userID string) (float64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM reward_recoveries WHERE user_id = ?`

	var total float64
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(&total)
	return total, err
}

// EnqueueNotification appends a notification to the pending queue.
func (s *SQLStore) EnqueueNotification(ctx context.Context, n *domain.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: notification with id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(n.Metadata)

	query := `
		INSERT INTO notifications (
			id, user_id, type, title, content, channel, status,
			metadata, created_at, sent_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		n.ID, n.UserID, n.Type, n.Title, n.Content, n.Channel, n.Status,
		string(metadata), n.CreatedAt, n.SentAt, n.ExpiresAt,
	)
	return err
}

// PendingNotifications returns queued notifications oldest first.
func (s *SQLStore) PendingNotifications(ctx context.Context, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, type, title, content, channel, status,
		       metadata, created_at, sent_at, expires_at
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var metadata sql.NullString
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Channel,
			&n.Status, &metadata, &n.CreatedAt, &n.SentAt, &n.ExpiresAt,
		); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &n.Metadata)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkNotification transitions a notification's delivery status.
func (s *SQLStore) MarkNotification(ctx context.Context, id string, status domain.NotificationStatus, at time.Time) error {
	var sentAt any
	if status == domain.NotificationSent {
		sentAt = at
	}

	query := `UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query), status, sentAt, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredNotifications removes notifications past their expiry or
// delivered before the retention cutoff.
func (s *SQLStore) DeleteExpiredNotifications(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE (expires_at IS NOT NULL AND expires_at < ?)
		   OR (status != 'pending' AND created_at < ?)
	`

	res, err := s.db.ExecContext(ctx, s.rebind(query), before, before)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveInviteCode inserts or updates an invite code record.
func (s *SQLStore) SaveInviteCode(ctx context.Context, code *domain.InviteCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: invite code is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO invite_codes (code, owner_id, created_at, expires_at, redeemed_at, reminder_sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			redeemed_at = excluded.redeemed_at,
			reminder_sent_at = excluded.reminder_sent_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		code.Code, code.OwnerID, code.CreatedAt, code.ExpiresAt,
		code.RedeemedAt, code.ReminderSentAt,
	)
	return err
}

// ExpiringInviteCodes returns unredeemed codes expiring before the deadline
// that have not been reminded within the last 24 hours.
func (s *SQLStore) ExpiringInviteCodes(ctx context.Context, before time.Time) ([]*domain.InviteCode, error) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	query := `
		SELECT code, owner_id, created_at, expires_at, redeemed_at, reminder_sent_at
		FROM invite_codes
		WHERE redeemed_at IS NULL
		  AND expires_at > ?
		  AND expires_at < ?
		  AND (reminder_sent_at IS NULL OR reminder_sent_at < ?)
		ORDER BY expires_at ASC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), time.Now().UTC(), before, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*domain.InviteCode
	for rows.Next() {
		var c domain.InviteCode
		if err := rows.Scan(&c.Code, &c.OwnerID, &c.CreatedAt, &c.ExpiresAt, &c.RedeemedAt, &c.ReminderSentAt); err != nil {
			return nil, err
		}
		codes = append(codes, &c)
	}
	return codes, rows.Err()
}

// MarkInviteReminded stamps the reminder dedup marker on a code.
func (s *SQLStore) MarkInviteReminded(ctx context.Context, code string, at time.Time) error {
	query := `UPDATE invite_codes SET reminder_sent_at = ? WHERE code = ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query), at, code)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
