// Package scheduler runs the background notification jobs: the daily
// pending-queue dispatch, weekly and monthly digests, expired-notification
// cleanup, and invite-code expiry reminders. All jobs run on one
// goroutine, so a slow tick delays the next instead of overlapping it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Store is the persistence surface the scheduler reads and writes.
type Store interface {
	domain.NotificationStore
	domain.AlertStore
	domain.CaseStore
}

// Scheduler drives the periodic notification jobs.
type Scheduler struct {
	store    Store
	notifier domain.Notifier

	tickInterval       time.Duration
	dispatchHour       int
	digestWeekday      time.Weekday
	digestMonthDay     int
	retention          time.Duration
	inviteReminderLead time.Duration
	batchSize          int
	adminUserID        string

	// Last-run markers, one per wall-clock gated job, holding the day
	// (or month) the job last ran so a tick never repeats it.
	lastDispatchDay string
	lastDigestDay   string
	lastMonthlyRun  string
	lastCleanupDay  string

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a scheduler. Zero config fields fall back to defaults.
func New(st Store, notifier domain.Notifier, cfg domain.SchedulerConfig, adminUserID string) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Hour
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	lead := cfg.InviteReminderLead
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	batch := cfg.DispatchBatchSize
	if batch <= 0 {
		batch = 100
	}
	monthDay := cfg.DigestMonthDay
	if monthDay <= 0 || monthDay > 28 {
		monthDay = 1
	}

	return &Scheduler{
		store:              st,
		notifier:           notifier,
		tickInterval:       tick,
		dispatchHour:       cfg.DispatchHour,
		digestWeekday:      cfg.DigestWeekday,
		digestMonthDay:     monthDay,
		retention:          retention,
		inviteReminderLead: lead,
		batchSize:          batch,
		adminUserID:        adminUserID,
		now:                time.Now,
	}
}

// Start launches the scheduler goroutine. The first tick runs
// immediately; subsequent ticks follow the configured interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.tick(ctx)

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	slog.Info("scheduler started", "tick_interval", s.tickInterval)
}

// Stop cancels the scheduler and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("scheduler stopped")
}

// tick runs every due job once. A panicking job is contained to this
// tick.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panicked", "panic", r)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	if now.Hour() >= s.dispatchHour && s.lastDispatchDay != day {
		s.lastDispatchDay = day
		s.dispatchPending(ctx)
	}

	if now.Weekday() == s.digestWeekday && now.Hour() >= s.dispatchHour && s.lastDigestDay != day {
		s.lastDigestDay = day
		s.sendDigest(ctx, "weekly")
	}

	if now.Day() == s.digestMonthDay && now.Hour() >= s.dispatchHour && s.lastMonthlyRun != month {
		s.lastMonthlyRun = month
		s.sendDigest(ctx, "monthly")
	}

	if now.Hour() >= s.dispatchHour && s.lastCleanupDay != day {
		s.lastCleanupDay = day
		s.cleanup(ctx, now)
	}

	// Invite reminders run every tick; the store dedupes per code.
	s.remindExpiringInvites(ctx, now)
}

// dispatchPending drains the pending queue through the notifier. Each
// notification succeeds or fails on its own.
func (s *Scheduler) dispatchPending(ctx context.Context) {
	pending, err := s.store.PendingNotifications(ctx, s.batchSize)
	if err != nil {
		slog.Error("failed to load pending notifications", "error", err)
		return
	}

	var sent, failed int
	for _, n := range pending {
		status := domain.NotificationSent
		if err := s.deliver(ctx, n); err != nil {
			slog.Error("notification delivery failed",
				"notification_id", n.ID,
				"type", n.Type,
				"error", err,
			)
			status = domain.NotificationFailed
			failed++
		} else {
			sent++
		}

		if err := s.store.MarkNotification(ctx, n.ID, status, s.now().UTC()); err != nil {
			slog.Error("failed to mark notification",
				"notification_id", n.ID,
				"status", status,
				"error", err,
			)
		}
	}

	if sent > 0 || failed > 0 {
		slog.Info("dispatched pending notifications", "sent", sent, "failed", failed)
	}
}

// deliver shields the dispatch loop from a panicking notifier.
func (s *Scheduler) deliver(ctx context.Context, n *domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return s.notifier.SendNotification(ctx, n)
}

// sendDigest delivers an operational summary to the admin channel.
func (s *Scheduler) sendDigest(ctx context.Context, period string) {
	alerts, err := s.store.ListActiveAlerts(ctx, "", 1000)
	if err != nil {
		slog.Error("failed to load alerts for digest", "period", period, "error", err)
		return
	}
	cases, err := s.store.ListCases(ctx, domain.CasePending, "")
	if err != nil {
		slog.Error("failed to load cases for digest", "period", period, "error", err)
		return
	}

	n := &domain.Notification{
		ID:     uuid.New().String(),
		UserID: s.adminUserID,
		Type:   domain.NotifyDigest,
		Title:  fmt.Sprintf("Risk engine %s digest", period),
		Content: fmt.Sprintf("%d active alerts, %d review cases awaiting assignment.",
			len(alerts), len(cases)),
		Channel: "admin",
		Status:  domain.NotificationPending,
		Metadata: map[string]string{
			"period": period,
		},
		CreatedAt: s.now().UTC(),
	}

	if err := s.deliver(ctx, n); err != nil {
		slog.Error("failed to send digest", "period", period, "error", err)
		return
	}
	slog.Info("digest sent", "period", period, "alerts", len(alerts), "open_cases", len(cases))
}

func (s *Scheduler) cleanup(ctx context.Context, now time.Time) {
	deleted, err := s.store.DeleteExpiredNotifications(ctx, now.Add(-s.retention))
	if err != nil {
		slog.Error("notification cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("expired notifications deleted", "count", deleted)
	}
}

// remindExpiringInvites enqueues one reminder per soon-to-expire invite
// code. The reminder itself goes out with the next dispatch.
func (s *Scheduler) remindExpiringInvites(ctx context.Context, now time.Time) {
	codes, err := s.store.ExpiringInviteCodes(ctx, now.Add(s.inviteReminderLead))
	if err != nil {
		slog.Error("failed to load expiring invite codes", "error", err)
		return
	}

	for _, code := range codes {
		n := &domain.Notification{
			ID:     uuid.New().String(),
			UserID: code.OwnerID,
			Type:   domain.NotifyInviteExpiring,
			Title:  "Your invite code is about to expire",
			Content: fmt.Sprintf("Invite code %s expires at %s.",
				code.Code, code.ExpiresAt.Format(time.RFC3339)),
			Channel: "email",
			Status:  domain.NotificationPending,
			Metadata: map[string]string{
				"invite_code": code.Code,
			},
			CreatedAt: now,
		}

		if err := s.store.EnqueueNotification(ctx, n); err != nil {
			slog.Error("failed to enqueue invite reminder", "code", code.Code, "error", err)
			continue
		}
		if err := s.store.MarkInviteReminded(ctx, code.Code, now); err != nil {
			slog.Error("failed to mark invite reminded", "code", code.Code, "error", err)
		}
	}

	if len(codes) > 0 {
		slog.Info("invite expiry reminders enqueued", "count", len(codes))
	}
}
