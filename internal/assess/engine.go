// Package assess runs the full risk assessment pipeline for one attempt:
// concurrent detector fan-out, behavior analysis, aggregation, audit, and
// the downstream alert/review side effects.
package assess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/behavior"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/review"
	"github.com/opensource-finance/harrier/internal/store"
)

// Alert rules owned by the assessment pipeline. Operator-facing rules
// (CEL) are separate; these cover the engine's own anomaly classes.
var (
	ruleNetworkAbuse = &domain.AlertRule{
		ID:      "network-abuse",
		Name:    "high-risk registration pattern",
		Actions: []domain.AlertAction{domain.AlertActionLog, domain.AlertActionNotifyAdmin, domain.AlertActionWebhook},
		Enabled: true,
	}
	ruleVelocitySpike = &domain.AlertRule{
		ID:      "behavior-velocity-spike",
		Name:    "behavior velocity spike",
		Actions: []domain.AlertAction{domain.AlertActionLog, domain.AlertActionNotifyAdmin},
		Enabled: true,
	}
	rulePatternDeviation = &domain.AlertRule{
		ID:      "behavior-pattern-deviation",
		Name:    "behavior pattern deviation",
		Actions: []domain.AlertAction{domain.AlertActionLog, domain.AlertActionNotifyAdmin},
		Enabled: true,
	}
)

// Engine aggregates detector and analyzer verdicts into one decision.
type Engine struct {
	store     domain.SignalStore
	detectors []detector.Detector
	analyzer  *behavior.Analyzer
	alerts    *alert.Manager
	reviews   *review.Manager
	bus       domain.EventBus

	timeout time.Duration
	now     func() time.Time
}

// NewEngine creates an assessment engine.
func NewEngine(st domain.SignalStore, detectors []detector.Detector, analyzer *behavior.Analyzer, alerts *alert.Manager, reviews *review.Manager, eventBus domain.EventBus, cfg domain.DetectorConfig) *Engine {
	timeout := cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Engine{
		store:     st,
		detectors: detectors,
		analyzer:  analyzer,
		alerts:    alerts,
		reviews:   reviews,
		bus:       eventBus,
		timeout:   timeout,
		now:       time.Now,
	}
}

// AssessRegistration scores one registration attempt. inviterID is empty
// for direct registrations. An unknown inviter yields a blocked decision,
// not an error.
func (e *Engine) AssessRegistration(ctx context.Context, attempt *domain.RegistrationAttempt, inviterID string) (*domain.Decision, error) {
	if attempt == nil {
		return nil, fmt.Errorf("attempt is required")
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = e.now().UTC()
	}

	var inviter *domain.User
	if inviterID != "" {
		user, err := e.store.GetUser(ctx, inviterID)
		switch {
		case err == nil:
			inviter = user
		case errors.Is(err, store.ErrNotFound):
			return e.blockedDecision(ctx, attempt, fmt.Sprintf("unknown inviter %s", inviterID)), nil
		default:
			// Treat a store outage like any detector failure: fail open
			// and assess without inviter context.
			slog.Error("failed to load inviter, assessing without inviter context",
				"inviter_id", inviterID,
				"error", err,
			)
		}
	}

	// Record before counting so frequency detectors see this attempt.
	if err := e.store.RecordAttempt(ctx, attempt); err != nil {
		slog.Error("failed to record attempt", "attempt_id", attempt.ID, "error", err)
	}

	return e.assess(ctx, &detector.AttemptContext{Attempt: attempt, Inviter: inviter})
}

// AssessInvitation pre-checks an invitation before the invitee registers.
func (e *Engine) AssessInvitation(ctx context.Context, inviterID, inviteeEmail, ip string) (*domain.Decision, error) {
	if inviterID == "" || inviteeEmail == "" {
		return nil, fmt.Errorf("inviterID and inviteeEmail are required")
	}

	attempt := &domain.RegistrationAttempt{
		ID:        uuid.New().String(),
		IP:        ip,
		Email:     inviteeEmail,
		Timestamp: e.now().UTC(),
	}

	inviter, err := e.store.GetUser(ctx, inviterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.blockedDecision(ctx, attempt, fmt.Sprintf("unknown inviter %s", inviterID)), nil
		}
		return nil, fmt.Errorf("failed to load inviter: %w", err)
	}

	return e.assess(ctx, &detector.AttemptContext{Attempt: attempt, Inviter: inviter})
}

func (e *Engine) assess(ctx context.Context, in *detector.AttemptContext) (*domain.Decision, error) {
	results := e.runDetectors(ctx, in)

	if behaviorResult := e.analyzeBehavior(ctx, in); behaviorResult != nil {
		results = append(results, *behaviorResult)
	}

	decision := e.aggregate(in, results)

	e.audit(ctx, in, decision)
	e.publishDecision(ctx, decision)

	return decision, nil
}

// runDetectors fans the detectors out concurrently, each under its own
// timeout. A detector that cannot finish degrades to the fail-open
// result instead of failing the aggregate.
func (e *Engine) runDetectors(ctx context.Context, in *detector.AttemptContext) []domain.DetectorResult {
	results := make([]domain.DetectorResult, len(e.detectors))

	type indexed struct {
		idx    int
		result domain.DetectorResult
	}
	done := make(chan indexed, len(e.detectors))

	for i, d := range e.detectors {
		go func(idx int, d detector.Detector) {
			dctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			ch := make(chan domain.DetectorResult, 1)
			go func() { ch <- d.Check(dctx, in) }()

			select {
			case result := <-ch:
				done <- indexed{idx, result}
			case <-dctx.Done():
				slog.Warn("detector timed out", "detector", d.Name())
				done <- indexed{idx, domain.Unavailable(d.Name())}
			}
		}(i, d)
	}

	for range e.detectors {
		r := <-done
		results[r.idx] = r.result
	}

	return results
}

// analyzeBehavior records an invite-activity sample for the inviter and
// folds the resulting anomalies into a detector-shaped result. Raised
// anomalies also go through the alert manager. Direct registrations have
// no behavior subject and produce no result.
func (e *Engine) analyzeBehavior(ctx context.Context, in *detector.AttemptContext) *domain.DetectorResult {
	if e.analyzer == nil || in.Inviter == nil {
		return nil
	}

	_, anomalies, err := e.analyzer.Record(ctx, in.Inviter.ID, "invite", in.Attempt.IP, in.Attempt.UserAgent, in.Attempt.Timestamp)
	if err != nil {
		slog.Error("behavior analysis failed, degrading to fail-open result",
			"user_id", in.Inviter.ID,
			"error", err,
		)
		result := domain.Unavailable("behavior_analysis")
		return &result
	}

	result := domain.DetectorResult{
		Detector:  "behavior_analysis",
		IsValid:   true,
		RiskLevel: domain.RiskLow,
	}

	for _, anomaly := range anomalies {
		e.triggerBehaviorAlert(ctx, anomaly)

		result.Reasons = append(result.Reasons, anomaly.Description)
		// Critical anomalies carry high risk into the aggregate; high
		// anomalies count as one corroborating medium signal.
		if anomaly.Severity == domain.SeverityCritical {
			result.RiskLevel = domain.RiskHigh
		} else if result.RiskLevel != domain.RiskHigh {
			result.RiskLevel = domain.RiskMedium
		}
	}

	if result.RiskLevel != domain.RiskLow {
		result.Actions = append(result.Actions, domain.ActionMonitor)
	}

	return &result
}

func (e *Engine) triggerBehaviorAlert(ctx context.Context, anomaly *domain.AnomalyAlert) {
	if e.alerts == nil {
		return
	}

	rule := ruleVelocitySpike
	if anomaly.AlertType == domain.AlertPatternDeviation {
		rule = rulePatternDeviation
	}

	if _, _, err := e.alerts.Trigger(ctx, rule, anomaly); err != nil {
		slog.Error("failed to trigger behavior alert",
			"type", anomaly.AlertType,
			"user_id", anomaly.UserID,
			"error", err,
		)
	}
}

// aggregate folds all results into the final decision. Any invalid or
// high result blocks; two medium signals corroborate and block; one
// medium signal monitors; otherwise the attempt passes.
func (e *Engine) aggregate(in *detector.AttemptContext, results []domain.DetectorResult) *domain.Decision {
	decision := &domain.Decision{
		ID:         uuid.New().String(),
		UserID:     e.subjectID(in),
		Results:    results,
		AssessedAt: e.now().UTC(),
	}

	var invalid, high bool
	var medium int

	for _, r := range results {
		decision.Reasons = append(decision.Reasons, r.Reasons...)
		for _, action := range r.Actions {
			decision.Actions = appendUnique(decision.Actions, action)
		}

		if !r.IsValid {
			invalid = true
		}
		switch r.RiskLevel {
		case domain.RiskHigh:
			high = true
		case domain.RiskMedium:
			medium++
		}
	}

	switch {
	case invalid || high:
		decision.Outcome = domain.OutcomeBlock
		decision.RiskLevel = domain.RiskHigh
	case medium >= 2:
		// Independent medium signals corroborate each other.
		decision.Outcome = domain.OutcomeBlock
		decision.RiskLevel = domain.RiskHigh
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("%d independent medium-risk signals", medium))
	case medium == 1:
		decision.Outcome = domain.OutcomeMonitor
		decision.RiskLevel = domain.RiskMedium
	default:
		decision.Outcome = domain.OutcomeAllow
		decision.RiskLevel = domain.RiskLow
	}

	return decision
}

// audit persists the suspicious-activity trail and opens the downstream
// alert and review case for blocked attempts. Writes run under a
// detached context so a client disconnect cannot lose the audit record.
func (e *Engine) audit(ctx context.Context, in *detector.AttemptContext, decision *domain.Decision) {
	if decision.RiskLevel == domain.RiskLow {
		return
	}

	auditCtx := context.WithoutCancel(ctx)

	entry := &domain.SuspiciousActivity{
		ID:          uuid.New().String(),
		UserID:      decision.UserID,
		IP:          in.Attempt.IP,
		Type:        "registration_risk",
		Description: fmt.Sprintf("attempt assessed %s/%s", decision.Outcome, decision.RiskLevel),
		Severity:    severityForRisk(decision.RiskLevel),
		Results:     decision.Results,
		Timestamp:   e.now().UTC(),
	}
	if err := e.store.RecordSuspiciousActivity(auditCtx, entry); err != nil {
		slog.Error("failed to record suspicious activity",
			"decision_id", decision.ID,
			"error", err,
		)
	}

	if decision.RiskLevel != domain.RiskHigh {
		return
	}

	if e.alerts != nil {
		draft := &domain.AnomalyAlert{
			UserID:      decision.UserID,
			AlertType:   domain.AlertNetworkAbuse,
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("high-risk registration from %s: %v", in.Attempt.IP, decision.Reasons),
			Status:      domain.AlertPending,
			CreatedAt:   e.now().UTC(),
		}
		if _, _, err := e.alerts.Trigger(auditCtx, ruleNetworkAbuse, draft); err != nil {
			slog.Error("failed to raise network abuse alert", "decision_id", decision.ID, "error", err)
		}
	}

	if e.reviews != nil && decision.UserID != "" {
		evidence, _ := json.Marshal(decision.Results)
		c, err := e.reviews.Create(auditCtx, decision.UserID, "referral_abuse", decision.RiskLevel, []domain.CaseEvidence{{
			Kind:    "detector_results",
			Summary: fmt.Sprintf("blocked attempt %s", in.Attempt.ID),
			Data:    evidence,
			AddedAt: e.now().UTC(),
		}})
		if err != nil {
			slog.Error("failed to open review case", "decision_id", decision.ID, "error", err)
		} else {
			decision.ReviewCaseID = c.ID
			decision.Actions = appendUnique(decision.Actions, domain.ActionManualReview)
		}
	}
}

// blockedDecision is the explicit verdict for programmer-error class
// inputs such as an unknown inviter.
func (e *Engine) blockedDecision(ctx context.Context, attempt *domain.RegistrationAttempt, reason string) *domain.Decision {
	decision := &domain.Decision{
		ID:         uuid.New().String(),
		Outcome:    domain.OutcomeBlock,
		RiskLevel:  domain.RiskHigh,
		Reasons:    []string{reason},
		Actions:    []string{domain.ActionBlockRegistration},
		AssessedAt: e.now().UTC(),
	}

	auditCtx := context.WithoutCancel(ctx)
	entry := &domain.SuspiciousActivity{
		ID:          uuid.New().String(),
		IP:          attempt.IP,
		Type:        "invalid_invitation",
		Description: reason,
		Severity:    domain.SeverityMedium,
		Timestamp:   e.now().UTC(),
	}
	if err := e.store.RecordSuspiciousActivity(auditCtx, entry); err != nil {
		slog.Error("failed to record suspicious activity", "error", err)
	}

	e.publishDecision(ctx, decision)
	return decision
}

func (e *Engine) publishDecision(ctx context.Context, decision *domain.Decision) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(decision)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicAttemptAssessed, payload); err != nil {
		slog.Warn("failed to publish decision", "decision_id", decision.ID, "error", err)
	}
}

// subjectID picks the user the decision is about: the registrant when
// known, otherwise the inviter.
func (e *Engine) subjectID(in *detector.AttemptContext) string {
	if in.Attempt.UserID != "" {
		return in.Attempt.UserID
	}
	if in.Inviter != nil {
		return in.Inviter.ID
	}
	return ""
}

func severityForRisk(level domain.RiskLevel) domain.Severity {
	switch level {
	case domain.RiskHigh:
		return domain.SeverityHigh
	case domain.RiskMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func appendUnique(actions []string, action string) []string {
	for _, a := range actions {
		if a == action {
			return actions
		}
	}
	return append(actions, action)
}
