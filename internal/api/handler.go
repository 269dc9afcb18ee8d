package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/assess"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/review"
	"github.com/opensource-finance/harrier/internal/store"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store    domain.Store
	engine   *assess.Engine
	alerts   *alert.Manager
	reviews  *review.Manager
	enforcer *enforcement.Service
	rules    *detector.CELRules
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(st domain.Store, engine *assess.Engine, alerts *alert.Manager, reviews *review.Manager, enforcer *enforcement.Service, rules *detector.CELRules, version string) *Handler {
	return &Handler{
		store:    st,
		engine:   engine,
		alerts:   alerts,
		reviews:  reviews,
		enforcer: enforcer,
		rules:    rules,
		version:  version,
	}
}

// RegistrationRequest is the request body for POST /assess/registration.
type RegistrationRequest struct {
	UserID      string                    `json:"userId,omitempty"`
	IP          string                    `json:"ip"`
	UserAgent   string                    `json:"userAgent"`
	Email       string                    `json:"email"`
	InviteCode  string                    `json:"inviteCode,omitempty"`
	InviterID   string                    `json:"inviterId,omitempty"`
	Fingerprint *domain.DeviceFingerprint `json:"fingerprint,omitempty"`
}

// InvitationRequest is the request body for POST /assess/invitation.
type InvitationRequest struct {
	InviterID    string `json:"inviterId"`
	InviteeEmail string `json:"inviteeEmail"`
	IP           string `json:"ip"`
}

// DecisionResponse is the response for both assessment endpoints.
type DecisionResponse struct {
	Decision *domain.Decision `json:"decision"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// AssessRegistration handles POST /assess/registration. Responds 202
// when the assessment opened a review case, 200 otherwise.
func (h *Handler) AssessRegistration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "email is required",
		})
		return
	}
	if req.IP == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ip is required",
		})
		return
	}

	attempt := &domain.RegistrationAttempt{
		UserID:     req.UserID,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		Email:      req.Email,
		InviteCode: req.InviteCode,
		Timestamp:  time.Now().UTC(),
	}
	if req.Fingerprint != nil {
		attempt.Fingerprint = req.Fingerprint
		attempt.FingerprintHash = req.Fingerprint.Hash()
	}

	decision, err := h.engine.AssessRegistration(ctx, attempt, req.InviterID)
	if err != nil {
		slog.Error("registration assessment failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "assessment failed",
		})
		return
	}

	h.writeDecision(w, r, decision, start)
}

// AssessInvitation handles POST /assess/invitation.
func (h *Handler) AssessInvitation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req InvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.InviterID == "" || req.InviteeEmail == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "inviterId and inviteeEmail are required",
		})
		return
	}

	decision, err := h.engine.AssessInvitation(ctx, req.InviterID, req.InviteeEmail, req.IP)
	if err != nil {
		slog.Error("invitation assessment failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "assessment failed",
		})
		return
	}

	h.writeDecision(w, r, decision, start)
}

func (h *Handler) writeDecision(w http.ResponseWriter, r *http.Request, decision *domain.Decision, start time.Time) {
	resp := DecisionResponse{Decision: decision}
	resp.Metadata.TraceID = GetTraceID(r.Context())
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	status := http.StatusOK
	if decision.ReviewCaseID != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// ListAlerts handles GET /alerts?severity=&limit=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	severity := domain.Severity(r.URL.Query().Get("severity"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	alerts, err := h.alerts.ActiveAlerts(r.Context(), severity, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req struct {
		ResolvedBy string `json:"resolvedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resolved, err := h.alerts.Resolve(r.Context(), alertID, req.ResolvedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alertId":  alertID,
		"resolved": resolved,
	})
}

// ListCases handles GET /cases?status=&assignedTo=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	status := domain.CaseStatus(r.URL.Query().Get("status"))
	assignedTo := r.URL.Query().Get("assignedTo")

	cases, err := h.reviews.List(r.Context(), status, assignedTo)
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list cases",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.reviews.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AssignCase handles POST /cases/{id}/assign.
func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID string `json:"reviewerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.reviews.Assign(r.Context(), chi.URLParam(r, "id"), req.ReviewerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// EscalateCase handles POST /cases/{id}/escalate.
func (h *Handler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.reviews.Escalate(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DecideCase handles POST /cases/{id}/decision.
func (h *Handler) DecideCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action        domain.ReviewAction `json:"action"`
		Reason        string              `json:"reason"`
		ReviewerID    string              `json:"reviewerId"`
		Notes         string              `json:"notes,omitempty"`
		RecoverAmount float64             `json:"recoverAmount,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.reviews.Decide(r.Context(), chi.URLParam(r, "id"), &review.DecisionRequest{
		Decision: domain.ReviewDecision{
			Action:     req.Action,
			Reason:     req.Reason,
			ReviewerID: req.ReviewerID,
			Notes:      req.Notes,
		},
		RecoverAmount: req.RecoverAmount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AccountStatus handles GET /accounts/{id}/status.
func (h *Handler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.enforcer.AccountStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListActivities handles GET /accounts/{id}/activities?limit=.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	activities, err := h.store.ListSuspiciousActivities(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		slog.Error("failed to list activities", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list activities",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"activities": activities,
		"count":      len(activities),
	})
}

// RulesInfo handles GET /rules.
func (h *Handler) RulesInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count": h.rules.RulesCount(),
	})
}

// CreateRule handles POST /rules. The rule is compiled before it is
// accepted; a compile error is the caller's problem.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule detector.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	rule.Enabled = true

	if err := h.rules.LoadRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("custom rule loaded", "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id": rule.ID,
	})
}

// ReloadRules handles POST /rules/reload with a full rule set.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	var rules []*detector.Rule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.rules.ReloadRules(rules); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("custom rules reloaded", "count", h.rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"count": h.rules.RulesCount(),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready. Ready means the store answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// writeError maps domain errors to HTTP statuses: missing records are
// 404, invalid workflow transitions are 409.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	} else if errors.Is(err, store.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
