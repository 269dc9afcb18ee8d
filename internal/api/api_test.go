package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/assess"
	"github.com/opensource-finance/harrier/internal/behavior"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/notify"
	"github.com/opensource-finance/harrier/internal/review"
	"github.com/opensource-finance/harrier/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.SQLStore) {
	t.Helper()

	s, err := store.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	cfg := domain.DetectorConfig{
		IPFrequencyLimit:  5,
		IPWindow:          time.Hour,
		DeviceReuseLimit:  3,
		EmailEditDistance: 2,
		BatchWindow:       300 * time.Second,
		BatchThreshold:    3,
		DetectorTimeout:   2 * time.Second,
	}

	rules, err := detector.NewCELRules()
	if err != nil {
		t.Fatalf("failed to create rule detector: %v", err)
	}

	detectors := []detector.Detector{
		detector.NewIPFrequency(s, cfg),
		detector.NewFingerprintReuse(s, cfg),
		detector.NewSelfInvitation(cfg),
		detector.NewBatchPattern(s, cfg),
		rules,
	}

	alerts := alert.NewManager(s, cache.NewLRUCache(100), b, notify.NewLogNotifier(), domain.AlertConfig{CooldownMinutes: 30})
	enforcer := enforcement.NewService(s, b)
	reviews := review.NewManager(s, enforcer, b)
	analyzer := behavior.NewAnalyzer(s, domain.BehaviorConfig{
		VelocityThreshold:  10,
		VelocityWindow:     24 * time.Hour,
		MinVelocitySamples: 5,
		DeviationThreshold: 2.0,
		CriticalDeviation:  3.0,
		HistoryLimit:       100,
		DefaultScore:       0.5,
	})
	engine := assess.NewEngine(s, detectors, analyzer, alerts, reviews, b, cfg)

	server := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, s, engine, alerts, reviews, enforcer, rules, "test")
	return server, s
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health returned %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["version"] != "test" {
		t.Errorf("unexpected health body: %v", body)
	}

	rec = doJSON(t, server, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready returned %d", rec.Code)
	}
}

func TestAssessRegistrationEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("CleanAttemptAllows", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/assess/registration", RegistrationRequest{
			IP:        "198.51.100.10",
			UserAgent: "Mozilla/5.0",
			Email:     "alice@example.test",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[DecisionResponse](t, rec)
		if resp.Decision.Outcome != domain.OutcomeAllow {
			t.Errorf("expected allow, got %s", resp.Decision.Outcome)
		}
	})

	t.Run("MissingEmail", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/assess/registration", RegistrationRequest{
			IP: "198.51.100.10",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("BadJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/assess/registration", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRepeatedRegistrationsBlocked(t *testing.T) {
	server, _ := newTestServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = doJSON(t, server, http.MethodPost, "/assess/registration", RegistrationRequest{
			IP:        "203.0.113.50",
			UserAgent: "curl/8.0",
			Email:     fmt.Sprintf("bot%d@burner.test", i),
		})
	}

	resp := decode[DecisionResponse](t, last)
	if resp.Decision.Outcome != domain.OutcomeBlock || resp.Decision.RiskLevel != domain.RiskHigh {
		t.Errorf("expected block/high on fifth registration, got %s/%s",
			resp.Decision.Outcome, resp.Decision.RiskLevel)
	}
}

func TestInvitationReviewFlow(t *testing.T) {
	server, s := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if err := s.SaveUser(ctx, &domain.User{
		ID:             "inviter-1",
		Email:          "mallory@corp.test",
		RegistrationIP: "10.0.0.9",
		RiskLevel:      domain.RiskLow,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	// Self-invitation: blocked, and the 202 signals an opened case.
	rec := doJSON(t, server, http.MethodPost, "/assess/invitation", InvitationRequest{
		InviterID:    "inviter-1",
		InviteeEmail: "mallory@corp.test",
		IP:           "203.0.113.60",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[DecisionResponse](t, rec)
	if resp.Decision.ReviewCaseID == "" {
		t.Fatal("expected a review case ID on the decision")
	}
	caseID := resp.Decision.ReviewCaseID

	t.Run("ListCases", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/cases?status=pending", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decode[map[string]json.RawMessage](t, rec)
		var cases []*domain.ReviewCase
		if err := json.Unmarshal(body["cases"], &cases); err != nil {
			t.Fatalf("failed to decode cases: %v", err)
		}
		if len(cases) != 1 || cases[0].ID != caseID {
			t.Errorf("expected the opened case, got %+v", cases)
		}
	})

	t.Run("AssignAndDecide", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/cases/"+caseID+"/assign", map[string]string{
			"reviewerId": "reviewer-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("assign returned %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, server, http.MethodPost, "/cases/"+caseID+"/decision", map[string]any{
			"action":     "freeze",
			"reason":     "self-invitation confirmed",
			"reviewerId": "reviewer-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("decision returned %d: %s", rec.Code, rec.Body.String())
		}
		decided := decode[domain.ReviewCase](t, rec)
		if decided.Status != domain.CaseRejected {
			t.Errorf("expected rejected, got %s", decided.Status)
		}
	})

	t.Run("AccountStatusFrozen", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/accounts/inviter-1/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status returned %d", rec.Code)
		}
		status := decode[domain.AccountStatus](t, rec)
		if !status.IsFrozen {
			t.Errorf("expected frozen account, got %+v", status)
		}
	})

	t.Run("Activities", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/accounts/inviter-1/activities", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("activities returned %d", rec.Code)
		}
		body := decode[map[string]json.RawMessage](t, rec)
		var count int
		if err := json.Unmarshal(body["count"], &count); err != nil || count == 0 {
			t.Errorf("expected recorded activities, got %s", rec.Body.String())
		}
	})
}

func TestUnknownInviterEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/assess/invitation", InvitationRequest{
		InviterID:    "ghost",
		InviteeEmail: "x@example.test",
		IP:           "203.0.113.61",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 blocked decision, got %d", rec.Code)
	}
	resp := decode[DecisionResponse](t, rec)
	if resp.Decision.Outcome != domain.OutcomeBlock {
		t.Errorf("expected block, got %s", resp.Decision.Outcome)
	}
}

func TestCaseNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/cases/missing-case", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	server, s := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if err := s.SaveAlert(ctx, &domain.AnomalyAlert{
		ID:          "alert-1",
		UserID:      "user-1",
		AlertType:   domain.AlertVelocitySpike,
		Severity:    domain.SeverityHigh,
		Description: "velocity spike",
		Status:      domain.AlertPending,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveAlert failed: %v", err)
	}

	rec := doJSON(t, server, http.MethodGet, "/alerts?severity=high", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts returned %d", rec.Code)
	}
	body := decode[map[string]json.RawMessage](t, rec)
	var count int
	if err := json.Unmarshal(body["count"], &count); err != nil || count != 1 {
		t.Errorf("expected 1 alert, got %s", rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/alerts/alert-1/resolve", map[string]string{
		"resolvedBy": "admin",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/alerts/missing/resolve", map[string]string{
		"resolvedBy": "admin",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown alert, got %d", rec.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/rules", map[string]any{
		"id":         "burner-domains",
		"name":       "burner domain block",
		"expression": `email_domain == "burner.test"`,
		"bands": []map[string]any{
			{"lowerLimit": 1.0, "block": true, "reason": "burner email domain"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet, "/rules", nil)
	body := decode[map[string]int](t, rec)
	if body["count"] != 1 {
		t.Errorf("expected 1 loaded rule, got %d", body["count"])
	}

	// The loaded rule participates in assessment.
	assessRec := doJSON(t, server, http.MethodPost, "/assess/registration", RegistrationRequest{
		IP:        "198.51.100.20",
		UserAgent: "Mozilla/5.0",
		Email:     "bot@burner.test",
	})
	resp := decode[DecisionResponse](t, assessRec)
	if resp.Decision.Outcome != domain.OutcomeBlock {
		t.Errorf("expected custom rule to block, got %s", resp.Decision.Outcome)
	}

	t.Run("BadExpression", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/rules", map[string]any{
			"id":         "broken",
			"expression": `email_domain ==`,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for a broken expression, got %d", rec.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/rules/reload", []map[string]any{})
		if rec.Code != http.StatusOK {
			t.Fatalf("reload returned %d", rec.Code)
		}
		body := decode[map[string]int](t, rec)
		if body["count"] != 0 {
			t.Errorf("expected empty rule set after reload, got %d", body["count"])
		}
	})
}
