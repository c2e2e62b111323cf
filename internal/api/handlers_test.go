package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/oneiroscope/oneiro-engine/internal/config"
	"github.com/oneiroscope/oneiro-engine/internal/extractors"
	"github.com/oneiroscope/oneiro-engine/internal/knowledge"
	"github.com/oneiroscope/oneiro-engine/internal/models"
	"github.com/oneiroscope/oneiro-engine/internal/ratelimit"
	"github.com/oneiroscope/oneiro-engine/internal/services"
)

type stubPipeline struct {
	result models.AnalysisResult
	err    error
}

func (s *stubPipeline) Process(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	if s.err != nil {
		return models.AnalysisResult{}, s.err
	}
	return s.result, nil
}

type stubQuotaReader struct {
	quota ratelimit.Quota
}

func (s *stubQuotaReader) Peek(clientID string) ratelimit.Quota { return s.quota }

type stubPatternRepo struct {
	patterns []models.SymbolPattern
}

func (s *stubPatternRepo) FetchPatterns(ctx context.Context, archetype string) ([]models.SymbolPattern, error) {
	return s.patterns, nil
}

func interpretedResult() models.AnalysisResult {
	return models.AnalysisResult{
		RequestID:      "req-1",
		Locale:         "en",
		Interpretation: "The sea suggests emotions in motion.",
		Mood:           models.MoodNeutral,
		Confidence:     0.72,
		Symbols: []models.ValidatedSymbol{
			{SymbolID: "water", Archetype: "unconscious", Confidence: 0.72},
		},
		ModelUsed: "gpt-4o-mini",
		Attempts: []models.ProviderAttempt{
			{Provider: "groq", Outcome: models.AttemptTransportFailure, Reason: "connection refused"},
			{Provider: "openai", Outcome: models.AttemptSuccess, Latency: 800 * time.Millisecond, Tokens: 101},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func newTestServer(t *testing.T, deps services.Deps) *Server {
	t.Helper()
	service, err := services.NewInterpretService(deps)
	if err != nil {
		t.Fatalf("service construction failed: %v", err)
	}
	server, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0"}, service)
	if err != nil {
		t.Fatalf("server construction failed: %v", err)
	}
	t.Cleanup(func() { _ = server.listener.Close() })
	return server
}

func doRequest(t *testing.T, server *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestInterpretEndpointReturnsResult(t *testing.T) {
	server := newTestServer(t, services.Deps{
		Pipeline: &stubPipeline{result: interpretedResult()},
		Quota:    &stubQuotaReader{quota: ratelimit.Quota{Limit: 10, Remaining: 9, ResetAt: time.Now().Add(time.Hour)}},
	})

	body := strings.NewReader(`{"text":"I was swimming in the sea.","client_id":"alice"}`)
	w := doRequest(t, server, http.MethodPost, "/api/v1/interpretations", body)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	var res wireResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.RequestID != "req-1" || res.ModelUsed != "gpt-4o-mini" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Attempts) != 2 || res.Attempts[1].Outcome != "success" {
		t.Fatalf("attempt log lost on the wire: %+v", res.Attempts)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("unexpected limit header: %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Fatalf("unexpected remaining header: %q", got)
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("reset header missing")
	}
}

func TestInterpretEndpointRejectsMissingText(t *testing.T) {
	server := newTestServer(t, services.Deps{Pipeline: &stubPipeline{result: interpretedResult()}})

	w := doRequest(t, server, http.MethodPost, "/api/v1/interpretations", strings.NewReader(`{"client_id":"alice"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") {
		t.Fatalf("expected error body, got %s", w.Body.String())
	}
}

func TestInterpretEndpointRateLimited(t *testing.T) {
	denied := &ratelimit.DeniedError{Scope: ratelimit.ScopeClient, Limit: 10, ResetAt: time.Now().Add(30 * time.Minute)}
	server := newTestServer(t, services.Deps{Pipeline: &stubPipeline{err: denied}})

	body := strings.NewReader(`{"text":"I was falling.","client_id":"alice"}`)
	w := doRequest(t, server, http.MethodPost, "/api/v1/interpretations", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", w.Code)
	}

	var resp struct {
		Denied            bool   `json:"denied"`
		Scope             string `json:"scope"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Denied || resp.Scope != ratelimit.ScopeClient {
		t.Fatalf("unexpected denial body: %+v", resp)
	}
	if resp.RetryAfterSeconds < 1 {
		t.Fatalf("retry_after_seconds should be positive: %d", resp.RetryAfterSeconds)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestPreviewEndpointExtractsSymbols(t *testing.T) {
	base, err := knowledge.Default()
	if err != nil {
		t.Fatalf("default knowledge failed: %v", err)
	}
	matcher, err := extractors.NewMatcher(base, nil)
	if err != nil {
		t.Fatalf("matcher construction failed: %v", err)
	}
	validator, err := extractors.NewValidator(base, nil)
	if err != nil {
		t.Fatalf("validator construction failed: %v", err)
	}
	server := newTestServer(t, services.Deps{
		Pipeline:  &stubPipeline{},
		Matcher:   matcher,
		Validator: validator,
	})

	query := url.Values{"text": {"I was swimming in the deep sea."}}
	w := doRequest(t, server, http.MethodGet, "/api/v1/symbols/preview?"+query.Encode(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	var preview wirePreview
	if err := json.Unmarshal(w.Body.Bytes(), &preview); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if preview.Locale != "en" {
		t.Fatalf("unexpected locale: %s", preview.Locale)
	}
	found := false
	for _, s := range preview.Symbols {
		if s.SymbolID == "water" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected water symbol, got %+v", preview.Symbols)
	}
}

func TestPreviewEndpointRequiresText(t *testing.T) {
	server := newTestServer(t, services.Deps{Pipeline: &stubPipeline{}})

	w := doRequest(t, server, http.MethodGet, "/api/v1/symbols/preview", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestPatternsEndpointReturnsStored(t *testing.T) {
	server := newTestServer(t, services.Deps{
		Pipeline: &stubPipeline{},
		PatternRepo: &stubPatternRepo{patterns: []models.SymbolPattern{
			{ID: "pattern-shadow", Archetype: "shadow", TopSymbols: []string{"pursuit"}, Prevalence: 0.4},
		}},
	})

	w := doRequest(t, server, http.MethodGet, "/api/v1/insights/patterns?archetype=shadow", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}

	var resp struct {
		Patterns []wirePattern `json:"patterns"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Patterns) != 1 || resp.Patterns[0].ID != "pattern-shadow" {
		t.Fatalf("unexpected patterns: %+v", resp.Patterns)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, services.Deps{
		Pipeline:  &stubPipeline{},
		Providers: []models.ProviderDescriptor{{ID: "groq", Available: true}},
	})

	w := doRequest(t, server, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}

	var report struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Status != "SERVING" {
		t.Fatalf("unexpected status field: %s", report.Status)
	}
	if len(report.Providers) != 1 || report.Providers[0] != "groq" {
		t.Fatalf("unexpected providers: %v", report.Providers)
	}
}
