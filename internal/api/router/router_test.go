package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wolfman30/care-coordinator-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/care-coordinator-ai/internal/http/middleware"
	"github.com/wolfman30/care-coordinator-ai/internal/observability/metrics"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

type scriptedLLM struct {
	reply string
}

func (s scriptedLLM) Complete(context.Context, conversation.LLMRequest) (conversation.LLMResponse, error) {
	return conversation.LLMResponse{Text: s.reply, Usage: conversation.TokenUsage{TotalTokens: 12}}, nil
}

type routerFixture struct {
	handler http.Handler
	cache   *patient.MemoryCache
}

func newTestRouter(t *testing.T, mutate func(*Config)) *routerFixture {
	t.Helper()

	logger := logging.NewWithWriter("error", "json", &bytes.Buffer{})
	reg := prometheus.NewRegistry()
	m := metrics.NewCoordinatorMetrics(reg)

	cache := patient.NewMemoryCache(patient.DefaultExpiry)
	resolver := patient.NewResolver(cache, patient.NewSampleDirectory(), logger, m)
	dispatcher := conversation.NewDispatcher(scriptedLLM{reply: `Booked. FORM_UPDATE: {"doctor": "House, Gregory"}`}, conversation.DispatcherConfig{Model: "gpt-4o-mini"}, logger, m)
	coordinator := conversation.NewCoordinator(resolver, nil, dispatcher, conversation.NewFormExtractor(logger, m), logger)

	cfg := &Config{
		Logger: logger,
		ConversationHandler: conversation.NewHandler(coordinator, conversation.HealthInfo{
			PatientAPI:    "http://localhost:5000",
			AIInitialized: true,
			Cache:         cache,
			CacheExpiry:   patient.DefaultExpiry,
		}, logger),
		CacheHandler:       patient.NewCacheHandler(cache, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"*"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	return &routerFixture{handler: New(cfg), cache: cache}
}

func (f *routerFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	f := newTestRouter(t, nil)

	rr := f.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", resp["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected request id header")
	}
}

func TestRouterChatFlowPopulatesCacheAndMetrics(t *testing.T) {
	f := newTestRouter(t, nil)

	rr := f.do(t, http.MethodPost, "/chat", `{"patient_id": 1, "message": "Book with House"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var resp struct {
		Response    string         `json:"response"`
		FormUpdates map[string]any `json:"form_updates"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	if resp.Response != "Booked." || resp.FormUpdates["doctor"] != "House, Gregory" {
		t.Fatalf("unexpected chat response %+v", resp)
	}

	rr = f.do(t, http.MethodGet, "/cache/stats", "", nil)
	var stats patient.CacheStats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEntries != 1 || stats.Entries["patient_1"].PatientName != "John Doe" {
		t.Fatalf("expected cached John Doe, got %+v", stats)
	}

	rr = f.do(t, http.MethodGet, "/metrics", "", nil)
	if !bytes.Contains(rr.Body.Bytes(), []byte(`care_conversation_form_extractions_total{status="parsed",strategy="marker"} 1`)) {
		t.Fatalf("expected form extraction metric, got:\n%s", rr.Body.String())
	}
}

func TestRouterCacheClearScenario(t *testing.T) {
	f := newTestRouter(t, nil)
	for _, id := range []string{"1", "2", "3"} {
		if err := f.cache.Put(context.Background(), id, &patient.Record{ID: patient.FlexibleID(id)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	rr := f.do(t, http.MethodPost, "/cache/clear", "", nil)
	var cleared map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&cleared); err != nil {
		t.Fatalf("decode clear: %v", err)
	}
	if cleared["entries_cleared"] != 3.0 {
		t.Fatalf("expected 3 entries cleared, got %v", cleared["entries_cleared"])
	}

	rr = f.do(t, http.MethodGet, "/cache/stats", "", nil)
	var stats patient.CacheStats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Fatalf("expected empty cache, got %d entries", stats.TotalEntries)
	}
}

func TestRouterCacheRoutesRequireTokenWhenSecretSet(t *testing.T) {
	f := newTestRouter(t, func(cfg *Config) { cfg.AdminAuthSecret = "admin-secret" })

	if rr := f.do(t, http.MethodGet, "/cache/stats", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("admin-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rr := f.do(t, http.MethodGet, "/cache/stats", "", map[string]string{"Authorization": "Bearer " + signed})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	if rr := f.do(t, http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rr.Code)
	}
}

func TestRouterChatRateLimit(t *testing.T) {
	limiter := httpmiddleware.NewRateLimiter(0.001, 1)
	t.Cleanup(limiter.Close)
	f := newTestRouter(t, func(cfg *Config) { cfg.ChatRateLimiter = limiter })

	body := `{"patient_id": "1", "message": "hi"}`
	if rr := f.do(t, http.MethodPost, "/chat", body, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected first chat to pass, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/chat", body, nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/cache/stats", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("rate limit must not apply to cache routes, got %d", rr.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	f := newTestRouter(t, nil)

	rr := f.do(t, http.MethodOptions, "/chat", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("expected echoed origin, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
