package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

func newTestHandler(t *testing.T, client *stubLLMClient) (*Handler, *coordinatorFixture) {
	t.Helper()
	f := newCoordinatorFixture(t, client, stubReference{text: "Hospital data"})
	h := NewHandler(f.coordinator, HealthInfo{
		PatientAPI:    "http://localhost:5000",
		AIInitialized: client != nil,
		Cache:         f.cache,
		CacheExpiry:   patient.DefaultExpiry,
	}, logging.New("error"))
	return h, f
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/chat", h.Chat)
	r.Post("/conversation/start", h.StartConversation)
	r.Get("/patient/{patientID}/summary", h.Summary)
	r.Get("/health", h.Health)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestHandler_ChatValidation(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{response: LLMResponse{Text: "ok"}})
	router := testRouter(h)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "No JSON data provided"},
		{"empty object", "{}", "No JSON data provided"},
		{"not json", "patient=1", "No JSON data provided"},
		{"missing message", `{"patient_id": "1"}`, "Message is required"},
		{"blank message", `{"patient_id": "1", "message": "   "}`, "Message is required"},
		{"missing patient", `{"message": "hello"}`, "Patient ID is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, router, http.MethodPost, "/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestHandler_ChatSuccess(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{
		Text:  `Booked. FORM_UPDATE: {"doctor": "House, Gregory", "appointment-type": "ESTABLISHED"}`,
		Usage: TokenUsage{TotalTokens: 77},
	}}
	h, _ := newTestHandler(t, client)

	rec, body := doJSON(t, testRouter(h), http.MethodPost, "/chat", `{
		"patient_id": 1,
		"message": "Book with House",
		"conversation_history": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Booked.", body["response"])
	assert.Equal(t, "1", body["patient_id"])
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, 77.0, body["tokens_used"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, map[string]any{"doctor": "House, Gregory", "appointment-type": "ESTABLISHED"}, body["form_updates"])
	assert.Len(t, client.lastReq.Messages, 4)
}

func TestHandler_ChatOmitsEmptyFormUpdates(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{response: LLMResponse{Text: "Plain answer"}})

	rec, body := doJSON(t, testRouter(h), http.MethodPost, "/chat", `{"patient_id": "1", "message": "hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	_, present := body["form_updates"]
	assert.False(t, present)
	assert.Nil(t, body["tokens_used"])
}

func TestHandler_ChatUnknownPatient(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{response: LLMResponse{Text: "ok"}})

	rec, body := doJSON(t, testRouter(h), http.MethodPost, "/chat", `{"patient_id": "42", "message": "hi"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Could not fetch patient data for ID: 42", body["error"])
}

func TestHandler_ChatProviderErrorIs503(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{err: errors.New("model overloaded")})

	rec, body := doJSON(t, testRouter(h), http.MethodPost, "/chat", `{"patient_id": "1", "message": "hi"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "AI service unavailable", body["error"])
	assert.Contains(t, body["details"], "model overloaded")
	assert.Equal(t, "Sorry, I encountered an error: model overloaded", body["response"])
}

func TestHandler_StartConversation(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{response: LLMResponse{Text: "Welcome"}})
	router := testRouter(h)

	rec, body := doJSON(t, router, http.MethodPost, "/conversation/start", `{"patient_id": "1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "John Doe", body["patient_name"])
	assert.Equal(t, "Welcome", body["message"])
	assert.Equal(t, "conv_1_"+jsonUnix(fixedNow), body["conversation_id"])
	_, hasError := body["error"]
	assert.False(t, hasError)

	rec, body = doJSON(t, router, http.MethodPost, "/conversation/start", `{"patient_id": "5"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Patient not found: 5", body["error"])

	rec, body = doJSON(t, router, http.MethodPost, "/conversation/start", `{"other": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Patient ID is required", body["error"])
}

func TestHandler_StartConversationDegraded(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{err: errors.New("boom")})

	rec, body := doJSON(t, testRouter(h), http.MethodPost, "/conversation/start", `{"patient_id": 1}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sorry, I encountered an error: boom", body["message"])
	assert.Contains(t, body["error"], "boom")
}

func TestHandler_Summary(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{response: LLMResponse{Text: "Summary text"}})
	router := testRouter(h)

	rec, body := doJSON(t, router, http.MethodGet, "/patient/1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", body["patient_id"])
	assert.Equal(t, "Summary text", body["summary"])

	rec, body = doJSON(t, router, http.MethodGet, "/patient/8/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Patient not found: 8", body["error"])
}

func TestHandler_SummaryProviderError(t *testing.T) {
	h, _ := newTestHandler(t, &stubLLMClient{err: errors.New("timeout")})

	rec, body := doJSON(t, testRouter(h), http.MethodGet, "/patient/1/summary", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "AI service unavailable", body["error"])
}

func TestHandler_Health(t *testing.T) {
	h, f := newTestHandler(t, &stubLLMClient{response: LLMResponse{Text: "ok"}})
	require.NoError(t, f.cache.Put(context.Background(), "1", patient.SampleRecord()))

	rec, body := doJSON(t, testRouter(h), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "care_coordinator", body["service"])
	assert.Equal(t, "http://localhost:5000", body["patient_api"])
	assert.Equal(t, true, body["ai_initialized"])
	assert.Equal(t, map[string]any{"cached_patients": 1.0, "cache_expiry_minutes": 5.0}, body["cache_stats"])
}

func jsonUnix(ts time.Time) string {
	b, _ := json.Marshal(ts.Unix())
	return string(b)
}
