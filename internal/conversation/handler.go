package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

const maxRequestBody = 1 << 20

// HealthInfo describes the wiring reported by GET /health.
type HealthInfo struct {
	Service       string
	PatientAPI    string
	AIInitialized bool
	Cache         patient.RecordCache
	CacheExpiry   time.Duration
}

// Handler wires HTTP requests to the coordinator.
type Handler struct {
	coordinator *Coordinator
	health      HealthInfo
	logger      *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(coordinator *Coordinator, health HealthInfo, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if health.Service == "" {
		health.Service = "care_coordinator"
	}
	return &Handler{coordinator: coordinator, health: health, logger: logger}
}

type chatRequest struct {
	PatientID patient.FlexibleID `json:"patient_id"`
	Message   string             `json:"message"`
	History   []ChatMessage      `json:"conversation_history"`
}

type startRequest struct {
	PatientID patient.FlexibleID `json:"patient_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type unavailableResponse struct {
	Error     string    `json:"error"`
	Details   string    `json:"details"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

type healthResponse struct {
	Status        string          `json:"status"`
	Service       string          `json:"service"`
	PatientAPI    string          `json:"patient_api"`
	AIInitialized bool            `json:"ai_initialized"`
	CacheStats    healthCacheInfo `json:"cache_stats"`
}

type healthCacheInfo struct {
	CachedPatients     int     `json:"cached_patients"`
	CacheExpiryMinutes float64 `json:"cache_expiry_minutes"`
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Message is required"})
		return
	}
	id := req.PatientID.String()
	if id == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Patient ID is required"})
		return
	}

	h.logger.Info("processing chat message", "patient_id", id, "history", len(req.History))
	result, err := h.coordinator.Handle(r.Context(), TurnRequest{PatientID: id, Message: message, History: req.History})
	if err != nil {
		h.writeResolveError(w, err, fmt.Sprintf("Could not fetch patient data for ID: %s", id))
		return
	}
	if result.Failed() {
		h.writeUnavailable(w, result.Error, result.Response, result.Timestamp)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// StartConversation handles POST /conversation/start.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := req.PatientID.String()
	if id == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Patient ID is required"})
		return
	}

	h.logger.Info("starting conversation", "patient_id", id)
	result, err := h.coordinator.StartConversation(r.Context(), id)
	if err != nil {
		h.writeResolveError(w, err, fmt.Sprintf("Patient not found: %s", id))
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Summary handles GET /patient/{patientID}/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "patientID"))

	h.logger.Info("generating patient summary", "patient_id", id)
	result, err := h.coordinator.Summarize(r.Context(), id)
	if err != nil {
		h.writeResolveError(w, err, fmt.Sprintf("Patient not found: %s", id))
		return
	}
	if result.Err != nil {
		h.writeUnavailable(w, result.Error, result.Summary, result.Timestamp)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Service:       h.health.Service,
		PatientAPI:    h.health.PatientAPI,
		AIInitialized: h.health.AIInitialized,
		CacheStats: healthCacheInfo{
			CacheExpiryMinutes: h.health.CacheExpiry.Minutes(),
		},
	}
	if h.health.Cache != nil {
		stats, err := h.health.Cache.Stats(r.Context())
		if err != nil {
			h.logger.Warn("cache stats unavailable for health check", "error", err)
		} else {
			resp.CacheStats.CachedPatients = stats.TotalEntries
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON object body into dst. An empty body, an empty object
// and unparseable JSON are all reported as missing data.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.logger.Error("failed to read request body", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No JSON data provided"})
		return false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No JSON data provided"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.logger.Warn("failed to decode request body", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func (h *Handler) writeResolveError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, patient.ErrNotFound) {
		h.logger.Warn("patient could not be resolved", "error", err, "transient", errors.Is(err, patient.ErrUnavailable))
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: notFound})
		return
	}
	h.logger.Error("unexpected coordinator failure", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error: " + err.Error()})
}

func (h *Handler) writeUnavailable(w http.ResponseWriter, details, reply string, ts time.Time) {
	h.writeJSON(w, http.StatusServiceUnavailable, unavailableResponse{
		Error:     "AI service unavailable",
		Details:   details,
		Response:  reply,
		Timestamp: ts,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
