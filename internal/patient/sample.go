package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// SampleRecord returns the demo patient served by the sample upstream.
func SampleRecord() *Record {
	return &Record{
		ID:    "1",
		Name:  "John Doe",
		DOB:   "01/01/1975",
		PCP:   "Dr. Meredith Grey",
		EHRID: "1234abcd",
		ReferredProviders: []ReferredProvider{
			{Provider: "House, Gregory MD", Specialty: "Orthopedics"},
			{Specialty: "Primary Care"},
		},
		Appointments: []Appointment{
			{Date: "3/05/18", Time: "9:15am", Provider: "Dr. Meredith Grey", Status: "completed"},
			{Date: "8/12/24", Time: "2:30pm", Provider: "Dr. Gregory House", Status: "completed"},
			{Date: "9/17/24", Time: "10:00am", Provider: "Dr. Meredith Grey", Status: "noshow"},
			{Date: "11/25/24", Time: "11:30am", Provider: "Dr. Meredith Grey", Status: "cancelled"},
		},
	}
}

// SampleDirectory is an in-memory Source seeded with the demo patient. It
// backs the sample upstream service and the offline terminal client.
type SampleDirectory struct {
	records map[string]*Record
}

// NewSampleDirectory returns a directory holding SampleRecord plus any extras.
func NewSampleDirectory(extra ...*Record) *SampleDirectory {
	d := &SampleDirectory{records: map[string]*Record{}}
	for _, rec := range append([]*Record{SampleRecord()}, extra...) {
		if rec != nil {
			d.records[rec.ID.String()] = rec
		}
	}
	return d
}

// FetchPatient looks a record up by id. Numeric ids are compared by value, so
// "01" finds patient 1.
func (d *SampleDirectory) FetchPatient(_ context.Context, id string) (*Record, error) {
	key := strings.TrimSpace(id)
	if n, err := strconv.Atoi(key); err == nil {
		key = strconv.Itoa(n)
	}
	rec, ok := d.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return rec, nil
}

// SampleHandler serves a SampleDirectory over the upstream patient API contract.
type SampleHandler struct {
	directory *SampleDirectory
	logger    *logging.Logger
}

func NewSampleHandler(directory *SampleDirectory, logger *logging.Logger) *SampleHandler {
	if directory == nil {
		directory = NewSampleDirectory()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SampleHandler{directory: directory, logger: logger}
}

// Routes mounts GET / and GET /patient/{patientID}.
func (h *SampleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HealthCheck)
	r.Get("/patient/{patientID}", h.GetPatient)
	return r
}

// HealthCheck handles GET /.
func (h *SampleHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, "Hello World")
}

// GetPatient handles GET /patient/{patientID}.
func (h *SampleHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "patientID")
	rec, err := h.directory.FetchPatient(r.Context(), id)
	if err != nil {
		h.logger.Info("sample patient not found", "patient_id", id)
		writeJSON(w, h.logger, http.StatusNotFound, map[string]string{"error": "Patient not found"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, logger *logging.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
