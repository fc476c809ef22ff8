package patient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNotFound means the patient record could not be resolved.
	ErrNotFound = errors.New("patient: record not found")
	// ErrUnavailable marks a transient upstream failure. Errors carrying it
	// also satisfy errors.Is(err, ErrNotFound) so callers that only care about
	// "could not resolve" keep working.
	ErrUnavailable = errors.New("patient: upstream unavailable")
)

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("patient: upstream unavailable: %v", e.cause)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, ErrNotFound, e.cause}
}

func unavailable(format string, args ...any) error {
	return &unavailableError{cause: fmt.Errorf(format, args...)}
}

// Source loads a patient record from its system of record.
type Source interface {
	FetchPatient(ctx context.Context, id string) (*Record, error)
}

// HTTPSource fetches records from GET {baseURL}/patient/{id}.
type HTTPSource struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPSource builds an upstream client with a fixed request timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &HTTPSource{client: c, baseURL: baseURL}
}

// BaseURL returns the upstream root this source talks to.
func (s *HTTPSource) BaseURL() string {
	return s.baseURL
}

// FetchPatient never retries; any transport error or non-2xx status fails closed.
func (s *HTTPSource) FetchPatient(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}

	var rec Record
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&rec).
		Get("/patient/" + url.PathEscape(id))
	if err != nil {
		return nil, unavailable("fetch patient %s: %w", id, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	case !resp.IsSuccess():
		return nil, unavailable("fetch patient %s: status %d", id, resp.StatusCode())
	}
	if rec.ID == "" && rec.Name == "" {
		return nil, unavailable("fetch patient %s: empty or undecodable body", id)
	}
	return &rec, nil
}
