package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/care-coordinator-ai/internal/observability/metrics"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var resolverTracer = otel.Tracer("care.internal.patient.resolver")

// Resolver serves records from the cache and falls back to the upstream source.
type Resolver struct {
	cache   RecordCache
	source  Source
	logger  *logging.Logger
	metrics *metrics.CoordinatorMetrics
}

func NewResolver(cache RecordCache, source Source, logger *logging.Logger, m *metrics.CoordinatorMetrics) *Resolver {
	if cache == nil {
		cache = NewMemoryCache(DefaultExpiry)
	}
	if source == nil {
		panic("patient: source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{cache: cache, source: source, logger: logger, metrics: m}
}

// Cache exposes the underlying cache for the admin endpoints.
func (r *Resolver) Cache() RecordCache {
	return r.cache
}

// Resolve returns the record for id. Failures satisfy errors.Is(err, ErrNotFound);
// transient upstream failures also satisfy errors.Is(err, ErrUnavailable).
func (r *Resolver) Resolve(ctx context.Context, id string) (*Record, error) {
	ctx, span := resolverTracer.Start(ctx, "patient.resolve")
	defer span.End()

	id = strings.TrimSpace(id)
	span.SetAttributes(attribute.String("care.patient_id", id))

	rec, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		// A broken cache backend degrades to a miss rather than failing the turn.
		r.logger.Warn("patient cache read failed", "patient_id", id, "error", err)
	}
	r.metrics.ObserveCacheLookup(ok)
	if ok {
		r.logger.Info("using cached patient data", "patient_id", id)
		return rec, nil
	}

	r.logger.Info("fetching patient data from upstream", "patient_id", id)
	rec, err = r.source.FetchPatient(ctx, id)
	if err != nil {
		span.RecordError(err)
		status := "not_found"
		if errors.Is(err, ErrUnavailable) {
			status = "unavailable"
		}
		r.metrics.ObserveUpstreamFetch(status)
		r.logger.Error("failed to fetch patient data", "patient_id", id, "status", status, "error", err)
		return nil, err
	}
	r.metrics.ObserveUpstreamFetch("ok")

	if err := r.cache.Put(ctx, id, rec); err != nil {
		r.logger.Warn("failed to cache patient data", "patient_id", id, "error", err)
	} else {
		r.logger.Info("fetched and cached patient data", "patient_id", id)
	}
	return rec, nil
}
