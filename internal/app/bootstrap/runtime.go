package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/care-coordinator-ai/internal/config"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildRecordCache returns the patient record cache selected by CACHE_BACKEND.
// The redis backend fails startup when the server cannot be reached; the
// returned client is nil for the memory backend.
func BuildRecordCache(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (patient.RecordCache, *redis.Client, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	expiry := cfg.CacheExpiry
	if expiry <= 0 {
		expiry = patient.DefaultExpiry
	}

	switch cfg.CacheBackend {
	case "", appconfig.CacheBackendMemory:
		return patient.NewMemoryCache(expiry), nil, nil
	case appconfig.CacheBackendRedis:
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, nil, fmt.Errorf("bootstrap: redis cache backend unavailable at %q", cfg.RedisAddr)
		}
		return patient.NewRedisCache(client, expiry, time.Now), client, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown cache backend %q", cfg.CacheBackend)
	}
}

// BuildPatientSource returns the upstream client, or the built-in sample
// directory when offline is set.
func BuildPatientSource(cfg *appconfig.Config, offline bool) patient.Source {
	if offline || cfg == nil {
		return patient.NewSampleDirectory()
	}
	return patient.NewHTTPSource(cfg.PatientAPIURL, cfg.PatientFetchTimeout)
}
