package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/care-coordinator-ai/internal/config"
	"github.com/wolfman30/care-coordinator-ai/internal/conversation"
	"github.com/wolfman30/care-coordinator-ai/internal/observability/metrics"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// BuildLLMClient returns the completion client for cfg.LLMProvider. A missing
// credential is not an error: it logs a warning and returns a nil client so
// every turn reports the provider as unavailable.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if !cfg.ProviderConfigured() {
		logger.Warn("completion provider credential missing; chat will report the AI service as unavailable", "provider", cfg.LLMProvider)
		return nil, nil
	}

	switch cfg.LLMProvider {
	case appconfig.ProviderOpenAI:
		return conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	case appconfig.ProviderGemini:
		return conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey)
	case appconfig.ProviderBedrock:
		if awsCfg == nil {
			return nil, errors.New("bootstrap: bedrock provider requires aws config")
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(*awsCfg)), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", cfg.LLMProvider)
	}
}

// BuildReferenceSource returns a file or S3 reader for REFERENCE_DOC_PATH.
func BuildReferenceSource(cfg *appconfig.Config, awsCfg *aws.Config) (conversation.ReferenceSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	path := strings.TrimSpace(cfg.ReferenceDocPath)
	if !strings.HasPrefix(path, "s3://") {
		return conversation.FileReference{Path: path}, nil
	}
	bucket, key, ok := conversation.ParseS3URI(path)
	if !ok {
		return nil, fmt.Errorf("bootstrap: invalid reference location %q", path)
	}
	if awsCfg == nil {
		return nil, errors.New("bootstrap: s3 reference requires aws config")
	}
	return conversation.NewS3Reference(s3.NewFromConfig(*awsCfg), bucket, key), nil
}

// Services is the wired coordinator stack shared by the API server and the
// terminal client.
type Services struct {
	Cache       patient.RecordCache
	Resolver    *patient.Resolver
	Dispatcher  *conversation.Dispatcher
	Coordinator *conversation.Coordinator
	Metrics     *metrics.CoordinatorMetrics
	Redis       *redis.Client

	closers []io.Closer
}

// ServicesOptions selects the optional parts of BuildServices.
type ServicesOptions struct {
	AWS      *aws.Config
	Registry prometheus.Registerer
	// Source overrides the upstream patient client.
	Source patient.Source
}

// BuildServices wires cache, resolver, provider, dispatcher and coordinator from config.
func BuildServices(ctx context.Context, cfg *appconfig.Config, opts ServicesOptions, logger *logging.Logger) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	svc := &Services{}
	if opts.Registry != nil {
		svc.Metrics = metrics.NewCoordinatorMetrics(opts.Registry)
	}

	cache, redisClient, err := BuildRecordCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc.Cache = cache
	if redisClient != nil {
		svc.Redis = redisClient
		svc.closers = append(svc.closers, redisClient)
	}

	source := opts.Source
	if source == nil {
		source = BuildPatientSource(cfg, false)
	}
	svc.Resolver = patient.NewResolver(cache, source, logger, svc.Metrics)

	reference, err := BuildReferenceSource(cfg, opts.AWS)
	if err != nil {
		svc.Close()
		return nil, err
	}

	client, err := BuildLLMClient(ctx, cfg, opts.AWS, logger)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("bootstrap: build llm client: %w", err)
	}
	if closer, ok := client.(io.Closer); ok {
		svc.closers = append(svc.closers, closer)
	}

	svc.Dispatcher = conversation.NewDispatcher(client, conversation.DispatcherConfig{
		Model:       cfg.ModelName(),
		MaxTokens:   int32(cfg.LLMMaxTokens),
		Temperature: float32(cfg.LLMTemperature),
		Timeout:     cfg.LLMTimeout,
	}, logger, svc.Metrics)
	svc.Coordinator = conversation.NewCoordinator(
		svc.Resolver,
		reference,
		svc.Dispatcher,
		conversation.NewFormExtractor(logger, svc.Metrics),
		logger,
	)

	logger.Info("coordinator services ready",
		"provider", cfg.LLMProvider,
		"model", cfg.ModelName(),
		"ai_initialized", svc.Dispatcher.Configured(),
		"cache_backend", cfg.CacheBackend,
	)
	return svc, nil
}

// Close releases provider and Redis connections.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
