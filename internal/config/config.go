package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported completion providers.
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
)

// Supported patient cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// Upstream patient service
	PatientAPIURL       string
	PatientAPIPort      string
	PatientFetchTimeout time.Duration

	// Patient record cache
	CacheBackend  string
	CacheExpiry   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Hospital data sheet fed into the system prompt. Either a local path or s3://bucket/key.
	ReferenceDocPath string

	// Completion capability
	LLMProvider    string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration
	GeminiAPIKey   string
	BedrockModelID string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// HTTP surface
	CORSAllowedOrigins []string
	AdminJWTSecret     string
	ChatRateLimit      float64
	ChatRateBurst      int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "5001"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		PatientAPIURL:       strings.TrimSuffix(getEnv("PATIENT_API_URL", "http://localhost:5000"), "/"),
		PatientAPIPort:      getEnv("PATIENT_API_PORT", "5000"),
		PatientFetchTimeout: getEnvAsDuration("PATIENT_FETCH_TIMEOUT", 5*time.Second),

		CacheBackend:  strings.ToLower(strings.TrimSpace(getEnv("CACHE_BACKEND", CacheBackendMemory))),
		CacheExpiry:   getEnvAsDuration("CACHE_EXPIRY", 5*time.Minute),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ReferenceDocPath: getEnv("REFERENCE_DOC_PATH", "data_sheet.txt"),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ProviderOpenAI))),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		ChatModel:      getEnv("CHAT_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 500),
		LLMTemperature: getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		ChatRateLimit:      getEnvAsFloat("CHAT_RATE_LIMIT", 0),
		ChatRateBurst:      getEnvAsInt("CHAT_RATE_BURST", 10),
	}
}

// Validate rejects configurations that cannot work at all. Missing provider
// credentials are not an error here: the dispatcher reports them per call.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("config: PORT is required"))
	}
	if u, err := url.Parse(c.PatientAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: PATIENT_API_URL %q is not an absolute URL", c.PatientAPIURL))
	}
	if c.PatientFetchTimeout <= 0 {
		errs = append(errs, errors.New("config: PATIENT_FETCH_TIMEOUT must be positive"))
	}
	if c.CacheExpiry <= 0 {
		errs = append(errs, errors.New("config: CACHE_EXPIRY must be positive"))
	}
	switch c.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("config: REDIS_ADDR is required when CACHE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unsupported CACHE_BACKEND %q", c.CacheBackend))
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderBedrock, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("config: unsupported LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.LLMMaxTokens <= 0 {
		errs = append(errs, errors.New("config: LLM_MAX_TOKENS must be positive"))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, errors.New("config: LLM_TEMPERATURE must be between 0 and 2"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("config: LLM_TIMEOUT must be positive"))
	}
	if c.ChatRateLimit < 0 {
		errs = append(errs, errors.New("config: CHAT_RATE_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}

// ProviderConfigured reports whether the selected provider has the credential
// it needs to make calls.
func (c *Config) ProviderConfigured() bool {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return strings.TrimSpace(c.OpenAIAPIKey) != ""
	case ProviderGemini:
		return strings.TrimSpace(c.GeminiAPIKey) != ""
	case ProviderBedrock:
		return strings.TrimSpace(c.BedrockModelID) != ""
	default:
		return false
	}
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.LLMProvider == ProviderBedrock || strings.HasPrefix(c.ReferenceDocPath, "s3://")
}

// ModelName returns the model identifier for the selected provider.
func (c *Config) ModelName() string {
	if c.LLMProvider == ProviderBedrock && c.BedrockModelID != "" {
		return c.BedrockModelID
	}
	return c.ChatModel
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
