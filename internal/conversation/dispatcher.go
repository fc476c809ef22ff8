package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/care-coordinator-ai/internal/observability/metrics"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxTokens   int32   = 500
	DefaultTemperature float32 = 0.7
	DefaultLLMTimeout          = 60 * time.Second
)

var dispatchTracer = otel.Tracer("care.internal.conversation.dispatcher")

// ErrProviderUnavailable is returned when no completion provider is configured.
var ErrProviderUnavailable = errors.New("conversation: completion provider not configured")

// ProviderError reports a failed completion call.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("conversation: provider call failed (model %s): %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Completion is the outcome of one successful dispatch.
type Completion struct {
	Reply      string
	TokensUsed *int32
	Model      string
	Timestamp  time.Time
}

// DispatcherConfig bounds every completion call.
type DispatcherConfig struct {
	Model       string
	MaxTokens   int32
	Temperature float32
	Timeout     time.Duration
}

// Dispatcher assembles the message list and sends it to the provider.
type Dispatcher struct {
	client  LLMClient
	cfg     DispatcherConfig
	logger  *logging.Logger
	metrics *metrics.CoordinatorMetrics
	now     func() time.Time
}

// NewDispatcher accepts a nil client; Send then fails with ErrProviderUnavailable.
func NewDispatcher(client LLMClient, cfg DispatcherConfig, logger *logging.Logger, m *metrics.CoordinatorMetrics) *Dispatcher {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{client: client, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

// Configured reports whether a provider client is wired.
func (d *Dispatcher) Configured() bool {
	return d != nil && d.client != nil
}

// Model returns the configured model name.
func (d *Dispatcher) Model() string {
	return d.cfg.Model
}

// BuildMessages orders one system message, the caller's history, then the new
// user message.
func BuildMessages(systemPrompt string, history []ChatMessage, message string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: ChatRoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: message})
	return messages
}

func (d *Dispatcher) Send(ctx context.Context, systemPrompt string, history []ChatMessage, message string) (*Completion, error) {
	if !d.Configured() {
		return nil, ErrProviderUnavailable
	}

	ctx, span := dispatchTracer.Start(ctx, "conversation.dispatch")
	defer span.End()

	messages := BuildMessages(systemPrompt, history, message)
	span.SetAttributes(
		attribute.String("care.model", d.cfg.Model),
		attribute.Int("care.message_count", len(messages)),
	)

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	d.logger.Info("sending conversation to provider", "model", d.cfg.Model, "messages", len(messages))
	start := time.Now()
	resp, err := d.client.Complete(callCtx, LLMRequest{
		Model:       d.cfg.Model,
		Messages:    messages,
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		d.metrics.ObserveLLMLatency(d.cfg.Model, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		d.logger.Error("provider call failed", "model", d.cfg.Model, "error", err)
		return nil, &ProviderError{Model: d.cfg.Model, Err: err}
	}
	d.metrics.ObserveLLMLatency(d.cfg.Model, "ok", elapsed)

	completion := &Completion{
		Reply:     resp.Text,
		Model:     d.cfg.Model,
		Timestamp: d.now(),
	}
	if resp.Usage.TotalTokens > 0 {
		total := resp.Usage.TotalTokens
		completion.TokensUsed = &total
	}
	return completion, nil
}
