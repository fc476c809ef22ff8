package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

const summaryQuestion = "Please provide a brief care coordination summary for this patient, including recent appointments, referrals, and any scheduling considerations."

const providerNotConfiguredReply = "The AI provider is not configured. Please set the provider API key and restart the service."

type recordResolver interface {
	Resolve(ctx context.Context, id string) (*patient.Record, error)
}

type sender interface {
	Send(ctx context.Context, systemPrompt string, history []ChatMessage, message string) (*Completion, error)
}

// TurnRequest is one conversational turn for a patient.
type TurnRequest struct {
	PatientID string
	Message   string
	History   []ChatMessage
}

// TurnResult is always populated once the patient resolved. A failed provider
// call sets Error and an apology in Response instead of returning an error.
type TurnResult struct {
	Response    string      `json:"response"`
	FormUpdates FormUpdates `json:"form_updates,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	PatientID   string      `json:"patient_id"`
	Model       string      `json:"model"`
	TokensUsed  *int32      `json:"tokens_used"`
	Error       string      `json:"-"`
	Err         error       `json:"-"`
}

// Failed reports whether the provider call failed.
func (r *TurnResult) Failed() bool {
	return r != nil && r.Err != nil
}

// StartResult is returned by StartConversation.
type StartResult struct {
	ConversationID string    `json:"conversation_id"`
	PatientID      string    `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
}

// SummaryResult is returned by Summarize.
type SummaryResult struct {
	PatientID string    `json:"patient_id"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"-"`
	Err       error     `json:"-"`
}

// Coordinator runs the per-turn pipeline: resolve the patient, build the
// prompt, dispatch, extract form updates. It does not retry any step.
type Coordinator struct {
	resolver  recordResolver
	reference ReferenceSource
	sender    sender
	extractor *FormExtractor
	logger    *logging.Logger
	now       func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock overrides the clock used for prompt dates and timestamps.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCoordinator(resolver recordResolver, reference ReferenceSource, dispatcher sender, extractor *FormExtractor, logger *logging.Logger, opts ...CoordinatorOption) *Coordinator {
	if resolver == nil {
		panic("conversation: record resolver cannot be nil")
	}
	if dispatcher == nil {
		panic("conversation: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if extractor == nil {
		extractor = NewFormExtractor(logger, nil)
	}
	c := &Coordinator{
		resolver:  resolver,
		reference: reference,
		sender:    dispatcher,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle runs one turn. A resolution failure is returned as an error that
// satisfies errors.Is(err, patient.ErrNotFound).
func (c *Coordinator) Handle(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	id := strings.TrimSpace(req.PatientID)
	rec, err := c.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: resolve patient %s: %w", id, err)
	}
	return c.respond(ctx, id, rec, req.History, req.Message), nil
}

// StartConversation greets the coordinator on behalf of the patient record.
func (c *Coordinator) StartConversation(ctx context.Context, patientID string) (*StartResult, error) {
	id := strings.TrimSpace(patientID)
	rec, err := c.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: resolve patient %s: %w", id, err)
	}

	greeting := fmt.Sprintf("I'm ready to help coordinate care for %s. How can I assist you today?", rec.DisplayName("this patient"))
	turn := c.respond(ctx, id, rec, nil, greeting)

	now := c.now()
	return &StartResult{
		ConversationID: fmt.Sprintf("conv_%s_%d", id, now.Unix()),
		PatientID:      id,
		PatientName:    rec.DisplayName("Unknown"),
		Message:        turn.Response,
		Timestamp:      turn.Timestamp,
		Error:          turn.Error,
	}, nil
}

// Summarize asks the model for a care coordination summary of the patient.
func (c *Coordinator) Summarize(ctx context.Context, patientID string) (*SummaryResult, error) {
	turn, err := c.Handle(ctx, TurnRequest{PatientID: patientID, Message: summaryQuestion})
	if err != nil {
		return nil, err
	}
	return &SummaryResult{
		PatientID: turn.PatientID,
		Summary:   turn.Response,
		Timestamp: turn.Timestamp,
		Error:     turn.Error,
		Err:       turn.Err,
	}, nil
}

func (c *Coordinator) respond(ctx context.Context, id string, rec *patient.Record, history []ChatMessage, message string) *TurnResult {
	prompt := BuildSystemPrompt(rec, c.loadReference(ctx), c.now())

	completion, err := c.sender.Send(ctx, prompt, history, message)
	if err != nil {
		c.logger.Error("coordinator turn failed", "patient_id", id, "error", err)
		return &TurnResult{
			Response:  apology(err),
			Timestamp: c.now(),
			PatientID: id,
			Error:     err.Error(),
			Err:       err,
		}
	}

	extracted := c.extractor.Extract(completion.Reply)
	result := &TurnResult{
		Response:   extracted.Text,
		Timestamp:  completion.Timestamp,
		PatientID:  id,
		Model:      completion.Model,
		TokensUsed: completion.TokensUsed,
	}
	if len(extracted.Updates) > 0 {
		result.FormUpdates = extracted.Updates
		c.logger.Info("form updates extracted", "patient_id", id, "strategy", extracted.Strategy)
	}
	return result
}

func (c *Coordinator) loadReference(ctx context.Context) string {
	if c.reference == nil {
		return ""
	}
	text, err := c.reference.LoadReference(ctx)
	if err != nil {
		c.logger.Error("reference document unavailable", "error", err)
		return ""
	}
	return text
}

func apology(err error) string {
	if errors.Is(err, ErrProviderUnavailable) {
		return providerNotConfiguredReply
	}
	return fmt.Sprintf("Sorry, I encountered an error: %v", rootCause(err))
}

// rootCause drops the package prefixes added while the error travelled up.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
