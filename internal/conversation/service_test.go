package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

var fixedNow = time.Date(2024, time.January, 16, 15, 4, 5, 0, time.UTC)

type stubReference struct {
	text string
	err  error
}

func (s stubReference) LoadReference(context.Context) (string, error) {
	return s.text, s.err
}

type countingSource struct {
	calls int
	inner patient.Source
}

func (s *countingSource) FetchPatient(ctx context.Context, id string) (*patient.Record, error) {
	s.calls++
	return s.inner.FetchPatient(ctx, id)
}

type coordinatorFixture struct {
	coordinator *Coordinator
	client      *stubLLMClient
	source      *countingSource
	cache       *patient.MemoryCache
}

func newCoordinatorFixture(t *testing.T, client *stubLLMClient, reference ReferenceSource) *coordinatorFixture {
	t.Helper()
	logger := logging.New("error")
	source := &countingSource{inner: patient.NewSampleDirectory()}
	cache := patient.NewMemoryCache(patient.DefaultExpiry)
	resolver := patient.NewResolver(cache, source, logger, nil)

	var llm LLMClient
	if client != nil {
		llm = client
	}
	dispatcher := NewDispatcher(llm, DispatcherConfig{Model: "gpt-4o-mini", Temperature: DefaultTemperature}, logger, nil)
	coordinator := NewCoordinator(resolver, reference, dispatcher, NewFormExtractor(logger, nil), logger, WithCoordinatorClock(func() time.Time { return fixedNow }))
	return &coordinatorFixture{coordinator: coordinator, client: client, source: source, cache: cache}
}

func TestCoordinator_CachedRecordReachesPrompt(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "Dr. House sees orthopedics patients.", Usage: TokenUsage{TotalTokens: 120}}}
	f := newCoordinatorFixture(t, client, stubReference{text: "House, Gregory MD - PPTH Orthopedics"})
	ctx := context.Background()
	require.NoError(t, f.cache.Put(ctx, "1", patient.SampleRecord()))

	result, err := f.coordinator.Handle(ctx, TurnRequest{PatientID: "1", Message: "What providers are available for orthopedics?"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.source.calls, "valid cache entry must skip the upstream")
	system := client.lastReq.Messages[0]
	assert.Equal(t, ChatRoleSystem, system.Role)
	assert.Contains(t, system.Content, "House, Gregory MD")
	assert.Contains(t, system.Content, "Orthopedics")
	assert.Contains(t, system.Content, "Current Date: 2024-01-16 (Tuesday)")
	assert.Equal(t, "What providers are available for orthopedics?", client.lastReq.Messages[1].Content)

	assert.Nil(t, result.FormUpdates)
	assert.False(t, result.Failed())
	assert.Equal(t, "Dr. House sees orthopedics patients.", result.Response)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	require.NotNil(t, result.TokensUsed)
	assert.Equal(t, int32(120), *result.TokensUsed)
}

func TestCoordinator_ExtractsFormUpdates(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: `I'll book you Tuesday. FORM_UPDATE: {"doctor": "House, Gregory", "appointment-date": "2024-01-23", "appointment-time": "14:00"}`}}
	f := newCoordinatorFixture(t, client, nil)

	result, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "1", Message: "Book with House"})
	require.NoError(t, err)

	assert.Equal(t, "I'll book you Tuesday.", result.Response)
	assert.Equal(t, FormUpdates{
		"doctor":           "House, Gregory",
		"appointment-date": "2024-01-23",
		"appointment-time": "14:00",
	}, result.FormUpdates)
	assert.Equal(t, 1, f.source.calls)
	assert.Contains(t, client.lastReq.Messages[0].Content, "reference data unavailable")
}

func TestCoordinator_ProviderErrorReturnsApology(t *testing.T) {
	client := &stubLLMClient{err: errors.New("upstream 500"), response: LLMResponse{Text: `FORM_UPDATE: {"doctor": "X"}`}}
	f := newCoordinatorFixture(t, client, nil)

	result, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "1", Message: "hi"})
	require.NoError(t, err)

	assert.True(t, result.Failed())
	assert.Equal(t, "Sorry, I encountered an error: upstream 500", result.Response)
	assert.Contains(t, result.Error, "upstream 500")
	assert.Nil(t, result.FormUpdates)
	var perr *ProviderError
	assert.ErrorAs(t, result.Err, &perr)
}

func TestCoordinator_ApologyShowsRootCauseOnly(t *testing.T) {
	client := &stubLLMClient{err: fmt.Errorf("conversation: openai completion failed: %w", errors.New("rate limited"))}
	f := newCoordinatorFixture(t, client, nil)

	result, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "1", Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "Sorry, I encountered an error: rate limited", result.Response)
	assert.NotContains(t, result.Response, "conversation:")
	assert.Contains(t, result.Error, "conversation: openai completion failed: rate limited")
}

func TestCoordinator_ProviderNotConfigured(t *testing.T) {
	f := newCoordinatorFixture(t, nil, nil)

	result, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "1", Message: "hi"})
	require.NoError(t, err)

	assert.ErrorIs(t, result.Err, ErrProviderUnavailable)
	assert.Equal(t, providerNotConfiguredReply, result.Response)
}

func TestCoordinator_UnknownPatient(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "unused"}}
	f := newCoordinatorFixture(t, client, nil)

	_, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "99", Message: "hi"})

	assert.ErrorIs(t, err, patient.ErrNotFound)
	assert.Equal(t, 0, client.calls)
}

func TestCoordinator_ReferenceFailureUsesSentinel(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "ok"}}
	f := newCoordinatorFixture(t, client, stubReference{err: errors.New("no such file")})

	_, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "1", Message: "hi"})
	require.NoError(t, err)
	assert.Contains(t, client.lastReq.Messages[0].Content, "Hospital System Information:\nreference data unavailable")
}

func TestCoordinator_HistoryPassedThrough(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "ok"}}
	f := newCoordinatorFixture(t, client, nil)
	history := []ChatMessage{{Role: ChatRoleUser, Content: "first"}, {Role: ChatRoleAssistant, Content: "answer"}}

	_, err := f.coordinator.Handle(context.Background(), TurnRequest{PatientID: "1", Message: "second", History: history})
	require.NoError(t, err)

	require.Len(t, client.lastReq.Messages, 4)
	assert.Equal(t, history, client.lastReq.Messages[1:3])
	assert.Equal(t, "second", client.lastReq.Messages[3].Content)
}

func TestCoordinator_StartConversation(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "Hello! How can I help with John Doe?"}}
	f := newCoordinatorFixture(t, client, nil)

	result, err := f.coordinator.StartConversation(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, "conv_1_"+strconv.FormatInt(fixedNow.Unix(), 10), result.ConversationID)
	assert.Equal(t, "John Doe", result.PatientName)
	assert.Equal(t, "Hello! How can I help with John Doe?", result.Message)
	assert.Empty(t, result.Error)
	require.Len(t, client.lastReq.Messages, 2)
	assert.Equal(t, "I'm ready to help coordinate care for John Doe. How can I assist you today?", client.lastReq.Messages[1].Content)
	assert.Equal(t, 1, f.source.calls)
}

func TestCoordinator_StartConversationUnnamedPatient(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "hi"}}
	logger := logging.New("error")
	resolver := patient.NewResolver(nil, patient.NewSampleDirectory(&patient.Record{ID: "7"}), logger, nil)
	coordinator := NewCoordinator(resolver, nil, NewDispatcher(client, DispatcherConfig{Model: "m"}, logger, nil), nil, logger)

	result, err := coordinator.StartConversation(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", result.PatientName)
	assert.True(t, strings.Contains(client.lastReq.Messages[1].Content, "care for this patient."))
}

func TestCoordinator_Summarize(t *testing.T) {
	client := &stubLLMClient{response: LLMResponse{Text: "John Doe missed a September visit."}}
	f := newCoordinatorFixture(t, client, nil)

	result, err := f.coordinator.Summarize(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, "1", result.PatientID)
	assert.Equal(t, "John Doe missed a September visit.", result.Summary)
	assert.Equal(t, summaryQuestion, client.lastReq.Messages[1].Content)
	assert.Len(t, client.lastReq.Messages, 2)
}
