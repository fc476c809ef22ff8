package conversation

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/care-coordinator-ai/internal/observability/metrics"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

func newTestExtractor() *FormExtractor {
	return NewFormExtractor(logging.New("error"), nil)
}

func TestExtract_MarkerPayload(t *testing.T) {
	reply := `I'll book you Tuesday. FORM_UPDATE: {"doctor": "House, Gregory", "appointment-date": "2024-01-23", "appointment-time": "14:00"}`

	got := newTestExtractor().Extract(reply)

	assert.Equal(t, "marker", got.Strategy)
	assert.Equal(t, "I'll book you Tuesday.", got.Text)
	assert.Equal(t, FormUpdates{
		"doctor":           "House, Gregory",
		"appointment-date": "2024-01-23",
		"appointment-time": "14:00",
	}, got.Updates)
}

func TestExtract_MarkerWinsOverFencedBlock(t *testing.T) {
	reply := "Here you go.\n```json\n{\"doctor\": \"Grey, Meredith\"}\n```\nFORM_UPDATE: {\"doctor\": \"House, Gregory\"}"

	got := newTestExtractor().Extract(reply)

	assert.Equal(t, "marker", got.Strategy)
	assert.Equal(t, "House, Gregory", got.Updates["doctor"])
	assert.NotContains(t, got.Text, "FORM_UPDATE")
	assert.Contains(t, got.Text, "```json", "only marker spans are stripped")
}

func TestExtract_MarkerStripsEveryOccurrence(t *testing.T) {
	reply := `First FORM_UPDATE: {"doctor": "A"} then FORM_UPDATE: {"doctor": "B"}`

	got := newTestExtractor().Extract(reply)

	assert.Equal(t, "A", got.Updates["doctor"])
	assert.Equal(t, "First  then", got.Text)
}

func TestExtract_FencedBlock(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"json tag", "Booking details:\n```json\n{\n  \"appointment-type\": \"NEW\",\n  \"appointment-location\": \"PPTH Orthopedics\"\n}\n```"},
		{"untagged", "Booking details:\n```\n{\"appointment-type\": \"NEW\", \"appointment-location\": \"PPTH Orthopedics\"}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestExtractor().Extract(tt.reply)
			require.Equal(t, "fenced", got.Strategy)
			assert.Equal(t, "Booking details:", got.Text)
			assert.Equal(t, "NEW", got.Updates["appointment-type"])
			assert.Equal(t, "PPTH Orthopedics", got.Updates["appointment-location"])
		})
	}
}

func TestExtract_BareObjectLeavesTextUntouched(t *testing.T) {
	reply := `Suggested fields {"appointment-type": "ESTABLISHED"} for the form.`

	got := newTestExtractor().Extract(reply)

	assert.Equal(t, "bare", got.Strategy)
	assert.Equal(t, reply, got.Text)
	assert.Equal(t, FormUpdates{"appointment-type": "ESTABLISHED"}, got.Updates)
}

func TestExtract_BareObjectNeedsRecognizedKey(t *testing.T) {
	reply := `The clinic config is {"open": "9am"}.`

	got := newTestExtractor().Extract(reply)

	assert.Empty(t, got.Strategy)
	assert.Nil(t, got.Updates)
	assert.Equal(t, reply, got.Text)
}

func TestExtract_MalformedMarkerKeepsOriginalText(t *testing.T) {
	reply := `Booked. FORM_UPDATE: {"doctor": "House, Gregory",}`

	got := newTestExtractor().Extract(reply)

	assert.Nil(t, got.Updates)
	assert.Equal(t, reply, got.Text)
	assert.Equal(t, "marker", got.Strategy)
}

func TestExtract_MalformedMarkerDoesNotFallThrough(t *testing.T) {
	reply := "FORM_UPDATE: {not json}\n```json\n{\"doctor\": \"House, Gregory\"}\n```"

	got := newTestExtractor().Extract(reply)

	assert.Nil(t, got.Updates)
	assert.Equal(t, reply, got.Text)
}

func TestExtract_EmptyMarkerPayloadStillWins(t *testing.T) {
	reply := "Nothing yet. FORM_UPDATE: {}\n```json\n{\"doctor\": \"House, Gregory\"}\n```"

	got := newTestExtractor().Extract(reply)

	assert.Equal(t, "marker", got.Strategy)
	assert.Empty(t, got.Updates)
	assert.NotContains(t, got.Text, "FORM_UPDATE")
}

func TestFormStrategy_IndependentlyMatchable(t *testing.T) {
	raw, ok := FencedStrategy.Match("```json {\"doctor\": \"X\"} ```")
	require.True(t, ok)
	assert.Equal(t, `{"doctor": "X"}`, raw)

	_, ok = MarkerStrategy.Match("no payload here")
	assert.False(t, ok)

	assert.Equal(t, "keep {\"doctor\": \"X\"}", BareStrategy.Clean("keep {\"doctor\": \"X\"}"))
}

func TestExtract_CustomStrategyOrder(t *testing.T) {
	extractor := NewFormExtractor(logging.New("error"), nil, BareStrategy)

	got := extractor.Extract(`FORM_UPDATE: {"doctor": "House, Gregory"}`)

	assert.Equal(t, "bare", got.Strategy)
	assert.Contains(t, got.Text, "FORM_UPDATE")
}

func TestExtract_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	extractor := NewFormExtractor(logging.New("error"), metrics.NewCoordinatorMetrics(reg))

	extractor.Extract(`FORM_UPDATE: {"doctor": "A"}`)
	extractor.Extract(`FORM_UPDATE: {broken}`)
	extractor.Extract("plain reply")

	expected := `
# HELP care_conversation_form_extractions_total Form update extraction attempts by winning strategy
# TYPE care_conversation_form_extractions_total counter
care_conversation_form_extractions_total{status="malformed",strategy="marker"} 1
care_conversation_form_extractions_total{status="parsed",strategy="marker"} 1
care_conversation_form_extractions_total{status="skipped",strategy="none"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "care_conversation_form_extractions_total"))
}
