package conversation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/wolfman30/care-coordinator-ai/internal/observability/metrics"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// FormUpdates holds booking fields decoded from a model reply. Keys are kept
// as the model wrote them.
type FormUpdates map[string]any

// FormStrategy locates one form-update payload shape in a reply. Pattern must
// capture the JSON object in group 1. When Strip is set every match of Pattern
// is removed from the returned text.
type FormStrategy struct {
	Name    string
	Pattern *regexp.Regexp
	Strip   bool
}

// Match returns the captured JSON object, or false if the pattern is absent.
func (s FormStrategy) Match(reply string) (string, bool) {
	m := s.Pattern.FindStringSubmatch(reply)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Clean returns the reply with the strategy's spans removed.
func (s FormStrategy) Clean(reply string) string {
	if !s.Strip {
		return reply
	}
	return strings.TrimSpace(s.Pattern.ReplaceAllString(reply, ""))
}

var (
	// MarkerStrategy matches FORM_UPDATE: {...} and strips it from the reply.
	MarkerStrategy = FormStrategy{
		Name:    "marker",
		Pattern: regexp.MustCompile(`FORM_UPDATE:\s*(\{[^}]*\})`),
		Strip:   true,
	}
	// FencedStrategy matches a fenced code block holding one JSON object, with
	// or without a json tag, and strips it.
	FencedStrategy = FormStrategy{
		Name:    "fenced",
		Pattern: regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```"),
		Strip:   true,
	}
	// BareStrategy matches an inline object keyed by doctor or appointment-* and
	// leaves the reply untouched.
	BareStrategy = FormStrategy{
		Name:    "bare",
		Pattern: regexp.MustCompile(`(\{[^{}]*"(?:doctor|appointment-[^"]*)"[^{}]*\})`),
	}
)

func defaultFormStrategies() []FormStrategy {
	return []FormStrategy{MarkerStrategy, FencedStrategy, BareStrategy}
}

// ExtractionResult is the outcome of Extract. Strategy is empty when nothing
// matched.
type ExtractionResult struct {
	Updates  FormUpdates
	Text     string
	Strategy string
}

// FormExtractor runs its strategies in order and stops at the first match.
type FormExtractor struct {
	strategies []FormStrategy
	logger     *logging.Logger
	metrics    *metrics.CoordinatorMetrics
}

// NewFormExtractor uses the marker, fenced and bare strategies when none are given.
func NewFormExtractor(logger *logging.Logger, m *metrics.CoordinatorMetrics, strategies ...FormStrategy) *FormExtractor {
	if len(strategies) == 0 {
		strategies = defaultFormStrategies()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FormExtractor{strategies: strategies, logger: logger, metrics: m}
}

// Extract never fails. A payload that does not decode leaves the reply
// untouched and reports no updates; later strategies are not tried.
func (e *FormExtractor) Extract(reply string) ExtractionResult {
	for _, strategy := range e.strategies {
		raw, ok := strategy.Match(reply)
		if !ok {
			continue
		}

		var updates FormUpdates
		if err := json.Unmarshal([]byte(raw), &updates); err != nil {
			e.logger.Warn("form update payload did not parse", "strategy", strategy.Name, "error", err)
			e.metrics.ObserveFormExtraction(strategy.Name, false)
			return ExtractionResult{Text: reply, Strategy: strategy.Name}
		}

		e.logger.Info("parsed form update", "strategy", strategy.Name, "fields", len(updates))
		e.metrics.ObserveFormExtraction(strategy.Name, true)
		return ExtractionResult{
			Updates:  updates,
			Text:     strategy.Clean(reply),
			Strategy: strategy.Name,
		}
	}

	e.metrics.ObserveFormExtraction("", false)
	return ExtractionResult{Text: reply}
}
