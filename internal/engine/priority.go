package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/llm"
	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
)

// DealValueField is the ticket metadata field holding the account's deal value.
const DealValueField = "Deal Value (in ARR)"

var currencyPattern = regexp.MustCompile(`(?i)(?:\$|usd\s?)\s?\d[\d,]*(?:\.\d+)?\s?(?:[km]\b|million\b|thousand\b)?`)

// PriorityAnalyzer runs the single-call priority analysis over a conversation.
type PriorityAnalyzer struct {
	logger  *slog.Logger
	gateway llm.Gateway
	timeout time.Duration
	now     func() time.Time
}

// NewPriorityAnalyzer constructs a priority analyzer. A zero timeout defaults to 60s.
func NewPriorityAnalyzer(logger *slog.Logger, gateway llm.Gateway, timeout time.Duration) *PriorityAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PriorityAnalyzer{
		logger:  logger,
		gateway: gateway,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Analyze extracts planning signals for record. Unlike the analysis pipeline, failures are
// returned to the caller.
func (a *PriorityAnalyzer) Analyze(ctx context.Context, record models.ConversationRecord) (models.PriorityResult, error) {
	start := time.Now()
	if a.gateway == nil {
		return models.PriorityResult{}, fmt.Errorf("text generation gateway not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.gateway.Generate(callCtx, llm.Request{
		Phase:     PhasePriority,
		System:    systemPrompt,
		Prompt:    buildPriorityPrompt(record),
		MaxTokens: phaseMaxTokens[PhasePriority],
	})
	metrics.ObserveGatewayCall(PhasePriority, callOutcome(err))
	if err != nil {
		metrics.ObservePipeline(PhasePriority, time.Since(start), "")
		return models.PriorityResult{}, fmt.Errorf("priority analysis for ticket %s: %w", record.TicketID, err)
	}

	result := extractors.ParsePriority(text)
	result.TicketID = record.TicketID
	result.AnalyzedAt = a.now()
	if len(record.Fields) > 0 {
		result.TicketFields = make(map[string]string, len(record.Fields))
		for k, v := range record.Fields {
			result.TicketFields[k] = v
		}
	}
	result.DealValue = ExtractDealValue(record.Fields, result.SignalDetails)

	a.logger.Debug("priority analysis completed",
		slog.String("ticket_id", record.TicketID),
		slog.String("priority", string(result.PriorityScore)),
		slog.Int("signals", result.SignalCount()),
	)
	metrics.ObservePipeline(PhasePriority, time.Since(start), "")
	return result, nil
}

// ExtractDealValue prefers the deal value metadata field and falls back to the first
// currency amount mentioned in the signal details.
func ExtractDealValue(fields map[string]string, signalDetails string) string {
	if v := strings.TrimSpace(fields[DealValueField]); v != "" {
		return v
	}
	return strings.TrimSpace(currencyPattern.FindString(signalDetails))
}
