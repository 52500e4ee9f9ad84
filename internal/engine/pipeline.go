package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/llm"
	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Gateway phases, used as request labels and metric labels.
const (
	PhaseClassify   = "classify"
	PhaseGenerate   = "generate"
	PhaseValidate   = "validate"
	PhaseRegenerate = "regenerate"
	PhasePriority   = "priority"
)

// MaxGatewayCalls bounds one analysis run: classify, generate, validate, regenerate.
const MaxGatewayCalls = 4

// NoTestCasesFeedback is the synthetic feedback used when generation produced nothing.
const NoTestCasesFeedback = "no test cases produced"

var errCallBudget = errors.New("gateway call budget exhausted")

// Per-phase output limits.
var phaseMaxTokens = map[string]int{
	PhaseClassify:   800,
	PhaseGenerate:   2500,
	PhaseRegenerate: 2500,
	PhaseValidate:   1500,
	PhasePriority:   1000,
}

// PipelineConfig carries per-phase deadlines.
type PipelineConfig struct {
	ClassifyTimeout time.Duration
	GenerateTimeout time.Duration
	ValidateTimeout time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 60 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 90 * time.Second
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = 60 * time.Second
	}
	return c
}

// Pipeline runs classify, generate and validate/regenerate over one conversation.
type Pipeline struct {
	logger     *slog.Logger
	gateway    llm.Gateway
	classifier *Classifier
	cfg        PipelineConfig
	now        func() time.Time
}

// NewPipeline constructs an analysis pipeline.
func NewPipeline(logger *slog.Logger, gateway llm.Gateway, classifier *Classifier, cfg PipelineConfig) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(nil, logger)
	}
	return &Pipeline{
		logger:     logger,
		gateway:    gateway,
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// run tracks the gateway calls spent by a single Run.
type run struct {
	ticketID string
	calls    int
}

// Run analyses record. It never returns an error and never panics: every failure is
// described on the returned result.
func (p *Pipeline) Run(ctx context.Context, record models.ConversationRecord) (result models.AnalysisResult) {
	start := time.Now()
	r := &run{ticketID: record.TicketID}
	logger := p.logger.With(slog.String("ticket_id", record.TicketID))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("analysis pipeline panicked", slog.Any("panic", rec))
			result = p.failure(r, fmt.Errorf("pipeline panic: %v", rec))
		}
		result.GatewayCalls = r.calls
		metrics.ObservePipeline("analysis", time.Since(start), string(result.FinalState))
	}()

	if p.gateway == nil {
		return p.failure(r, fmt.Errorf("text generation gateway not configured"))
	}

	// Classifying
	text, err := p.call(ctx, r, PhaseClassify, p.cfg.ClassifyTimeout, buildPhaseOnePrompt(record))
	if err != nil {
		logger.Warn("classification failed", slog.Any("error", err))
		return p.failure(r, err)
	}
	phaseOne := p.classifier.Apply(extractors.ParsePhaseOne(text))

	result = models.AnalysisResult{
		TicketID:         record.TicketID,
		PhaseOne:         phaseOne,
		TestCases:        []models.TestCase{},
		ValidationIssues: []string{},
		AnalyzedAt:       p.now(),
	}

	if !phaseOne.TestCaseNeeded {
		result.MarkNotApplicable()
		result.FinalState = models.StateNotNeeded
		return result
	}

	// Generating
	gen, err := p.generate(ctx, r, PhaseGenerate, phaseOne)
	if err != nil {
		logger.Warn("test case generation failed", slog.Any("error", err))
		degrade(&result, "Test case generation failed", err)
		return result
	}
	result.ApplyGeneration(gen)

	// Validating
	if len(gen.TestCases) == 0 {
		result.ValidationPassed = models.BoolPtr(false)
		result.ValidationAssessment = "No test cases were generated although a test case is needed"
		result.ValidationIssues = []string{"No test cases were generated despite a test case being needed"}
		p.regenerate(ctx, r, logger, &result, phaseOne, NoTestCasesFeedback)
		return result
	}

	text, err = p.call(ctx, r, PhaseValidate, p.cfg.ValidateTimeout, buildValidationPrompt(phaseOne, gen.TestCases))
	if err != nil {
		logger.Warn("test case validation failed", slog.Any("error", err))
		degrade(&result, "Validation failed", err)
		return result
	}
	outcome := extractors.ParseValidation(text)
	result.ValidationPassed = models.BoolPtr(outcome.Passed)
	result.ValidationAssessment = outcome.OverallAssessment
	result.ValidationIssues = append([]string{}, outcome.CriticalIssues...)
	result.MinorIssues = outcome.MinorIssues

	if outcome.RegenerationNeeded && outcome.RegenerationFeedback != "" {
		p.regenerate(ctx, r, logger, &result, phaseOne, outcome.RegenerationFeedback)
		return result
	}
	result.FinalState = models.StateAccepted
	return result
}

// regenerate runs the single permitted regeneration. The regenerated output is accepted
// without another validation round; on failure the earlier output is kept.
func (p *Pipeline) regenerate(ctx context.Context, r *run, logger *slog.Logger, result *models.AnalysisResult, phaseOne models.PhaseOneResult, feedback string) {
	result.RegenerationAttempted = true
	metrics.ObserveRegeneration()

	augmented := phaseOne
	augmented.RootCause = augmentRootCause(phaseOne.RootCause, feedback)
	augmented.TestCaseNeededReason = "Validation feedback: " + utils.Truncate(feedback, utils.MaxErrorLen)

	gen, err := p.generate(ctx, r, PhaseRegenerate, augmented)
	if err != nil {
		logger.Warn("test case regeneration failed", slog.Any("error", err))
		degrade(result, "Regeneration failed", err)
		return
	}
	result.ApplyGeneration(gen)
	result.FinalState = models.StateAccepted
}

func (p *Pipeline) generate(ctx context.Context, r *run, phase string, phaseOne models.PhaseOneResult) (models.Generation, error) {
	text, err := p.call(ctx, r, phase, p.cfg.GenerateTimeout, buildGenerationPrompt(phaseOne))
	if err != nil {
		return models.Generation{}, err
	}
	return extractors.ParseGeneration(text), nil
}

// call performs one bounded gateway call with its own deadline.
func (p *Pipeline) call(ctx context.Context, r *run, phase string, timeout time.Duration, prompt string) (string, error) {
	if r.calls >= MaxGatewayCalls {
		return "", fmt.Errorf("%s: %w", phase, errCallBudget)
	}
	r.calls++

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := p.gateway.Generate(callCtx, llm.Request{
		Phase:     phase,
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: phaseMaxTokens[phase],
	})
	metrics.ObserveGatewayCall(phase, callOutcome(err))
	if err != nil {
		return "", fmt.Errorf("%s: %w", phase, err)
	}
	return text, nil
}

// failure builds the synthetic result for a record whose classification could not run.
func (p *Pipeline) failure(r *run, err error) models.AnalysisResult {
	msg := utils.ErrorText(err)
	result := models.AnalysisResult{
		TicketID: r.ticketID,
		PhaseOne: models.PhaseOneResult{
			IssueSummary:         "Analysis failed: " + msg,
			RootCause:            "Unable to analyse ticket because the classification phase failed",
			IssueTheme:           "Analysis Failed",
			RootCauseThemeText:   "Analysis Failed",
			TestCaseNeeded:       false,
			TestCaseNeededReason: "Analysis failed before classification completed",
		},
		ValidationIssues: []string{msg},
		FinalState:       models.StateFailed,
		AnalyzedAt:       p.now(),
	}
	result.MarkNotApplicable()
	return result
}

func degrade(result *models.AnalysisResult, what string, err error) {
	result.ValidationPassed = nil
	result.ValidationIssues = append(result.ValidationIssues, utils.Truncate(what+": "+err.Error(), utils.MaxErrorLen))
	result.FinalState = models.StateDegraded
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, llm.ErrTimeout) || utils.KindOf(err) == utils.KindTimeout:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
