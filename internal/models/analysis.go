package models

import "time"

// NotApplicable is written into every test-case text field when no test case is needed.
const NotApplicable = "N/A - Test case not needed"

// PipelineState enumerates the analysis pipeline states.
type PipelineState string

const (
	StateClassifying  PipelineState = "classifying"
	StateNotNeeded    PipelineState = "not_needed"
	StateGenerating   PipelineState = "generating"
	StateValidating   PipelineState = "validating"
	StateRegenerating PipelineState = "regenerating"
	StateAccepted     PipelineState = "accepted"
	// StateDegraded marks a result whose generation or validation phase failed; the
	// best partial output is kept.
	StateDegraded PipelineState = "degraded"
	StateFailed   PipelineState = "failed"
)

// Terminal reports whether the pipeline stops in this state.
func (s PipelineState) Terminal() bool {
	return s == StateNotNeeded || s == StateAccepted || s == StateDegraded || s == StateFailed
}

// PhaseOneResult is the classification output for one conversation.
type PhaseOneResult struct {
	IssueSummary         string `json:"issue_summary"`
	RootCause            string `json:"root_cause"`
	IssueTheme           string `json:"issue_theme"`
	RootCauseThemeText   string `json:"root_cause_theme"`
	TestCaseNeeded       bool   `json:"test_case_needed"`
	TestCaseNeededReason string `json:"test_case_needed_reason"`
	// ClassifierRule names the heuristic rule that overrode the model's answer, if any.
	ClassifierRule string `json:"classifier_rule,omitempty"`
}

// TestCase is a single generated regression test.
type TestCase struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Steps            string `json:"steps"`
	RegressionNeeded *bool  `json:"regression_needed"`
	RegressionReason string `json:"regression_reason"`
}

// Generation is the parsed output of a test-case generation call.
type Generation struct {
	TestCases                  []TestCase
	RegressionTestNeeded       *bool
	RegressionTestNeededReason string
	RecommendedSolution        string
	AdditionalTestScenarios    string
}

// ValidationOutcome is the parsed verdict of the validation phase. It is never persisted.
type ValidationOutcome struct {
	Passed               bool
	OverallAssessment    string
	CriticalIssues       []string
	MinorIssues          []string
	RegenerationNeeded   bool
	RegenerationFeedback string
}

// AnalysisResult is the terminal artifact of the analysis pipeline.
type AnalysisResult struct {
	TicketID string         `json:"ticket_id"`
	PhaseOne PhaseOneResult `json:"phase_one"`

	TestCases                  []TestCase `json:"test_cases"`
	RegressionTestNeeded       *bool      `json:"regression_test_needed"`
	RegressionTestNeededReason string     `json:"regression_test_needed_reason"`
	TestCaseDescription        string     `json:"test_case_description"`
	TestCaseSteps              string     `json:"test_case_steps"`
	RecommendedSolution        string     `json:"recommended_solution"`
	AdditionalTestScenarios    string     `json:"additional_test_scenarios"`

	ValidationPassed      *bool    `json:"validation_passed"`
	ValidationAssessment  string   `json:"validation_assessment,omitempty"`
	ValidationIssues      []string `json:"validation_issues"`
	MinorIssues           []string `json:"minor_issues,omitempty"`
	RegenerationAttempted bool     `json:"regeneration_attempted"`

	FinalState   PipelineState `json:"final_state"`
	GatewayCalls int           `json:"gateway_calls"`
	AnalyzedAt   time.Time     `json:"analyzed_at"`
}

// ApplyGeneration copies a generation's fields onto the result, including the legacy
// single-test-case summary fields taken from the first test case.
func (r *AnalysisResult) ApplyGeneration(g Generation) {
	r.TestCases = append([]TestCase(nil), g.TestCases...)
	r.RegressionTestNeeded = g.RegressionTestNeeded
	r.RegressionTestNeededReason = g.RegressionTestNeededReason
	r.RecommendedSolution = g.RecommendedSolution
	r.AdditionalTestScenarios = g.AdditionalTestScenarios
	r.TestCaseDescription = ""
	r.TestCaseSteps = ""
	if len(g.TestCases) > 0 {
		r.TestCaseDescription = g.TestCases[0].Description
		r.TestCaseSteps = g.TestCases[0].Steps
	}
}

// MarkNotApplicable fills every test-case field with the NotApplicable sentinel.
func (r *AnalysisResult) MarkNotApplicable() {
	r.TestCases = []TestCase{}
	r.RegressionTestNeeded = nil
	r.RegressionTestNeededReason = NotApplicable
	r.TestCaseDescription = NotApplicable
	r.TestCaseSteps = NotApplicable
	r.RecommendedSolution = NotApplicable
	r.AdditionalTestScenarios = NotApplicable
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
