package extractors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Section labels of the classification response.
const (
	LabelIssueDescription = "Issue Description"
	LabelRootCause        = "Root Cause"
	LabelIssueTheme       = "Issue Theme"
	LabelRootCauseTheme   = "Root Cause Theme"
	LabelTestCaseNeeded   = "Test Case Needed"
)

// Section labels of the generation response.
const (
	LabelRegressionTestNeeded = "Regression Test Needed"
	LabelNumberOfTestCases    = "Number of Test Cases"
	LabelTestCase             = "Test Case"
	LabelTestCaseDescription  = "Test Case Description"
	LabelTestCaseSteps        = "Test Case Steps"
	LabelRecommendedSolution  = "Recommended Solution Approach"
	LabelAdditionalScenarios  = "Additional Test Scenarios"
	LabelTitle                = "Title"
	LabelDescription          = "Description"
	LabelSteps                = "Steps"
	LabelRegressionNeeded     = "Regression Needed"
)

// Section labels of the validation response.
const (
	LabelValidationPassed     = "Validation Passed"
	LabelOverallAssessment    = "Overall Assessment"
	LabelCriticalIssues       = "Critical Issues"
	LabelMinorIssues          = "Minor Issues"
	LabelRegenerationNeeded   = "Regeneration Needed"
	LabelRegenerationFeedback = "Regeneration Feedback"
)

// MaxTestCases bounds how many numbered test-case blocks are read from one response.
const MaxTestCases = 5

const (
	legacyLabelRegressionTest = "Regression Test"
	defaultTestCaseCount      = 1
)

var (
	phaseOneLabels = []string{
		LabelIssueDescription, LabelRootCause, LabelIssueTheme, LabelRootCauseTheme, LabelTestCaseNeeded,
	}
	generationLabels = func() []string {
		labels := []string{LabelRegressionTestNeeded, LabelNumberOfTestCases}
		for i := 1; i <= MaxTestCases; i++ {
			labels = append(labels, ordinal(LabelTestCase, i))
		}
		return append(labels, LabelTestCaseDescription, LabelTestCaseSteps, LabelRecommendedSolution, LabelAdditionalScenarios)
	}()
	testCaseTerminals = []string{LabelRecommendedSolution, LabelAdditionalScenarios}
	testCaseLabels    = []string{LabelTitle, LabelDescription, LabelSteps, LabelRegressionNeeded}
	validationLabels  = []string{
		LabelValidationPassed, LabelOverallAssessment, LabelCriticalIssues,
		LabelMinorIssues, LabelRegenerationNeeded, LabelRegenerationFeedback,
	}

	countPattern = regexp.MustCompile(`\d+`)
)

// ParsePhaseOne extracts the classification fields. The returned TestCaseNeeded is the
// model's own answer, before any heuristic override.
func ParsePhaseOne(text string) models.PhaseOneResult {
	needed := Section(text, LabelTestCaseNeeded, phaseOneLabels)
	return models.PhaseOneResult{
		IssueSummary:         Section(text, LabelIssueDescription, phaseOneLabels),
		RootCause:            Section(text, LabelRootCause, phaseOneLabels),
		IssueTheme:           Section(text, LabelIssueTheme, phaseOneLabels),
		RootCauseThemeText:   Section(text, LabelRootCauseTheme, phaseOneLabels),
		TestCaseNeeded:       IsYes(needed),
		TestCaseNeededReason: needed,
	}
}

// ParseGeneration extracts the generated test cases and the surrounding solution fields.
// Responses in the older single-test-case layout are accepted as one test case.
func ParseGeneration(text string) models.Generation {
	regression := FirstSection(text, generationLabels,
		LabelRegressionTestNeeded, LabelRegressionNeeded, legacyLabelRegressionTest)

	gen := models.Generation{
		TestCases:                  []models.TestCase{},
		RegressionTestNeeded:       NullableYes(regression),
		RegressionTestNeededReason: regression,
		RecommendedSolution:        Section(text, LabelRecommendedSolution, generationLabels),
		AdditionalTestScenarios:    Section(text, LabelAdditionalScenarios, generationLabels),
	}

	count := testCaseCount(Section(text, LabelNumberOfTestCases, generationLabels))
	for i := 1; i <= count; i++ {
		block, ok := NumberedBlock(text, LabelTestCase, i, MaxTestCases, testCaseTerminals)
		if !ok {
			continue
		}
		gen.TestCases = append(gen.TestCases, parseTestCase(block))
	}

	if len(gen.TestCases) == 0 {
		desc := Section(text, LabelTestCaseDescription, generationLabels)
		steps := Section(text, LabelTestCaseSteps, generationLabels)
		if desc != "" || steps != "" {
			gen.TestCases = append(gen.TestCases, models.TestCase{
				Title:            "Test Case",
				Description:      desc,
				Steps:            steps,
				RegressionNeeded: gen.RegressionTestNeeded,
				RegressionReason: regression,
			})
		}
	}
	return gen
}

// ParseValidation extracts the validation verdict. When regeneration is requested without
// feedback, feedback is synthesised from the critical issues.
func ParseValidation(text string) models.ValidationOutcome {
	out := models.ValidationOutcome{
		Passed:             IsYes(Section(text, LabelValidationPassed, validationLabels)),
		OverallAssessment:  Section(text, LabelOverallAssessment, validationLabels),
		CriticalIssues:     List(Section(text, LabelCriticalIssues, validationLabels)),
		MinorIssues:        List(Section(text, LabelMinorIssues, validationLabels)),
		RegenerationNeeded: IsYes(Section(text, LabelRegenerationNeeded, validationLabels)),
	}

	if out.RegenerationNeeded {
		out.RegenerationFeedback = Section(text, LabelRegenerationFeedback, validationLabels)
		if out.RegenerationFeedback == "" {
			out.RegenerationFeedback = synthesizeFeedback(out.CriticalIssues)
		}
	}

	if out.OverallAssessment == "" {
		switch {
		case out.Passed:
			out.OverallAssessment = "Validation passed"
		case len(out.CriticalIssues) > 0:
			out.OverallAssessment = fmt.Sprintf("Critical issues found: %d issue(s)", len(out.CriticalIssues))
		case len(out.MinorIssues) > 0:
			out.OverallAssessment = fmt.Sprintf("Minor issues found: %d issue(s)", len(out.MinorIssues))
		default:
			out.OverallAssessment = "Validation completed"
		}
	}
	return out
}

func parseTestCase(block string) models.TestCase {
	regression := Section(block, LabelRegressionNeeded, testCaseLabels)
	return models.TestCase{
		Title:            Section(block, LabelTitle, testCaseLabels),
		Description:      Section(block, LabelDescription, testCaseLabels),
		Steps:            Section(block, LabelSteps, testCaseLabels),
		RegressionNeeded: NullableYes(regression),
		RegressionReason: regression,
	}
}

func testCaseCount(s string) int {
	match := countPattern.FindString(s)
	if match == "" {
		return defaultTestCaseCount
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return defaultTestCaseCount
	}
	if n > MaxTestCases {
		return MaxTestCases
	}
	return n
}

func synthesizeFeedback(critical []string) string {
	if len(critical) == 0 {
		return "Test cases need to be regenerated to better address the issue and root cause."
	}
	if len(critical) > 3 {
		critical = critical[:3]
	}
	return "Critical issues found: " + strings.Join(critical, "; ")
}
