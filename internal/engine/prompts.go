package engine

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

const systemPrompt = "You are a senior QA engineer analysing customer support tickets for a data integration platform. " +
	"Answer strictly in the requested section format."

const conversationLegend = `CONVERSATION FORMAT:
- [CUSTOMER]: messages from the customer who reported the issue
- [AGENT]: public responses from support agents
- [AGENT - INTERNAL]: internal notes such as engineering discussion and root cause analysis`

// maxFieldValueLen bounds each metadata value rendered into a prompt.
const maxFieldValueLen = 200

func buildPhaseOnePrompt(record models.ConversationRecord) string {
	var b strings.Builder
	b.WriteString(conversationLegend)
	b.WriteString("\n\nTicket conversation:\n---\n")
	b.WriteString(record.Text())
	b.WriteString("\n---\n\n")
	b.WriteString(`Analyse the ticket:
1. Describe the issue the customer faced.
2. Identify the root cause. It must be clear and specific, otherwise write "Root cause not identified".
3. Give a concise issue theme (2-4 words) specific to this issue.
4. Give a concise root cause theme (2-4 words) derived from the root cause.
5. Decide whether a functional regression test case is needed.

A test case is NOT needed when the root cause is unclear, when the issue was a user mistake
(configuration error, not following documentation, missing permissions) or a product limitation
(working as designed, unsupported feature). A test case IS needed for any functional or
non-functional defect with a clear root cause that requires a code or logic fix.

Format output EXACTLY as follows:
`)
	section(&b, extractors.LabelIssueDescription, "<issue description>")
	section(&b, extractors.LabelRootCause, "<root cause, or \"Root cause not identified\">")
	section(&b, extractors.LabelIssueTheme, "<issue theme>")
	section(&b, extractors.LabelRootCauseTheme, "<root cause theme, or \"Root Cause Not Identified\">")
	section(&b, extractors.LabelTestCaseNeeded, "<Yes or No>\n<brief reason>")
	return b.String()
}

func buildGenerationPrompt(p models.PhaseOneResult) string {
	var b strings.Builder
	b.WriteString("Design functional test cases that would catch a recurrence of this issue.\n\n")
	fmt.Fprintf(&b, "Issue Summary:\n%s\n\n", p.IssueSummary)
	fmt.Fprintf(&b, "Identified Cause:\n%s\n\n", p.RootCause)
	if p.IssueTheme != "" {
		fmt.Fprintf(&b, "Issue Category: %s\n", p.IssueTheme)
	}
	if p.RootCauseThemeText != "" {
		fmt.Fprintf(&b, "Cause Category: %s\n", p.RootCauseThemeText)
	}
	fmt.Fprintf(&b, `
Rules:
- Test cases must be generic: use "any column", "all tables" rather than names from the ticket.
- When the root cause is external (network, third-party API, source system load), test error
  handling and user communication, never prevention of the external failure.
- Produce between 1 and %d test cases; write "%s: 0" and skip the test case sections when none apply.

OUTPUT FORMAT (all sections required):
`, extractors.MaxTestCases, extractors.LabelNumberOfTestCases)
	section(&b, extractors.LabelRegressionTestNeeded, "<Yes, No or \"N/A - Not applicable\">\n<brief reason>")
	section(&b, extractors.LabelNumberOfTestCases, "<1, 2, 3 ...>")
	fmt.Fprintf(&b, "%s 1:\n%s: <generic title>\n%s: <generic description>\n%s:\n<step 1>\n<step 2>\n...\n%s: <Yes/No>\n\n",
		extractors.LabelTestCase, extractors.LabelTitle, extractors.LabelDescription, extractors.LabelSteps, extractors.LabelRegressionNeeded)
	fmt.Fprintf(&b, "%s 2: (only if needed)\n...\n\n", extractors.LabelTestCase)
	section(&b, extractors.LabelRecommendedSolution, "<approach to address the root cause, or \"N/A - No solution approach identified\">")
	section(&b, extractors.LabelAdditionalScenarios, "<related scenarios worth testing, or \"None identified\">")
	return b.String()
}

func buildValidationPrompt(p models.PhaseOneResult, testCases []models.TestCase) string {
	var b strings.Builder
	b.WriteString("You are a QA validation expert. Check whether the generated test cases are appropriate for the issue.\n\n")
	fmt.Fprintf(&b, "ORIGINAL ISSUE:\n%s\n\nORIGINAL ROOT CAUSE:\n%s\n\nGENERATED TEST CASES:\n", p.IssueSummary, p.RootCause)
	for i, tc := range testCases {
		fmt.Fprintf(&b, "\n#%d\nTitle: %s\nDescription: %s\nSteps: %s\n", i+1, orNA(tc.Title), orNA(tc.Description), orNA(tc.Steps))
	}
	b.WriteString(`
Check relevance to the issue and root cause, completeness, technical correctness and, for external
root causes, that the tests focus on error handling rather than prevention.

Critical issues require regeneration: off-topic tests, tests that do not address the root cause,
impossible steps, attempts to prevent external failures, major coverage gaps.
Minor issues are flagged only: wording, extra edge cases, more specific steps.

OUTPUT FORMAT:
`)
	section(&b, extractors.LabelValidationPassed, "<Yes or No>")
	section(&b, extractors.LabelOverallAssessment, "<brief summary>")
	section(&b, extractors.LabelCriticalIssues, "<one issue per line, or \"None\">")
	section(&b, extractors.LabelMinorIssues, "<one issue per line, or \"None\">")
	section(&b, extractors.LabelRegenerationNeeded, "<Yes or No>")
	section(&b, extractors.LabelRegenerationFeedback, "<specific guidance for regeneration, only when regeneration is needed>")
	return b.String()
}

// augmentRootCause appends validation feedback to a root cause for the regeneration prompt.
func augmentRootCause(rootCause, feedback string) string {
	return fmt.Sprintf("%s\n\n[VALIDATION FEEDBACK - CRITICAL ISSUES TO ADDRESS]:\n%s\n\n"+
		"The previous test case generation had critical issues. The new test cases MUST address the feedback above, "+
		"directly cover the issue and root cause, and for external root causes focus on error handling and communication.",
		rootCause, feedback)
}

func buildPriorityPrompt(record models.ConversationRecord) string {
	var b strings.Builder
	b.WriteString("You are analysing a support ticket to help with quarterly planning prioritisation.\n\n")
	if len(record.Fields) > 0 {
		b.WriteString("TICKET METADATA:\n")
		for _, name := range record.SortedFieldNames() {
			value := record.Fields[name]
			if len(value) > maxFieldValueLen {
				value = utils.Truncate(value, maxFieldValueLen) + "..."
			}
			fmt.Fprintf(&b, "- %s = %s\n", name, value)
		}
		b.WriteString("\n")
	}
	b.WriteString(conversationLegend)
	b.WriteString("\n\nTicket conversation:\n---\n")
	b.WriteString(record.Text())
	b.WriteString("\n---\n\n")
	fmt.Fprintf(&b, `Extract:
1. A clear 2-4 sentence description of the business problem for non-technical readers.
2. A specific theme of 2-5 words.
3. The product area, exactly one of: %s.
4. Priority signals with brief evidence: blocker (work cannot proceed), churn risk (cancel, competitor,
   not renewing), escalation (managers, executives, escalated), revenue impact (enterprise, renewal, deal).
5. A priority score: Critical for 3+ signals or production down or data loss, High for 2 signals or a
   blocker, Medium for 1 signal, Low for none.

Format your response EXACTLY as follows:
`, strings.Join(models.ProductAreas, ", "))
	section(&b, extractors.LabelClearDescription, "<description>")
	section(&b, extractors.LabelAITheme, "<theme>")
	section(&b, extractors.LabelProductArea, "<product area>")
	section(&b, extractors.LabelIsBlocker, "<Yes or No>\n<brief evidence>")
	section(&b, extractors.LabelIsChurnRisk, "<Yes or No>\n<brief evidence>")
	section(&b, extractors.LabelIsEscalation, "<Yes or No>\n<brief evidence>")
	section(&b, extractors.LabelIsRevenueImpact, "<Yes or No>\n<brief evidence>")
	section(&b, extractors.LabelPriorityScore, "<Critical, High, Medium or Low>\n<brief justification>")
	return b.String()
}

func section(b *strings.Builder, label, placeholder string) {
	fmt.Fprintf(b, "%s:\n%s\n\n", label, placeholder)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
