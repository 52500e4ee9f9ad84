package extractors

import (
	"strings"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Section labels of the priority response.
const (
	LabelClearDescription = "Clear Description"
	LabelAITheme          = "AI Theme"
	LabelProductArea      = "Product Area"
	LabelIsBlocker        = "Is Blocker"
	LabelIsChurnRisk      = "Is Churn Risk"
	LabelIsEscalation     = "Is Escalation"
	LabelIsRevenueImpact  = "Is Revenue Impact"
	LabelPriorityScore    = "Priority Score"
)

var priorityLabels = []string{
	LabelClearDescription, LabelAITheme, LabelProductArea, LabelIsBlocker,
	LabelIsChurnRisk, LabelIsEscalation, LabelIsRevenueImpact, LabelPriorityScore,
}

// ParsePriority extracts the priority signals. TicketID, TicketFields, DealValue and
// AnalyzedAt are left for the caller.
func ParsePriority(text string) models.PriorityResult {
	result := models.PriorityResult{
		ClearDescription: Section(text, LabelClearDescription, priorityLabels),
		AITheme:          Section(text, LabelAITheme, priorityLabels),
		ProductArea:      NormalizeProductArea(Section(text, LabelProductArea, priorityLabels)),
	}

	var details []string
	signal := func(label, name string) bool {
		yes, evidence := yesWithDetails(Section(text, label, priorityLabels))
		if yes && evidence != "" {
			details = append(details, name+": "+evidence)
		}
		return yes
	}
	result.IsBlocker = signal(LabelIsBlocker, "Blocker")
	result.IsChurnRisk = signal(LabelIsChurnRisk, "Churn Risk")
	result.IsEscalation = signal(LabelIsEscalation, "Escalation")
	result.IsRevenueImpact = signal(LabelIsRevenueImpact, "Revenue Impact")

	head, justification := FirstLine(Section(text, LabelPriorityScore, priorityLabels))
	result.PriorityScore = scoreFromText(head)
	if justification != "" {
		details = append(details, "Priority: "+justification)
	}
	result.SignalDetails = strings.Join(details, " | ")
	return result
}

// NormalizeProductArea maps free text onto one of models.ProductAreas, falling back to Other.
func NormalizeProductArea(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Other"
	}
	lower := strings.ToLower(s)
	for _, area := range models.ProductAreas {
		if strings.EqualFold(area, s) {
			return area
		}
	}
	for _, area := range models.ProductAreas {
		a := strings.ToLower(area)
		if strings.Contains(lower, a) || strings.Contains(a, lower) {
			return area
		}
	}
	return "Other"
}

func yesWithDetails(s string) (bool, string) {
	head, rest := FirstLine(s)
	return IsYes(head), rest
}

func scoreFromText(s string) models.PriorityScore {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "critical"):
		return models.PriorityCritical
	case strings.Contains(lower, "high"):
		return models.PriorityHigh
	case strings.Contains(lower, "low"):
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}
