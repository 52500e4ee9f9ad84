package models

import "time"

// ProductAreas lists the product areas a priority analysis may map a ticket to.
var ProductAreas = []string{
	"Connectors",
	"Pipelines",
	"Destinations",
	"Transforms",
	"Activation",
	"Platform",
	"Performance",
	"Other",
}

// PriorityScore captures planning urgency.
type PriorityScore string

const (
	PriorityCritical PriorityScore = "Critical"
	PriorityHigh     PriorityScore = "High"
	PriorityMedium   PriorityScore = "Medium"
	PriorityLow      PriorityScore = "Low"
)

// PriorityResult is the output of the priority analysis pipeline.
type PriorityResult struct {
	TicketID         string            `json:"ticket_id"`
	ClearDescription string            `json:"clear_description"`
	AITheme          string            `json:"ai_theme"`
	ProductArea      string            `json:"product_area"`
	IsBlocker        bool              `json:"is_blocker"`
	IsChurnRisk      bool              `json:"is_churn_risk"`
	IsEscalation     bool              `json:"is_escalation"`
	IsRevenueImpact  bool              `json:"is_revenue_impact"`
	SignalDetails    string            `json:"signal_details"`
	PriorityScore    PriorityScore     `json:"priority_score"`
	TicketFields     map[string]string `json:"ticket_fields,omitempty"`
	DealValue        string            `json:"deal_value,omitempty"`
	AnalyzedAt       time.Time         `json:"analyzed_at"`
}

// SignalCount returns how many priority signals were detected.
func (p PriorityResult) SignalCount() int {
	n := 0
	for _, s := range []bool{p.IsBlocker, p.IsChurnRisk, p.IsEscalation, p.IsRevenueImpact} {
		if s {
			n++
		}
	}
	return n
}
