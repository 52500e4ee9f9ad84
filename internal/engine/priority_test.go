package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-triage/internal/llm"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

const priorityResponse = `Clear Description:
The customer's warehouse loads fail every night, delaying executive reporting.

AI Theme:
Nightly Warehouse Load Failure

Product Area:
Destinations

Is Blocker:
Yes
Reports cannot be produced.

Is Churn Risk:
Yes
Customer is evaluating a competitor ahead of a $120,000 renewal.

Is Escalation:
No

Is Revenue Impact:
Yes
Renewal at stake.

Priority Score:
Critical
Three signals present.
`

func TestPriorityAnalyzerPopulatesResult(t *testing.T) {
	var seen llm.Request
	gw := llm.GatewayFunc(func(ctx context.Context, req llm.Request) (string, error) {
		seen = req
		return priorityResponse, nil
	})
	record := models.NewConversationRecord("T-7", "", []models.Utterance{
		{Role: models.RoleCustomer, Body: "Loads failing again."},
	}, map[string]string{"Region": "EMEA", "Plan": strings.Repeat("x", 300)})

	got, err := NewPriorityAnalyzer(utils.DiscardLogger(), gw, 0).Analyze(context.Background(), record)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.TicketID != "T-7" || got.PriorityScore != models.PriorityCritical {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.SignalCount() != 3 {
		t.Fatalf("expected 3 signals, got %d", got.SignalCount())
	}
	if got.TicketFields["Region"] != "EMEA" {
		t.Fatalf("expected ticket fields to be carried")
	}
	if got.DealValue != "$120,000" {
		t.Fatalf("expected deal value from signal details, got %q", got.DealValue)
	}
	if got.AnalyzedAt.IsZero() {
		t.Fatalf("expected analysis timestamp")
	}
	if seen.Phase != PhasePriority {
		t.Fatalf("unexpected phase %s", seen.Phase)
	}
	if !strings.Contains(seen.Prompt, "- Region = EMEA") {
		t.Fatalf("expected metadata block in prompt")
	}
	if strings.Contains(seen.Prompt, strings.Repeat("x", 201)) {
		t.Fatalf("expected long field values to be truncated")
	}
}

func TestPriorityAnalyzerReturnsGatewayErrors(t *testing.T) {
	gw := llm.GatewayFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "", llm.ErrProvider
	})
	_, err := NewPriorityAnalyzer(nil, gw, 0).Analyze(context.Background(), testRecord())
	if err == nil || !strings.Contains(err.Error(), "T-100") {
		t.Fatalf("expected wrapped error naming the ticket, got %v", err)
	}
}

func TestPriorityAnalyzerNilGateway(t *testing.T) {
	if _, err := NewPriorityAnalyzer(nil, nil, 0).Analyze(context.Background(), testRecord()); err == nil {
		t.Fatalf("expected error without gateway")
	}
}

func TestExtractDealValue(t *testing.T) {
	cases := []struct {
		fields  map[string]string
		details string
		want    string
	}{
		{fields: map[string]string{DealValueField: "250000"}, details: "$5k", want: "250000"},
		{fields: nil, details: "Revenue Impact: USD 1.5 million expansion", want: "USD 1.5 million"},
		{fields: map[string]string{DealValueField: "  "}, details: "Blocker: pipeline down", want: ""},
	}
	for _, tc := range cases {
		if got := ExtractDealValue(tc.fields, tc.details); got != tc.want {
			t.Fatalf("ExtractDealValue(%v, %q) = %q, want %q", tc.fields, tc.details, got, tc.want)
		}
	}
}
