package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
)

type fakeReportStore struct {
	stored []models.JobReport
	err    error
}

func (f *fakeReportStore) StoreReport(ctx context.Context, report models.JobReport) error {
	f.stored = append(f.stored, report)
	return f.err
}

func analysis(id, rootTheme, issueTheme string, needed bool, at time.Time) models.AnalysisResult {
	return models.AnalysisResult{
		TicketID:   id,
		PhaseOne:   models.PhaseOneResult{RootCauseThemeText: rootTheme, IssueTheme: issueTheme, TestCaseNeeded: needed},
		FinalState: models.StateAccepted,
		AnalyzedAt: at,
	}
}

func TestMinerGroupsThemes(t *testing.T) {
	now := time.Now()
	analyses := []models.AnalysisResult{
		analysis("1", "Slot Reconnect Missing", "Replication Stall", true, now),
		analysis("2", "slot  reconnect missing", "Replication Stall", false, now.Add(time.Minute)),
		analysis("3", "Wrong Credentials", "Auth Failure", false, now),
		{TicketID: "4", FinalState: models.StateFailed, PhaseOne: models.PhaseOneResult{RootCauseThemeText: "Analysis Failed"}},
	}
	failed := false
	analyses[0].ValidationPassed = &failed
	analyses[0].RegenerationAttempted = true

	priorities := []models.PriorityResult{
		{TicketID: "1", AITheme: "Replication stalls", PriorityScore: models.PriorityHigh},
		{TicketID: "3", AITheme: "Login failures", PriorityScore: models.PriorityLow},
		{TicketID: "5", AITheme: "Replication stalls", PriorityScore: models.PriorityHigh},
	}

	report := NewMiner(nil, nil).Mine("job-1", analyses, priorities)

	if report.Analyses != 4 || report.TestCasesNeeded != 1 || report.ValidationFailed != 1 || report.Regenerated != 1 {
		t.Fatalf("unexpected counters %+v", report)
	}
	if report.PriorityBreakdown["High"] != 2 || report.PriorityBreakdown["Low"] != 1 {
		t.Fatalf("unexpected priority breakdown %v", report.PriorityBreakdown)
	}

	var rootCause *models.ThemePattern
	for i := range report.Patterns {
		p := &report.Patterns[i]
		if p.Kind == models.ThemeRootCause && p.Count == 2 {
			rootCause = p
		}
		if p.Theme == "Analysis Failed" {
			t.Fatalf("failed analyses must not contribute themes")
		}
	}
	if rootCause == nil {
		t.Fatalf("expected normalised root cause theme to group two tickets: %+v", report.Patterns)
	}
	if rootCause.TestCaseRatio != 0.5 {
		t.Fatalf("expected ratio 0.5, got %v", rootCause.TestCaseRatio)
	}
	if !rootCause.LastSeen.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected latest timestamp, got %v", rootCause.LastSeen)
	}
}

func TestMinerReportStoresAndToleratesStoreErrors(t *testing.T) {
	store := &fakeReportStore{err: errors.New("disk full")}
	miner := NewMiner(nil, store)

	report, err := miner.Report(context.Background(), models.Job{ID: "job-2"}, nil, nil)
	if err != nil {
		t.Fatalf("store errors should be logged, got %v", err)
	}
	if len(store.stored) != 1 || store.stored[0].JobID != "job-2" {
		t.Fatalf("expected report to be stored, got %+v", store.stored)
	}
	if report.Patterns == nil {
		t.Fatalf("expected empty non-nil patterns")
	}
}

func TestPersisterStore(t *testing.T) {
	var gotKind, gotID string
	p := persistFunc(func(ctx context.Context, kind, id string, record any) error {
		gotKind, gotID = kind, id
		return nil
	})
	if err := PersisterStore(p, "job_report").StoreReport(context.Background(), models.JobReport{JobID: "j"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKind != "job_report" || gotID != "j" {
		t.Fatalf("unexpected persist call %s/%s", gotKind, gotID)
	}
}

type persistFunc func(ctx context.Context, kind, id string, record any) error

func (f persistFunc) Persist(ctx context.Context, kind, id string, record any) error {
	return f(ctx, kind, id, record)
}
