package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-triage/internal/api"
	"github.com/miradorstack/mirador-triage/internal/bulk"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/repo"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

type fakeFetcher struct {
	records map[string]models.ConversationRecord
	err     error
	calls   int
}

func (f *fakeFetcher) FetchRecord(ctx context.Context, id string) (models.ConversationRecord, error) {
	f.calls++
	if f.err != nil {
		return models.ConversationRecord{}, f.err
	}
	return f.records[id], nil
}

type fakeAnalyzer struct {
	seen []models.ConversationRecord
}

func (f *fakeAnalyzer) Run(ctx context.Context, record models.ConversationRecord) models.AnalysisResult {
	f.seen = append(f.seen, record)
	return models.AnalysisResult{
		TicketID:     record.TicketID,
		PhaseOne:     models.PhaseOneResult{IssueSummary: "sync stalls", TestCaseNeeded: true},
		FinalState:   models.StateAccepted,
		GatewayCalls: 3,
	}
}

type fakePriority struct {
	err error
}

func (f *fakePriority) Analyze(ctx context.Context, record models.ConversationRecord) (models.PriorityResult, error) {
	if f.err != nil {
		return models.PriorityResult{}, f.err
	}
	return models.PriorityResult{TicketID: record.TicketID, PriorityScore: models.PriorityHigh, IsBlocker: true}, nil
}

type fakeJobs struct {
	submitted []string
	opts      models.BulkOptions
	submitErr error
	jobs      map[string]models.Job
	cancelled map[string]bool
}

func (f *fakeJobs) Submit(ctx context.Context, ids []string, opts models.BulkOptions) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = ids
	f.opts = opts
	return "job-1", nil
}

func (f *fakeJobs) Status(ctx context.Context, jobID string) (models.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return models.Job{}, bulk.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Cancel(jobID string) bool {
	return f.cancelled[jobID]
}

type memStore struct {
	mu      sync.Mutex
	records map[string][]byte
	err     error
}

func newMemStore() *memStore {
	return &memStore{records: map[string][]byte{}}
}

func (m *memStore) Persist(ctx context.Context, kind, id string, record any) error {
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[kind+"/"+id] = data
	return nil
}

func (m *memStore) Load(ctx context.Context, kind, id string, out any) (bool, error) {
	m.mu.Lock()
	data, ok := m.records[kind+"/"+id]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func conversation(id string) models.ConversationRecord {
	return models.NewConversationRecord(id, "Sync stalls", []models.Utterance{
		{Role: models.RoleCustomer, Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Body: "Pipeline stalls every night."},
		{Role: models.RoleAgent, Timestamp: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), Body: "Looking into it."},
	}, nil)
}

func mustStruct(t *testing.T, v any) *structpb.Struct {
	t.Helper()
	s, err := api.ToStruct(v)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	return s
}

func decode[T any](t *testing.T, s *structpb.Struct) T {
	t.Helper()
	var out T
	if err := api.FromStruct(s, &out); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	return out
}

func TestAnalyzeFetchesAndPersists(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string]models.ConversationRecord{"T-1": conversation("T-1")}}
	analyzer := &fakeAnalyzer{}
	store := newMemStore()
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{
		Fetcher:  fetcher,
		Analyzer: analyzer,
		Priority: &fakePriority{},
		Store:    store,
	})

	resp, err := svc.Analyze(context.Background(), api.RunPipelineRequest{TicketID: "T-1", IncludePriority: true})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if resp.Analysis.FinalState != models.StateAccepted {
		t.Fatalf("unexpected state %s", resp.Analysis.FinalState)
	}
	if resp.Priority == nil || resp.Priority.PriorityScore != models.PriorityHigh {
		t.Fatalf("expected High priority, got %+v", resp.Priority)
	}
	if resp.PriorityError != "" {
		t.Fatalf("unexpected priority error %q", resp.PriorityError)
	}

	var stored models.AnalysisResult
	if found, _ := store.Load(context.Background(), repo.KindAnalysis, "T-1", &stored); !found || stored.TicketID != "T-1" {
		t.Fatalf("analysis not persisted: found=%v %+v", found, stored)
	}
	var priority models.PriorityResult
	if found, _ := store.Load(context.Background(), repo.KindPriority, "T-1", &priority); !found {
		t.Fatalf("priority not persisted")
	}
	if svc.latencies.Count() != 1 {
		t.Fatalf("expected one latency sample, got %d", svc.latencies.Count())
	}
}

func TestAnalyzeInlineConversationSkipsFetcher(t *testing.T) {
	fetcher := &fakeFetcher{}
	analyzer := &fakeAnalyzer{}
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{Fetcher: fetcher, Analyzer: analyzer})

	record := conversation("inline-1")
	resp, err := svc.Analyze(context.Background(), api.RunPipelineRequest{Conversation: &record})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetcher should not be called for inline conversations")
	}
	if resp.Analysis.TicketID != "inline-1" || resp.Priority != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(analyzer.seen) != 1 || len(analyzer.seen[0].Utterances) != 2 {
		t.Fatalf("analyzer did not receive the conversation: %+v", analyzer.seen)
	}
}

func TestAnalyzePriorityFailureIsReported(t *testing.T) {
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{
		Fetcher:  &fakeFetcher{records: map[string]models.ConversationRecord{"T-2": conversation("T-2")}},
		Analyzer: &fakeAnalyzer{},
		Priority: &fakePriority{err: errors.New("gateway down")},
	})

	resp, err := svc.Analyze(context.Background(), api.RunPipelineRequest{TicketID: "T-2", IncludePriority: true})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if resp.Priority != nil || resp.PriorityError == "" {
		t.Fatalf("expected priority error, got %+v", resp)
	}
}

func TestAnalyzeStoreFailureDoesNotFailRequest(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk full")
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{
		Fetcher:  &fakeFetcher{records: map[string]models.ConversationRecord{"T-3": conversation("T-3")}},
		Analyzer: &fakeAnalyzer{},
		Store:    store,
	})
	if _, err := svc.Analyze(context.Background(), api.RunPipelineRequest{TicketID: "T-3"}); err != nil {
		t.Fatalf("persist failure should be logged only, got %v", err)
	}
}

func TestRunPipelineStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		deps Dependencies
		req  api.RunPipelineRequest
		want codes.Code
	}{
		{
			name: "missing source",
			deps: Dependencies{Analyzer: &fakeAnalyzer{}},
			req:  api.RunPipelineRequest{},
			want: codes.InvalidArgument,
		},
		{
			name: "empty ticket",
			deps: Dependencies{Analyzer: &fakeAnalyzer{}, Fetcher: &fakeFetcher{records: map[string]models.ConversationRecord{}}},
			req:  api.RunPipelineRequest{TicketID: "T-9"},
			want: codes.InvalidArgument,
		},
		{
			name: "ticket not found",
			deps: Dependencies{Analyzer: &fakeAnalyzer{}, Fetcher: &fakeFetcher{err: &repo.FetchError{Status: 404, Message: "RecordNotFound"}}},
			req:  api.RunPipelineRequest{TicketID: "T-9"},
			want: codes.NotFound,
		},
		{
			name: "malformed ticket id",
			deps: Dependencies{Analyzer: &fakeAnalyzer{}, Fetcher: &fakeFetcher{err: fmt.Errorf("%w: %q", repo.ErrInvalidTicketID, "../x")}},
			req:  api.RunPipelineRequest{TicketID: "../x"},
			want: codes.InvalidArgument,
		},
		{
			name: "ticket source error",
			deps: Dependencies{Analyzer: &fakeAnalyzer{}, Fetcher: &fakeFetcher{err: &repo.FetchError{Status: 500, Message: "boom"}}},
			req:  api.RunPipelineRequest{TicketID: "T-9"},
			want: codes.Internal,
		},
		{
			name: "no fetcher",
			deps: Dependencies{Analyzer: &fakeAnalyzer{}},
			req:  api.RunPipelineRequest{TicketID: "T-9"},
			want: codes.FailedPrecondition,
		},
		{
			name: "no analyzer",
			deps: Dependencies{},
			req:  api.RunPipelineRequest{TicketID: "T-9"},
			want: codes.FailedPrecondition,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewTriageService(utils.DiscardLogger(), tc.deps)
			_, err := svc.RunPipeline(context.Background(), mustStruct(t, tc.req))
			if status.Code(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestRunPipelineRoundTrip(t *testing.T) {
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{
		Fetcher:  &fakeFetcher{records: map[string]models.ConversationRecord{"T-1": conversation("T-1")}},
		Analyzer: &fakeAnalyzer{},
	})
	out, err := svc.RunPipeline(context.Background(), mustStruct(t, api.RunPipelineRequest{TicketID: "T-1"}))
	if err != nil {
		t.Fatalf("RunPipeline returned error: %v", err)
	}
	resp := decode[api.RunPipelineResponse](t, out)
	if resp.Analysis.TicketID != "T-1" || resp.Analysis.GatewayCalls != 3 || !resp.Analysis.PhaseOne.TestCaseNeeded {
		t.Fatalf("unexpected response %+v", resp.Analysis)
	}
}

func TestSubmitBulkJobDefaultsAndErrors(t *testing.T) {
	jobs := &fakeJobs{}
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{Jobs: jobs})

	out, err := svc.SubmitBulkJob(context.Background(), mustStruct(t, map[string]any{"ticket_ids": []string{"1", "2"}}))
	if err != nil {
		t.Fatalf("SubmitBulkJob returned error: %v", err)
	}
	if got := decode[api.SubmitBulkJobResponse](t, out); got.JobID != "job-1" {
		t.Fatalf("unexpected job id %q", got.JobID)
	}
	if !jobs.opts.EnableTestCases || !jobs.opts.EnablePriority {
		t.Fatalf("omitted kinds should default to enabled, got %+v", jobs.opts)
	}
	if len(jobs.submitted) != 2 {
		t.Fatalf("unexpected submitted ids %v", jobs.submitted)
	}

	jobs.submitErr = bulk.ErrNoAnalysisEnabled
	_, err = svc.SubmitBulkJob(context.Background(), mustStruct(t, map[string]any{
		"ticket_ids": []string{"1"}, "enable_test_cases": false, "enable_priority": false,
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	bare := NewTriageService(utils.DiscardLogger(), Dependencies{})
	if _, err := bare.SubmitBulkJob(context.Background(), mustStruct(t, map[string]any{"ticket_ids": []string{"1"}})); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestJobStatusAndCancel(t *testing.T) {
	jobs := &fakeJobs{
		jobs:      map[string]models.Job{"job-1": {ID: "job-1", Status: models.JobRunning, TotalItems: 3, ProcessedCount: 1}},
		cancelled: map[string]bool{"job-1": true},
	}
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{Jobs: jobs})

	out, err := svc.GetJobStatus(context.Background(), mustStruct(t, api.JobRequest{JobID: "job-1"}))
	if err != nil {
		t.Fatalf("GetJobStatus returned error: %v", err)
	}
	if job := decode[models.Job](t, out); job.Status != models.JobRunning || job.ProcessedCount != 1 {
		t.Fatalf("unexpected job %+v", job)
	}

	if _, err := svc.GetJobStatus(context.Background(), mustStruct(t, api.JobRequest{JobID: "missing"})); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := svc.GetJobStatus(context.Background(), mustStruct(t, api.JobRequest{})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	out, err = svc.CancelJob(context.Background(), mustStruct(t, api.JobRequest{JobID: "job-1"}))
	if err != nil {
		t.Fatalf("CancelJob returned error: %v", err)
	}
	if got := decode[api.CancelJobResponse](t, out); !got.Cancelled {
		t.Fatalf("expected cancelled=true")
	}
	out, err = svc.CancelJob(context.Background(), mustStruct(t, api.JobRequest{JobID: "job-2"}))
	if err != nil {
		t.Fatalf("CancelJob returned error: %v", err)
	}
	if got := decode[api.CancelJobResponse](t, out); got.Cancelled {
		t.Fatalf("expected cancelled=false for an inactive job")
	}
}

func TestGetJobReport(t *testing.T) {
	store := newMemStore()
	report := models.JobReport{JobID: "job-1", Analyses: 2, PriorityBreakdown: map[string]int{"High": 1}}
	if err := store.Persist(context.Background(), repo.KindJobReport, "job-1", report); err != nil {
		t.Fatalf("seed report: %v", err)
	}
	jobs := &fakeJobs{jobs: map[string]models.Job{
		"job-1": {ID: "job-1", Status: models.JobCompleted},
		"job-2": {ID: "job-2", Status: models.JobRunning},
		"job-3": {ID: "job-3", Status: models.JobCancelled},
	}}
	svc := NewTriageService(utils.DiscardLogger(), Dependencies{Jobs: jobs, Store: store})

	out, err := svc.GetJobReport(context.Background(), mustStruct(t, api.JobRequest{JobID: "job-1"}))
	if err != nil {
		t.Fatalf("GetJobReport returned error: %v", err)
	}
	if got := decode[models.JobReport](t, out); got.Analyses != 2 || got.PriorityBreakdown["High"] != 1 {
		t.Fatalf("unexpected report %+v", got)
	}

	checks := map[string]codes.Code{
		"job-2":   codes.FailedPrecondition,
		"job-3":   codes.NotFound,
		"missing": codes.NotFound,
	}
	for id, want := range checks {
		if _, err := svc.GetJobReport(context.Background(), mustStruct(t, api.JobRequest{JobID: id})); status.Code(err) != want {
			t.Fatalf("%s: expected %s, got %v", id, want, err)
		}
	}
}
