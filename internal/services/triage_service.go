package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
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

var (
	// ErrInvalidRequest marks a malformed request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotConfigured marks a call whose collaborator was not wired.
	ErrNotConfigured = errors.New("not configured")
	// ErrReportPending is returned while a job has not produced its report yet.
	ErrReportPending = errors.New("job report not available yet")
)

// RecordFetcher loads ticket conversations.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, id string) (models.ConversationRecord, error)
}

// Analyzer runs the test-case analysis pipeline.
type Analyzer interface {
	Run(ctx context.Context, record models.ConversationRecord) models.AnalysisResult
}

// PriorityAnalyzer runs the planning-signal analysis.
type PriorityAnalyzer interface {
	Analyze(ctx context.Context, record models.ConversationRecord) (models.PriorityResult, error)
}

// JobRunner manages bulk jobs.
type JobRunner interface {
	Submit(ctx context.Context, ids []string, opts models.BulkOptions) (string, error)
	Status(ctx context.Context, jobID string) (models.Job, error)
	Cancel(jobID string) bool
}

// ResultStore persists and loads analysis documents.
type ResultStore interface {
	Persist(ctx context.Context, kind, id string, record any) error
	Load(ctx context.Context, kind, id string, out any) (bool, error)
}

// Dependencies groups the collaborators of TriageService. Any may be nil; the matching
// operations then fail with FailedPrecondition.
type Dependencies struct {
	Fetcher  RecordFetcher
	Analyzer Analyzer
	Priority PriorityAnalyzer
	Jobs     JobRunner
	Store    ResultStore
}

// TriageService implements the TriageEngine gRPC service.
type TriageService struct {
	logger    *slog.Logger
	deps      Dependencies
	latencies *utils.LatencyTracker
}

var _ api.TriageEngineServer = (*TriageService)(nil)

// NewTriageService constructs the service facade.
func NewTriageService(logger *slog.Logger, deps Dependencies) *TriageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageService{
		logger:    logger,
		deps:      deps,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs the analysis pipeline, and optionally the priority pipeline, for one ticket or
// inline conversation. Results are persisted when a store is configured.
func (s *TriageService) Analyze(ctx context.Context, req api.RunPipelineRequest) (api.RunPipelineResponse, error) {
	if err := req.Validate(); err != nil {
		return api.RunPipelineResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if s.deps.Analyzer == nil {
		return api.RunPipelineResponse{}, fmt.Errorf("analysis pipeline %w", ErrNotConfigured)
	}

	var record models.ConversationRecord
	if req.Conversation != nil {
		record = models.NewConversationRecord(req.Conversation.TicketID, req.Conversation.Subject, req.Conversation.Utterances, req.Conversation.Fields)
	} else {
		if s.deps.Fetcher == nil {
			return api.RunPipelineResponse{}, fmt.Errorf("ticket source %w", ErrNotConfigured)
		}
		fetched, err := s.deps.Fetcher.FetchRecord(ctx, req.TicketID)
		if err != nil {
			return api.RunPipelineResponse{}, err
		}
		if fetched.IsEmpty() {
			return api.RunPipelineResponse{}, fmt.Errorf("%w: no conversation found for ticket %s", ErrInvalidRequest, req.TicketID)
		}
		record = fetched
	}

	start := time.Now()
	result := s.deps.Analyzer.Run(ctx, record)
	s.observeLatency(time.Since(start))
	s.persist(ctx, repo.KindAnalysis, record.TicketID, result)

	resp := api.RunPipelineResponse{Analysis: result}
	if req.IncludePriority {
		if s.deps.Priority == nil {
			resp.PriorityError = "priority pipeline not configured"
		} else if priority, err := s.deps.Priority.Analyze(ctx, record); err != nil {
			s.logger.Warn("priority analysis failed", slog.String("ticket_id", record.TicketID), slog.Any("error", err))
			resp.PriorityError = utils.ErrorText(err)
		} else {
			s.persist(ctx, repo.KindPriority, record.TicketID, priority)
			resp.Priority = &priority
		}
	}
	return resp, nil
}

// Report returns the stored theme report of a job.
func (s *TriageService) Report(ctx context.Context, jobID string) (models.JobReport, error) {
	if s.deps.Store == nil {
		return models.JobReport{}, fmt.Errorf("result store %w", ErrNotConfigured)
	}
	var report models.JobReport
	found, err := s.deps.Store.Load(ctx, repo.KindJobReport, jobID, &report)
	if err != nil {
		return models.JobReport{}, err
	}
	if found {
		return report, nil
	}
	if s.deps.Jobs != nil {
		job, err := s.deps.Jobs.Status(ctx, jobID)
		if err != nil {
			return models.JobReport{}, err
		}
		if !job.Status.Terminal() {
			return models.JobReport{}, ErrReportPending
		}
	}
	return models.JobReport{}, bulk.ErrJobNotFound
}

// RunPipeline implements api.TriageEngineServer.
func (s *TriageService) RunPipeline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.RunPipelineRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("RunPipeline called", slog.String("ticket_id", req.TicketID), slog.Bool("inline", req.Conversation != nil))

	resp, err := s.Analyze(ctx, req)
	if err != nil {
		return nil, s.toStatus("run pipeline", err)
	}
	return respond(resp)
}

// SubmitBulkJob implements api.TriageEngineServer.
func (s *TriageService) SubmitBulkJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.SubmitBulkJobRequest
	if err := api.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.deps.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "bulk orchestrator not configured")
	}
	jobID, err := s.deps.Jobs.Submit(ctx, req.TicketIDs, req.Options())
	if err != nil {
		return nil, s.toStatus("submit bulk job", err)
	}
	return respond(api.SubmitBulkJobResponse{JobID: jobID})
}

// GetJobStatus implements api.TriageEngineServer.
func (s *TriageService) GetJobStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeJobRequest(in)
	if err != nil {
		return nil, err
	}
	if s.deps.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "bulk orchestrator not configured")
	}
	job, err := s.deps.Jobs.Status(ctx, req.JobID)
	if err != nil {
		return nil, s.toStatus("job status", err)
	}
	return respond(job)
}

// CancelJob implements api.TriageEngineServer.
func (s *TriageService) CancelJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeJobRequest(in)
	if err != nil {
		return nil, err
	}
	if s.deps.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "bulk orchestrator not configured")
	}
	return respond(api.CancelJobResponse{JobID: req.JobID, Cancelled: s.deps.Jobs.Cancel(req.JobID)})
}

// GetJobReport implements api.TriageEngineServer.
func (s *TriageService) GetJobReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeJobRequest(in)
	if err != nil {
		return nil, err
	}
	report, err := s.Report(ctx, req.JobID)
	if err != nil {
		return nil, s.toStatus("job report", err)
	}
	return respond(report)
}

// LatencyP95 returns the current p95 analysis latency.
func (s *TriageService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *TriageService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func (s *TriageService) persist(ctx context.Context, kind, id string, record any) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Persist(ctx, kind, id, record); err != nil {
		s.logger.Warn("persist result failed", slog.String("kind", kind), slog.String("id", id), slog.Any("error", err))
	}
}

// toStatus maps domain errors onto gRPC status codes.
func (s *TriageService) toStatus(op string, err error) error {
	var fetchErr *repo.FetchError
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, bulk.ErrNoAnalysisEnabled), errors.Is(err, bulk.ErrNoItems),
		errors.Is(err, repo.ErrInvalidTicketID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, bulk.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrReportPending):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &fetchErr) && fetchErr.Status == http.StatusNotFound:
		return status.Error(codes.NotFound, err.Error())
	case utils.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.Error(op+" failed", slog.Any("error", err))
		return status.Error(codes.Internal, fmt.Sprintf("%s failed: %v", op, err))
	}
}

func decodeJobRequest(in *structpb.Struct) (api.JobRequest, error) {
	var req api.JobRequest
	if err := api.FromStruct(in, &req); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := req.Validate(); err != nil {
		return req, status.Error(codes.InvalidArgument, err.Error())
	}
	return req, nil
}

func respond(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
