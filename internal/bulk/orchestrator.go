package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/repo"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

var (
	// ErrNoAnalysisEnabled rejects a submission that selects no analysis kind.
	ErrNoAnalysisEnabled = errors.New("at least one analysis kind must be enabled")
	// ErrNoItems rejects a submission without record identifiers.
	ErrNoItems = errors.New("at least one record id is required")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
)

// Fetcher loads the conversation for a record id.
type Fetcher interface {
	FetchRecord(ctx context.Context, id string) (models.ConversationRecord, error)
}

// Analyzer runs the test-case analysis pipeline. It reports failures on the result.
type Analyzer interface {
	Run(ctx context.Context, record models.ConversationRecord) models.AnalysisResult
}

// PriorityAnalyzer runs the planning-signal analysis.
type PriorityAnalyzer interface {
	Analyze(ctx context.Context, record models.ConversationRecord) (models.PriorityResult, error)
}

// Store persists results and job snapshots.
type Store interface {
	Persist(ctx context.Context, kind, id string, record any) error
	Load(ctx context.Context, kind, id string, out any) (bool, error)
}

// Reporter summarises a finished job.
type Reporter interface {
	Report(ctx context.Context, job models.Job, analyses []models.AnalysisResult, priorities []models.PriorityResult) (models.JobReport, error)
}

// Config tunes the orchestrator.
type Config struct {
	// ItemDelay is the pause between items of one job.
	ItemDelay time.Duration
	// MaxConcurrentJobs bounds running workers; zero means unbounded.
	MaxConcurrentJobs int
	Retention         time.Duration
}

// Dependencies groups the collaborators a job worker calls.
type Dependencies struct {
	Fetcher  Fetcher
	Analyzer Analyzer
	Priority PriorityAnalyzer
	Store    Store
	Reporter Reporter
}

type jobEntry struct {
	job    models.Job
	ids    []string
	cancel context.CancelFunc
	done   chan struct{}
}

func (e *jobEntry) active() bool { return e.cancel != nil }

// Orchestrator owns the job registry and one worker goroutine per running job.
type Orchestrator struct {
	logger *slog.Logger
	deps   Dependencies
	cfg    Config

	mu   sync.Mutex
	jobs map[string]*jobEntry
	sem  chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewOrchestrator constructs an orchestrator with an empty registry.
func NewOrchestrator(logger *slog.Logger, deps Dependencies, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	o := &Orchestrator{
		logger: logger,
		deps:   deps,
		cfg:    cfg,
		jobs:   make(map[string]*jobEntry),
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepContext,
		newID:  func() string { return uuid.NewString() },
	}
	if cfg.MaxConcurrentJobs > 0 {
		o.sem = make(chan struct{}, cfg.MaxConcurrentJobs)
	}
	return o
}

// Submit registers a pending job for ids and starts its worker. Duplicate ids are processed once.
func (o *Orchestrator) Submit(ctx context.Context, ids []string, opts models.BulkOptions) (string, error) {
	if !opts.AnyEnabled() {
		return "", ErrNoAnalysisEnabled
	}
	unique := dedupe(ids)
	if len(unique) == 0 {
		return "", ErrNoItems
	}

	job := models.Job{
		ID:         o.newID(),
		TotalItems: len(unique),
		Status:     models.JobPending,
		Items:      make(map[string]models.ItemResult, len(unique)),
		Options:    opts,
		CreatedAt:  o.now(),
	}

	o.mu.Lock()
	o.jobs[job.ID] = &jobEntry{job: job, ids: unique}
	o.mu.Unlock()

	o.persistJob(ctx, job)
	o.logger.Info("bulk job submitted",
		slog.String("job_id", job.ID),
		slog.Int("items", job.TotalItems),
		slog.Bool("test_cases", opts.EnableTestCases),
		slog.Bool("priority", opts.EnablePriority),
	)
	o.Start(job.ID, unique)
	return job.ID, nil
}

// Start launches the worker for jobID. It returns false when a worker for the job is already
// active or the job has finished. Unknown ids are registered as new pending jobs.
func (o *Orchestrator) Start(jobID string, ids []string) bool {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	if !ok {
		unique := dedupe(ids)
		entry = &jobEntry{
			job: models.Job{
				ID:         jobID,
				TotalItems: len(unique),
				Status:     models.JobPending,
				Items:      make(map[string]models.ItemResult, len(unique)),
				Options:    models.BulkOptions{EnableTestCases: true, EnablePriority: true},
				CreatedAt:  o.now(),
			},
			ids: unique,
		}
		o.jobs[jobID] = entry
	}
	if entry.active() || entry.job.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	entry.done = make(chan struct{})
	o.mu.Unlock()

	go o.run(ctx, jobID)
	return true
}

// Cancel requests cancellation of a running job. The worker observes it at the next item
// boundary; an in-flight item always completes. Jobs still queued on the concurrency bound
// are not running yet and report false.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.jobs[jobID]
	if !ok || !entry.active() || entry.job.Status != models.JobRunning {
		return false
	}
	entry.cancel()
	o.logger.Info("bulk job cancellation requested", slog.String("job_id", jobID))
	return true
}

// Status returns a consistent snapshot of the job. Jobs pruned from the registry are read
// back from the store.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (models.Job, error) {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	if ok {
		snapshot := entry.job.Clone()
		o.mu.Unlock()
		return snapshot, nil
	}
	o.mu.Unlock()

	if o.deps.Store != nil {
		var job models.Job
		found, err := o.deps.Store.Load(ctx, repo.KindJob, jobID, &job)
		if err != nil {
			return models.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
		}
		if found {
			return job, nil
		}
	}
	return models.Job{}, ErrJobNotFound
}

// Wait blocks until the worker of jobID exits or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	entry, ok := o.jobs[jobID]
	var done chan struct{}
	if ok {
		done = entry.done
	}
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prune drops finished jobs older than olderThan from the registry and returns how many were removed.
func (o *Orchestrator) Prune(olderThan time.Duration) int {
	cutoff := o.now().Add(-olderThan)
	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for id, entry := range o.jobs {
		if entry.active() || !entry.job.Status.Terminal() || entry.job.FinishedAt == nil {
			continue
		}
		if entry.job.FinishedAt.Before(cutoff) {
			delete(o.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		o.logger.Debug("pruned finished bulk jobs", slog.Int("removed", removed))
	}
	return removed
}

// StartRetention schedules Prune on a cron schedule (e.g. "@every 10m"). Stop the returned
// scheduler on shutdown.
func (o *Orchestrator) StartRetention(schedule string) (*cron.Cron, error) {
	if strings.TrimSpace(schedule) == "" {
		return nil, errors.New("retention schedule is empty")
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { o.Prune(o.cfg.Retention) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	c.Start()
	o.logger.Info("bulk job retention scheduled",
		slog.String("schedule", schedule),
		slog.Duration("retention", o.cfg.Retention),
	)
	return c, nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string) {
	logger := o.logger.With(slog.String("job_id", jobID))
	o.mu.Lock()
	entry := o.jobs[jobID]
	ids := entry.ids
	opts := entry.job.Options
	done := entry.done
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		cancel := entry.cancel
		entry.cancel = nil
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(done)
	}()

	if o.sem != nil {
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
	}

	metrics.BulkJobStarted()
	defer metrics.BulkJobFinished()

	startedAt := o.now()
	if snapshot, ok := o.transition(jobID, models.JobRunning, &startedAt); ok {
		o.persistJob(ctx, snapshot)
	}
	logger.Info("bulk job started", slog.Int("items", len(ids)))

	itemCtx := context.WithoutCancel(ctx)
	var (
		analyses   []models.AnalysisResult
		priorities []models.PriorityResult
	)
	for i, id := range ids {
		outcome := o.processItem(itemCtx, logger, id, opts)
		if outcome.analysis != nil {
			analyses = append(analyses, *outcome.analysis)
		}
		if outcome.priority != nil {
			priorities = append(priorities, *outcome.priority)
		}

		o.mu.Lock()
		job := &entry.job
		job.ProcessedCount++
		if outcome.result.Status == models.ItemSuccess {
			job.SuccessCount++
		} else {
			job.FailedCount++
		}
		job.Items[id] = outcome.result
		snapshot := job.Clone()
		o.mu.Unlock()

		metrics.ObserveBulkItem(outcome.result.Status == models.ItemSuccess)
		o.persistJob(itemCtx, snapshot)

		if ctx.Err() != nil {
			break
		}
		if i < len(ids)-1 && o.cfg.ItemDelay > 0 {
			if err := o.sleep(ctx, o.cfg.ItemDelay); err != nil {
				break
			}
		}
	}

	o.finish(logger, jobID, analyses, priorities)
}

// finish moves the job to its terminal state: completed when every item was processed,
// cancelled otherwise.
func (o *Orchestrator) finish(logger *slog.Logger, jobID string, analyses []models.AnalysisResult, priorities []models.PriorityResult) {
	ctx := context.Background()
	finishedAt := o.now()

	o.mu.Lock()
	entry := o.jobs[jobID]
	next := models.JobCancelled
	if entry.job.ProcessedCount == entry.job.TotalItems {
		next = models.JobCompleted
	}
	o.mu.Unlock()

	snapshot, ok := o.transition(jobID, next, &finishedAt)
	if !ok {
		return
	}
	o.persistJob(ctx, snapshot)
	logger.Info("bulk job finished",
		slog.String("status", string(snapshot.Status)),
		slog.Int("processed", snapshot.ProcessedCount),
		slog.Int("succeeded", snapshot.SuccessCount),
		slog.Int("failed", snapshot.FailedCount),
	)

	if o.deps.Reporter != nil && snapshot.ProcessedCount > 0 {
		if _, err := o.deps.Reporter.Report(ctx, snapshot, analyses, priorities); err != nil {
			logger.Warn("bulk job report failed", slog.Any("error", err))
		}
	}
}

// transition applies a legal status change and stamps the matching timestamp.
func (o *Orchestrator) transition(jobID string, next models.JobStatus, at *time.Time) (models.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.jobs[jobID]
	if !ok || !entry.job.Status.CanTransition(next) {
		return models.Job{}, false
	}
	entry.job.Status = next
	if next == models.JobRunning {
		entry.job.StartedAt = at
	} else {
		entry.job.FinishedAt = at
	}
	return entry.job.Clone(), true
}

type itemOutcome struct {
	result   models.ItemResult
	analysis *models.AnalysisResult
	priority *models.PriorityResult
}

// processItem fetches one record and runs the enabled pipelines. Each pipeline's result is
// persisted on its own; the item fails only when every enabled pipeline failed.
func (o *Orchestrator) processItem(ctx context.Context, logger *slog.Logger, id string, opts models.BulkOptions) (outcome itemOutcome) {
	logger = logger.With(slog.String("ticket_id", id))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("bulk item panicked", slog.Any("panic", rec))
			outcome = itemOutcome{result: failedItem(fmt.Sprintf("panic: %v", rec))}
		}
	}()

	if o.deps.Fetcher == nil {
		return itemOutcome{result: failedItem("ticket source not configured")}
	}
	record, err := o.deps.Fetcher.FetchRecord(ctx, id)
	if err != nil {
		logger.Warn("bulk item fetch failed", slog.Any("error", err))
		return itemOutcome{result: failedItem(err.Error())}
	}
	if record.IsEmpty() {
		return itemOutcome{result: failedItem("no conversation found for ticket " + id)}
	}

	var (
		failures  []string
		succeeded int
	)
	if opts.EnableTestCases {
		switch {
		case o.deps.Analyzer == nil:
			failures = append(failures, "analysis: pipeline not configured")
		default:
			result := o.deps.Analyzer.Run(ctx, record)
			o.persistResult(ctx, logger, repo.KindAnalysis, id, result)
			outcome.analysis = &result
			if result.FinalState == models.StateFailed {
				failures = append(failures, "analysis: "+strings.Join(result.ValidationIssues, "; "))
			} else {
				succeeded++
			}
		}
	}
	if opts.EnablePriority {
		switch {
		case o.deps.Priority == nil:
			failures = append(failures, "priority: pipeline not configured")
		default:
			result, err := o.deps.Priority.Analyze(ctx, record)
			if err != nil {
				logger.Warn("priority analysis failed", slog.Any("error", err))
				failures = append(failures, "priority: "+err.Error())
			} else {
				o.persistResult(ctx, logger, repo.KindPriority, id, result)
				outcome.priority = &result
				succeeded++
			}
		}
	}

	if succeeded == 0 {
		outcome.result = failedItem(strings.Join(failures, "; "))
		return outcome
	}
	outcome.result = models.ItemResult{Status: models.ItemSuccess}
	return outcome
}

func (o *Orchestrator) persistResult(ctx context.Context, logger *slog.Logger, kind, id string, record any) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.Persist(ctx, kind, id, record); err != nil {
		logger.Warn("persist result failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

func (o *Orchestrator) persistJob(ctx context.Context, job models.Job) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.Persist(context.WithoutCancel(ctx), repo.KindJob, job.ID, job); err != nil {
		o.logger.Warn("persist job snapshot failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func failedItem(msg string) models.ItemResult {
	return models.ItemResult{Status: models.ItemFailed, Error: utils.Truncate(msg, utils.MaxErrorLen)}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
