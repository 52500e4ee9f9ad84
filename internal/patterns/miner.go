package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// maxPatternsPerKind caps how many themes of each kind a report lists.
const maxPatternsPerKind = 10

// Store abstracts persistence for job reports.
type Store interface {
	StoreReport(ctx context.Context, report models.JobReport) error
}

// Miner groups the results of a bulk job into recurring themes.
type Miner struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Report builds the job report and stores it. Store failures are logged, not returned.
func (m *Miner) Report(ctx context.Context, job models.Job, analyses []models.AnalysisResult, priorities []models.PriorityResult) (models.JobReport, error) {
	report := m.Mine(job.ID, analyses, priorities)
	if m.store != nil {
		if err := m.store.StoreReport(ctx, report); err != nil {
			m.logger.Warn("job report store failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}
	return report, nil
}

// Mine aggregates analyses and priority results into a JobReport.
func (m *Miner) Mine(jobID string, analyses []models.AnalysisResult, priorities []models.PriorityResult) models.JobReport {
	report := models.JobReport{
		JobID:             jobID,
		Analyses:          len(analyses),
		PriorityBreakdown: make(map[string]int),
		Patterns:          []models.ThemePattern{},
		GeneratedAt:       m.now(),
	}

	rootCauses := newThemeSet(models.ThemeRootCause)
	issues := newThemeSet(models.ThemeIssue)
	for _, a := range analyses {
		if a.FinalState == models.StateFailed {
			continue
		}
		if a.PhaseOne.TestCaseNeeded {
			report.TestCasesNeeded++
		}
		if a.ValidationPassed != nil && !*a.ValidationPassed {
			report.ValidationFailed++
		}
		if a.RegenerationAttempted {
			report.Regenerated++
		}
		rootCauses.add(a.PhaseOne.RootCauseThemeText, a.TicketID, a.PhaseOne.TestCaseNeeded, a.AnalyzedAt)
		issues.add(a.PhaseOne.IssueTheme, a.TicketID, a.PhaseOne.TestCaseNeeded, a.AnalyzedAt)
	}

	themes := newThemeSet(models.ThemePriority)
	for _, p := range priorities {
		report.PriorityBreakdown[string(p.PriorityScore)]++
		themes.add(p.AITheme, p.TicketID, false, p.AnalyzedAt)
	}

	for _, set := range []*themeSet{rootCauses, issues, themes} {
		report.Patterns = append(report.Patterns, set.patterns(maxPatternsPerKind)...)
	}
	return report
}

type themeAggregate struct {
	display  string
	tickets  []string
	needed   int
	lastSeen time.Time
}

type themeSet struct {
	kind  models.ThemeKind
	byKey map[string]*themeAggregate
}

func newThemeSet(kind models.ThemeKind) *themeSet {
	return &themeSet{kind: kind, byKey: make(map[string]*themeAggregate)}
}

func (s *themeSet) add(theme, ticketID string, needed bool, at time.Time) {
	key := normaliseTheme(theme)
	if key == "" {
		return
	}
	agg, ok := s.byKey[key]
	if !ok {
		agg = &themeAggregate{display: strings.TrimSpace(theme)}
		s.byKey[key] = agg
	}
	agg.tickets = append(agg.tickets, ticketID)
	if needed {
		agg.needed++
	}
	if at.After(agg.lastSeen) {
		agg.lastSeen = at
	}
}

func (s *themeSet) patterns(limit int) []models.ThemePattern {
	out := make([]models.ThemePattern, 0, len(s.byKey))
	for _, agg := range s.byKey {
		out = append(out, models.ThemePattern{
			Theme:         agg.display,
			Kind:          s.kind,
			Count:         len(agg.tickets),
			TicketIDs:     agg.tickets,
			TestCaseRatio: float64(agg.needed) / float64(len(agg.tickets)),
			LastSeen:      agg.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Theme < out[j].Theme
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// normaliseTheme folds case and whitespace so "Slot  Reconnect" and "slot reconnect" group together.
func normaliseTheme(theme string) string {
	return strings.ToLower(strings.Join(strings.Fields(theme), " "))
}
