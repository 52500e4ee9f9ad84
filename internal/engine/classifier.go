package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Predicate names a phrase-matched signal evaluated by the classifier.
type Predicate string

const (
	PredicateRootCauseUnclear  Predicate = "root_cause_unclear"
	PredicateFunctionalGap     Predicate = "functional_gap"
	PredicateCodeBug           Predicate = "code_bug"
	PredicateUserMistake       Predicate = "user_mistake"
	PredicateProductLimitation Predicate = "product_limitation"
)

// Signals holds the evaluated predicates for one classification.
type Signals struct {
	RootCauseUnclear  bool `json:"root_cause_unclear"`
	FunctionalGap     bool `json:"functional_gap"`
	CodeBug           bool `json:"code_bug"`
	UserMistake       bool `json:"user_mistake"`
	ProductLimitation bool `json:"product_limitation"`
}

// Verdict is the classifier's decision. When Decided is false the model's own answer stands.
type Verdict struct {
	Decided bool
	Needed  bool
	Reason  string
	Rule    string
	Signals Signals
}

type decisionRule struct {
	name   string
	when   func(Signals) bool
	needed bool
	reason string
}

// decisionRules is evaluated in order; the first match wins.
var decisionRules = []decisionRule{
	{
		name:   "unclear_with_functional_gap",
		when:   func(s Signals) bool { return s.RootCauseUnclear && s.FunctionalGap },
		needed: true,
		reason: "Root cause is unclear but an observable functional gap can still be tested",
	},
	{
		name:   "unclear_root_cause",
		when:   func(s Signals) bool { return s.RootCauseUnclear },
		needed: false,
		reason: "Root cause is not clearly identified, so no meaningful regression test can be written",
	},
	{
		name:   "code_bug",
		when:   func(s Signals) bool { return s.CodeBug },
		needed: true,
		reason: "Root cause points to a code defect that needs a regression test",
	},
	{
		name:   "user_mistake_or_limitation",
		when:   func(s Signals) bool { return s.UserMistake || s.ProductLimitation },
		needed: false,
		reason: "Issue is a user mistake or a product limitation, not a code defect",
	},
}

// DefaultPhrases returns the built-in phrase table.
func DefaultPhrases() map[Predicate][]string {
	return map[Predicate][]string{
		PredicateRootCauseUnclear: {
			"not identified", "unable to determine", "unknown", "unclear", "ambiguous",
			"cannot be determined", "could not be determined", "not determined", "undetermined",
			"not clear", "no clear root cause", "under investigation", "not yet known",
		},
		PredicateFunctionalGap: {
			"missing", "not created", "not triggered", "should have", "stuck",
			"not generated", "never created", "did not trigger", "didn't trigger",
			"not sent", "not updated", "not synced", "stopped syncing", "silently stops",
		},
		PredicateCodeBug: {
			"exception", "bug", "race condition", "data corruption", "incorrect",
			"null pointer", "nil pointer", "memory leak", "deadlock", "crash", "unhandled",
			"not handled", "logic error", "off-by-one", "overflow", "regression",
		},
		PredicateUserMistake: {
			"user error", "user mistake", "configuration error", "misconfigur", "wrong value",
			"wrong credentials", "incorrect credentials", "did not follow", "didn't follow",
			"not following the documentation", "typo", "customer error", "insufficient permission",
			"insufficient privileges", "granting the permission", "granted the permission",
		},
		PredicateProductLimitation: {
			"by design", "working as designed", "working as intended", "not supported",
			"unsupported", "feature request", "limitation", "feature gap", "does not exist",
			"doesn't exist", "documented constraint", "on the roadmap",
		},
	}
}

// Classifier decides whether a regression test is warranted from extracted issue and
// root-cause text, using a declarative phrase table and an ordered rule list.
type Classifier struct {
	phrases map[Predicate][]string
	logger  *slog.Logger
}

// PhraseFile is the YAML root structure of a phrase table override.
type PhraseFile struct {
	Phrases map[Predicate][]string `yaml:"phrases"`
}

// NewClassifier builds a classifier from the defaults, replacing each predicate's list
// with the one in overrides when present.
func NewClassifier(overrides map[Predicate][]string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	phrases := DefaultPhrases()
	for predicate, list := range overrides {
		if _, known := phrases[predicate]; !known {
			logger.Warn("ignoring unknown classifier predicate", slog.String("predicate", string(predicate)))
			continue
		}
		if len(list) == 0 {
			continue
		}
		phrases[predicate] = list
	}
	for predicate, list := range phrases {
		lowered := make([]string, 0, len(list))
		for _, phrase := range list {
			if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" {
				lowered = append(lowered, phrase)
			}
		}
		phrases[predicate] = lowered
	}
	return &Classifier{phrases: phrases, logger: logger}
}

// LoadClassifier reads a phrase table from path. An empty path or a missing file yields
// the built-in defaults.
func LoadClassifier(path string, logger *slog.Logger) (*Classifier, error) {
	if path == "" {
		return NewClassifier(nil, logger), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewClassifier(nil, logger), nil
		}
		return nil, fmt.Errorf("read phrase table: %w", err)
	}
	var file PhraseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse phrase table: %w", err)
	}
	return NewClassifier(file.Phrases, logger), nil
}

// Classify evaluates the predicates and the ordered rules.
func (c *Classifier) Classify(issueText, rootCauseText string) Verdict {
	issue := strings.ToLower(issueText)
	root := strings.ToLower(rootCauseText)
	combined := issue + "\n" + root

	signals := Signals{
		RootCauseUnclear: c.matches(PredicateRootCauseUnclear, root),
		FunctionalGap:    c.matches(PredicateFunctionalGap, combined),
		CodeBug:          c.matches(PredicateCodeBug, root),
	}
	// A code defect suppresses user-mistake and limitation signals.
	signals.UserMistake = c.matches(PredicateUserMistake, combined) && !signals.CodeBug
	signals.ProductLimitation = c.matches(PredicateProductLimitation, combined) && !signals.CodeBug

	for _, rule := range decisionRules {
		if rule.when(signals) {
			return Verdict{Decided: true, Needed: rule.needed, Reason: rule.reason, Rule: rule.name, Signals: signals}
		}
	}
	return Verdict{Signals: signals}
}

// Apply returns a copy of p with the classifier's decision applied.
func (c *Classifier) Apply(p models.PhaseOneResult) models.PhaseOneResult {
	verdict := c.Classify(p.IssueSummary, p.RootCause)
	if !verdict.Decided {
		return p
	}
	out := p
	out.ClassifierRule = verdict.Rule
	if verdict.Needed != p.TestCaseNeeded {
		c.logger.Debug("classifier overrode model answer",
			slog.String("rule", verdict.Rule),
			slog.Bool("model_answer", p.TestCaseNeeded),
			slog.Bool("needed", verdict.Needed),
		)
		out.TestCaseNeeded = verdict.Needed
		out.TestCaseNeededReason = verdict.Reason
	}
	return out
}

// Phrases returns a copy of the phrase list for predicate.
func (c *Classifier) Phrases(predicate Predicate) []string {
	return append([]string(nil), c.phrases[predicate]...)
}

func (c *Classifier) matches(predicate Predicate, text string) bool {
	for _, phrase := range c.phrases[predicate] {
		if containsPhrase(text, phrase) {
			return true
		}
	}
	return false
}

// containsPhrase reports whether phrase occurs in text starting at a word boundary, so
// "bug" does not match inside "debug" while "misconfigur" still matches "misconfigured".
func containsPhrase(text, phrase string) bool {
	for i := 0; i <= len(text)-len(phrase); {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isLetterOrDigit(text[pos-1]) {
			return true
		}
		i = pos + 1
	}
	return false
}

func isLetterOrDigit(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
