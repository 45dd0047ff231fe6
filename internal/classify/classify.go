// Package classify assigns a task type and complexity tier to incoming work.
package classify

import (
	"strings"
	"unicode"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// Source names how a classification was reached.
type Source string

const (
	SourceTypeTable Source = "type_table"
	SourceTierHint  Source = "tier_hint"
	SourceKeyword   Source = "keyword"
	SourceFallback  Source = "fallback"
)

// Classification is the output of the classifier.
type Classification struct {
	// Type is the confirmed or inferred task type.
	Type models.TaskType
	// Tier is the complexity tier.
	Tier models.Tier
	// Source explains where the tier came from.
	Source Source
	// MatchedKeyword is the keyword that inferred the type, if any.
	MatchedKeyword string
	// Ambiguous is true when no rule matched and the fallback tier was used.
	Ambiguous bool
}

// typeKeywords maps a task type to the words that suggest it. Order matters:
// the first type with a matching keyword wins, so higher-stakes types come first.
type typeKeywords struct {
	Type     models.TaskType
	Keywords []string
}

// DefaultTypeKeywords is used to infer the type of general tasks.
var DefaultTypeKeywords = []typeKeywords{
	{models.TaskTypeStrategicPlanning, []string{"strategy", "strategic", "roadmap", "long-term", "prioritize"}},
	{models.TaskTypeSecurityAudit, []string{"security", "vulnerability", "vulnerabilities", "audit", "cve", "exploit", "auth", "authentication"}},
	{models.TaskTypeArchitectureDesign, []string{"architecture", "architect", "rearchitect", "redesign", "schema", "infrastructure"}},
	{models.TaskTypeRefactoring, []string{"refactor", "refactoring", "restructure", "reorganize", "rewrite", "migrate", "migration"}},
	{models.TaskTypeDebugging, []string{"debug", "bug", "crash", "crashes", "panic", "failing", "broken", "fix"}},
	{models.TaskTypeCodeReview, []string{"review", "critique"}},
	{models.TaskTypeTestGeneration, []string{"test", "tests", "coverage"}},
	{models.TaskTypeDocumentation, []string{"docs", "readme", "document", "documentation", "docstring"}},
	{models.TaskTypeFormatting, []string{"format", "formatting", "typo", "indent", "lint"}},
	{models.TaskTypeMetricsAnalysis, []string{"metric", "metrics", "stats", "statistics", "count", "measure"}},
	{models.TaskTypeDataExtraction, []string{"extract", "parse", "scrape", "collect"}},
	{models.TaskTypeFileSearch, []string{"find", "search", "locate", "where", "grep", "list"}},
	{models.TaskTypeFeatureImplementation, []string{"implement", "build", "add", "feature", "create"}},
	{models.TaskTypeContentGeneration, []string{"write", "draft", "generate", "compose", "brainstorm"}},
}

// Classifier maps task types to tiers using the policy's static table.
// It holds no mutable state; Classify is pure and safe for concurrent use.
type Classifier struct {
	tiers    policy.TierPolicy
	keywords []typeKeywords
}

// New creates a Classifier from the policy.
func New(cfg *policy.Config) *Classifier {
	return &Classifier{
		tiers:    cfg.Tiers,
		keywords: DefaultTypeKeywords,
	}
}

// Classify returns the type and tier for a request.
// A caller tier hint always overrides the table. General tasks have their type
// inferred from payload keywords; anything left unmatched gets the fallback tier.
func (c *Classifier) Classify(req models.TaskRequest) Classification {
	out := Classification{Type: req.Type}

	if out.Type == models.TaskTypeGeneral || out.Type == "" {
		if t, kw, ok := c.inferType(req.Payload); ok {
			out.Type = t
			out.MatchedKeyword = kw
			out.Source = SourceKeyword
		} else {
			out.Type = models.TaskTypeGeneral
		}
	}

	if tier, ok := c.tiers.Defaults[out.Type]; ok {
		out.Tier = tier
		if out.Source == "" {
			out.Source = SourceTypeTable
		}
	} else {
		out.Tier = c.tiers.Fallback
		out.Source = SourceFallback
		out.Ambiguous = true
	}

	if req.TierHint.Valid() {
		out.Tier = req.TierHint
		out.Source = SourceTierHint
		out.Ambiguous = false
	}

	return out
}

// inferType returns the first type whose keyword appears as a whole word in text.
func (c *Classifier) inferType(text string) (models.TaskType, string, bool) {
	words := wordSet(text)
	if len(words) == 0 {
		return "", "", false
	}
	for _, tk := range c.keywords {
		for _, kw := range tk.Keywords {
			if words[kw] {
				return tk.Type, kw, true
			}
		}
	}
	return "", "", false
}

// wordSet splits text into lowercase words. Hyphens stay inside words.
func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, "-")] = true
	}
	return set
}
