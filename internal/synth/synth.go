// Package synth merges a candidate solution with challenges, sparring
// alternatives or subtask outputs into one result.
//
// The merge is deterministic. Critical corrections are applied before any
// improvement, each improvement aspect is resolved to a single winner, and
// rendering follows contribution position then aspect name, so the order in
// which independent contributions arrive never changes the output. Blocks
// already present in the candidate are not applied twice, which makes a
// second merge over the same inputs a no-op.
package synth

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// RationaleSeparator joins rationale tokens.
const RationaleSeparator = " + "

// Contribution is one alternative or subtask output offered for merging.
type Contribution struct {
	// Source names the contribution, e.g. a subtask name or "alternative-2".
	Source string
	// Position orders contributions for rendering. Independent contributions
	// keep their position when reordered.
	Position int
	// Rule is the rule or mode name credited in the rationale.
	Rule string
	// Confidence is the contributor's confidence in [0,1].
	Confidence float64
	// Improvements are the only parts of the contribution that get merged.
	Improvements []models.Improvement
	// DependsOn lists sources this contribution builds on. A dependent
	// contribution overrides the aspects of the sources it depends on.
	DependsOn []string
}

// Input is everything a merge needs.
type Input struct {
	Candidate     models.ExecutionResult
	Challenges    []models.Challenge
	Contributions []Contribution
	// Rules are extra rationale tokens, e.g. the sparring mode.
	Rules []string
}

// Conflict records two contributions proposing different text for one aspect.
type Conflict struct {
	Aspect string
	Winner string
	Loser  string
	Reason string
}

// Synthesizer performs merges.
type Synthesizer struct {
	logger *slog.Logger
}

// New creates a Synthesizer. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{logger: logger.With("component", "synth")}
}

// CorrectionBlock renders a critical correction as it appears in the payload.
func CorrectionBlock(c models.Challenge) string {
	text := c.Correction
	if text == "" {
		text = c.Point
	}
	return "> correction: " + strings.TrimSpace(text)
}

// ImprovementBlock renders an improvement as it appears in the payload.
func ImprovementBlock(imp models.Improvement) string {
	return "### " + strings.TrimSpace(imp.Aspect) + "\n" + strings.TrimSpace(imp.Text)
}

type proposal struct {
	contrib *Contribution
	imp     models.Improvement
}

// Merge combines in into one result and reports any aspect conflicts.
// Merge never fails; conflicts are resolved in favour of the higher
// confidence contributor and logged. Resource accounting is left as the
// candidate carries it; callers charge what the contributions consumed.
func (s *Synthesizer) Merge(in Input) (models.ExecutionResult, []Conflict) {
	out := in.Candidate
	out.Status = models.StatusSucceeded
	out.ErrorKind = models.ErrorKindNone
	out.Error = ""

	payload := strings.TrimSpace(in.Candidate.Payload)

	for _, c := range criticalChallenges(in.Challenges) {
		payload = appendBlock(payload, CorrectionBlock(c))
	}

	winners, conflicts := s.resolve(in.Contributions)
	for _, w := range winners {
		payload = appendBlock(payload, ImprovementBlock(w.imp))
	}

	out.Payload = payload
	out.Confidence = minConfidence(in)
	out.Rationale = rationale(in)
	return out, conflicts
}

// resolve picks one proposal per aspect and returns winners in render order.
func (s *Synthesizer) resolve(contribs []Contribution) ([]proposal, []Conflict) {
	byAspect := make(map[string][]proposal)
	for i := range contribs {
		c := &contribs[i]
		for _, imp := range c.Improvements {
			aspect := strings.TrimSpace(imp.Aspect)
			if aspect == "" || strings.TrimSpace(imp.Text) == "" {
				continue
			}
			imp.Aspect = aspect
			byAspect[aspect] = append(byAspect[aspect], proposal{contrib: c, imp: imp})
		}
	}

	deps := dependencyIndex(contribs)

	var (
		winners   []proposal
		conflicts []Conflict
	)
	for aspect, props := range byAspect {
		best := props[0]
		for _, p := range props[1:] {
			next, reason := better(best, p, deps)
			if strings.TrimSpace(p.imp.Text) != strings.TrimSpace(best.imp.Text) {
				loser := p
				if next.contrib != best.contrib {
					loser = best
				}
				conflicts = append(conflicts, Conflict{
					Aspect: aspect,
					Winner: next.contrib.Source,
					Loser:  loser.contrib.Source,
					Reason: reason,
				})
			}
			best = next
		}
		winners = append(winners, best)
	}

	sort.Slice(winners, func(i, j int) bool {
		pi, pj := minPosition(byAspect[winners[i].imp.Aspect]), minPosition(byAspect[winners[j].imp.Aspect])
		if pi != pj {
			return pi < pj
		}
		return winners[i].imp.Aspect < winners[j].imp.Aspect
	})

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Aspect != conflicts[j].Aspect {
			return conflicts[i].Aspect < conflicts[j].Aspect
		}
		return conflicts[i].Loser < conflicts[j].Loser
	})
	for _, c := range conflicts {
		s.logger.Warn("synthesis conflict",
			"aspect", c.Aspect,
			"winner", c.Winner,
			"loser", c.Loser,
			"reason", c.Reason,
		)
	}

	return winners, conflicts
}

// better returns the preferred of a and b and why.
func better(a, b proposal, deps map[string]map[string]bool) (proposal, string) {
	switch {
	case dependsOn(deps, b.contrib.Source, a.contrib.Source):
		return b, "dependency"
	case dependsOn(deps, a.contrib.Source, b.contrib.Source):
		return a, "dependency"
	case b.contrib.Confidence > a.contrib.Confidence:
		return b, "confidence"
	case a.contrib.Confidence > b.contrib.Confidence:
		return a, "confidence"
	case b.imp.Text < a.imp.Text:
		return b, "tie"
	case a.imp.Text < b.imp.Text:
		return a, "tie"
	case b.contrib.Source < a.contrib.Source:
		return b, "tie"
	default:
		return a, "tie"
	}
}

// dependencyIndex maps each source to the transitive set of sources it depends on.
func dependencyIndex(contribs []Contribution) map[string]map[string]bool {
	direct := make(map[string][]string, len(contribs))
	for _, c := range contribs {
		direct[c.Source] = append(direct[c.Source], c.DependsOn...)
	}

	index := make(map[string]map[string]bool, len(direct))
	for src := range direct {
		seen := make(map[string]bool)
		stack := append([]string(nil), direct[src]...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[n] || n == src {
				continue
			}
			seen[n] = true
			stack = append(stack, direct[n]...)
		}
		index[src] = seen
	}
	return index
}

func dependsOn(index map[string]map[string]bool, a, b string) bool {
	return index[a][b]
}

func minPosition(props []proposal) int {
	lowest := props[0].contrib.Position
	for _, p := range props[1:] {
		if p.contrib.Position < lowest {
			lowest = p.contrib.Position
		}
	}
	return lowest
}

// criticalChallenges returns the critical challenges in a stable order with
// duplicate corrections removed.
func criticalChallenges(challenges []models.Challenge) []models.Challenge {
	var out []models.Challenge
	seen := make(map[string]bool)
	for _, c := range challenges {
		if c.Severity != models.SeverityCritical {
			continue
		}
		block := CorrectionBlock(c)
		if block == CorrectionBlock(models.Challenge{}) || seen[block] {
			continue
		}
		seen[block] = true
		out = append(out, c)
	}
	return out
}

// appendBlock adds block to payload unless it is already present.
func appendBlock(payload, block string) string {
	if strings.Contains(payload, block) {
		return payload
	}
	if payload == "" {
		return block
	}
	return payload + "\n\n" + block
}

func minConfidence(in Input) float64 {
	conf := clamp(in.Candidate.Confidence)
	for _, c := range in.Contributions {
		if v := clamp(c.Confidence); v < conf {
			conf = v
		}
	}
	return conf
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// rationale merges the candidate's rationale tokens with every contributing
// rule into a sorted, de-duplicated list.
func rationale(in Input) string {
	set := make(map[string]bool)
	add := func(s string) {
		for _, tok := range strings.Split(s, RationaleSeparator) {
			if tok = strings.TrimSpace(tok); tok != "" {
				set[tok] = true
			}
		}
	}
	add(in.Candidate.Rationale)
	for _, r := range in.Rules {
		add(r)
	}
	for _, c := range in.Contributions {
		add(c.Rule)
	}

	tokens := make([]string, 0, len(set))
	for tok := range set {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, RationaleSeparator)
}

// String implements fmt.Stringer.
func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s over %s (%s)", c.Aspect, c.Winner, c.Loser, c.Reason)
}
