package synth

import (
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/delegate/pkg/models"
)

func newTestSynth() *Synthesizer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func candidate() models.ExecutionResult {
	return models.ExecutionResult{
		TaskID:     "t1",
		Executor:   models.ExecutorPrimary,
		Status:     models.StatusSucceeded,
		Payload:    "Use a token bucket per client.",
		Confidence: 0.9,
		Rationale:  "explicit_mapping",
		Consumed:   100,
	}
}

func TestMerge_CriticalChallengesFirst(t *testing.T) {
	s := newTestSynth()
	in := Input{
		Candidate: candidate(),
		Challenges: []models.Challenge{
			{Severity: models.SeverityMinor, Point: "naming could be clearer"},
			{Severity: models.SeverityCritical, Point: "clock skew", Correction: "use monotonic time for refill"},
		},
		Contributions: []Contribution{
			{Source: "alternative-1", Rule: "sparring:combined", Confidence: 0.7,
				Improvements: []models.Improvement{{Aspect: "storage", Text: "keep buckets in redis"}}},
		},
	}

	got, conflicts := s.Merge(in)

	if len(conflicts) != 0 {
		t.Errorf("conflicts = %v, want none", conflicts)
	}
	want := "Use a token bucket per client.\n\n> correction: use monotonic time for refill\n\n### storage\nkeep buckets in redis"
	if got.Payload != want {
		t.Errorf("Payload =\n%s\nwant\n%s", got.Payload, want)
	}
	if strings.Contains(got.Payload, "naming") {
		t.Error("non-critical challenges must not change the payload")
	}
	if got.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", got.Confidence)
	}
	if got.Rationale != "explicit_mapping + sparring:combined" {
		t.Errorf("Rationale = %q", got.Rationale)
	}
	if got.Consumed != 100 {
		t.Errorf("Consumed = %d, want 100", got.Consumed)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	s := newTestSynth()
	in := Input{
		Candidate: candidate(),
		Challenges: []models.Challenge{
			{Severity: models.SeverityCritical, Point: "no eviction", Correction: "expire idle buckets"},
		},
		Contributions: []Contribution{
			{Source: "alternative-1", Rule: "sparring:alternatives", Confidence: 0.8,
				Improvements: []models.Improvement{{Aspect: "fairness", Text: "weight by plan"}}},
		},
		Rules: []string{"sparring:alternatives"},
	}

	first, _ := s.Merge(in)

	again := in
	again.Candidate = first
	second, _ := s.Merge(again)

	if second.Payload != first.Payload {
		t.Errorf("second merge changed payload:\n%s\n---\n%s", first.Payload, second.Payload)
	}
	if second.Confidence != first.Confidence || second.Rationale != first.Rationale {
		t.Errorf("second merge changed metadata: %v/%q vs %v/%q",
			first.Confidence, first.Rationale, second.Confidence, second.Rationale)
	}
	if n := strings.Count(second.Payload, "> correction: expire idle buckets"); n != 1 {
		t.Errorf("correction applied %d times, want 1", n)
	}
	if first.Consumed != 100 || second.Consumed != first.Consumed {
		t.Errorf("Consumed = %d then %d, want 100 both times", first.Consumed, second.Consumed)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second merge = %+v, want %+v", second, first)
	}
}

func TestMerge_IndependentReorderInvariant(t *testing.T) {
	s := newTestSynth()
	contribs := []Contribution{
		{Source: "map_attack_surface", Position: 0, Rule: "explicit_mapping", Confidence: 0.9,
			Improvements: []models.Improvement{{Aspect: "map_attack_surface", Text: "3 public endpoints"}}},
		{Source: "scan_dependencies", Position: 1, Rule: "explicit_mapping", Confidence: 0.85,
			Improvements: []models.Improvement{{Aspect: "scan_dependencies", Text: "1 vulnerable module"}}},
		{Source: "extra", Position: 2, Rule: "task_type_default", Confidence: 0.8,
			Improvements: []models.Improvement{
				{Aspect: "map_attack_surface", Text: "2 public endpoints"},
				{Aspect: "notes", Text: "none"},
			}},
	}
	reversed := []Contribution{contribs[2], contribs[1], contribs[0]}

	a, _ := s.Merge(Input{Candidate: models.ExecutionResult{Confidence: 1}, Contributions: contribs})
	b, _ := s.Merge(Input{Candidate: models.ExecutionResult{Confidence: 1}, Contributions: reversed})

	if a.Payload != b.Payload {
		t.Errorf("reordering changed payload:\n%s\n---\n%s", a.Payload, b.Payload)
	}
	if a.Rationale != b.Rationale || a.Confidence != b.Confidence {
		t.Errorf("reordering changed metadata")
	}
	if !strings.Contains(a.Payload, "3 public endpoints") || strings.Contains(a.Payload, "2 public endpoints") {
		t.Errorf("higher confidence contributor should win:\n%s", a.Payload)
	}
	if strings.Index(a.Payload, "### map_attack_surface") > strings.Index(a.Payload, "### scan_dependencies") {
		t.Error("aspects should render in position order")
	}
}

func TestMerge_ConflictResolution(t *testing.T) {
	tests := []struct {
		name       string
		contribs   []Contribution
		wantText   string
		wantReason string
	}{
		{
			name: "higher confidence wins",
			contribs: []Contribution{
				{Source: "a", Confidence: 0.6, Improvements: []models.Improvement{{Aspect: "x", Text: "from a"}}},
				{Source: "b", Confidence: 0.8, Improvements: []models.Improvement{{Aspect: "x", Text: "from b"}}},
			},
			wantText:   "from b",
			wantReason: "confidence",
		},
		{
			name: "dependent overrides its dependency",
			contribs: []Contribution{
				{Source: "design", Confidence: 0.9, Improvements: []models.Improvement{{Aspect: "x", Text: "draft"}}},
				{Source: "review", Confidence: 0.5, DependsOn: []string{"design"},
					Improvements: []models.Improvement{{Aspect: "x", Text: "reviewed"}}},
			},
			wantText:   "reviewed",
			wantReason: "dependency",
		},
		{
			name: "equal confidence prefers smaller text",
			contribs: []Contribution{
				{Source: "a", Confidence: 0.7, Improvements: []models.Improvement{{Aspect: "x", Text: "zeta"}}},
				{Source: "b", Confidence: 0.7, Improvements: []models.Improvement{{Aspect: "x", Text: "alpha"}}},
			},
			wantText:   "alpha",
			wantReason: "tie",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conflicts := newTestSynth().Merge(Input{
				Candidate:     models.ExecutionResult{Confidence: 1},
				Contributions: tt.contribs,
			})
			if !strings.Contains(got.Payload, tt.wantText) {
				t.Errorf("Payload = %q, want it to contain %q", got.Payload, tt.wantText)
			}
			if len(conflicts) != 1 {
				t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
			}
			if conflicts[0].Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", conflicts[0].Reason, tt.wantReason)
			}
		})
	}
}

func TestMerge_IdenticalTextIsNotAConflict(t *testing.T) {
	_, conflicts := newTestSynth().Merge(Input{
		Candidate: models.ExecutionResult{Confidence: 1},
		Contributions: []Contribution{
			{Source: "a", Confidence: 0.6, Improvements: []models.Improvement{{Aspect: "x", Text: "same"}}},
			{Source: "b", Confidence: 0.8, Improvements: []models.Improvement{{Aspect: "x", Text: "same"}}},
		},
	})
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %v, want none", conflicts)
	}
}

func TestMerge_ClearsFailureOnCandidate(t *testing.T) {
	c := candidate()
	c.Status = models.StatusFailed
	c.ErrorKind = models.ErrorKindTimeout
	c.Error = "boom"

	got, _ := newTestSynth().Merge(Input{Candidate: c})
	if !got.Succeeded() || got.ErrorKind != models.ErrorKindNone || got.Error != "" {
		t.Errorf("got %+v", got)
	}
}
