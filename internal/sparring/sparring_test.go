package sparring

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/internal/synth"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// fakeRunner answers steps by their ID suffix.
type fakeRunner struct {
	mu      sync.Mutex
	replies map[string]models.ExecutionResult
	calls   []string
	delay   time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req models.TaskRequest, preferred models.ExecutorID) models.ExecutionResult {
	step := req.ID[strings.LastIndex(req.ID, "/")+1:]
	f.mu.Lock()
	f.calls = append(f.calls, step+"@"+string(preferred))
	res, ok := f.replies[step]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.FailedResult(req.ID, preferred, models.ErrorKindCancelled, ctx.Err().Error())
		}
	}
	if !ok {
		return models.FailedResult(req.ID, preferred, models.ErrorKindUnknown, "no reply for "+step)
	}
	res.TaskID = req.ID
	if res.Executor == "" {
		res.Executor = preferred
	}
	if res.Status == "" {
		res.Status = models.StatusSucceeded
	}
	res.Attempts = []models.Attempt{{Executor: res.Executor, Number: 1, Consumed: res.Consumed}}
	return res
}

func ok(payload string, consumed int64) models.ExecutionResult {
	return models.ExecutionResult{Payload: payload, Consumed: consumed}
}

func newTestManager(r Runner, hook TransitionFunc) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(policy.Default(), r, synth.New(logger), WithLogger(logger), WithTransitionHook(hook))
}

func states(s *Session) []State {
	out := []State{StateCreated}
	for _, tr := range s.History {
		out = append(out, tr.To)
	}
	return out
}

func TestInferMode(t *testing.T) {
	tests := []struct {
		tier models.Tier
		want models.SparringMode
	}{
		{models.TierCreative, models.SparringAlternatives},
		{models.TierStrategic, models.SparringCombined},
		{models.TierReasoning, models.SparringChallenge},
		{models.TierMechanical, models.SparringChallenge},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			if got := InferMode(tt.tier); got != tt.want {
				t.Errorf("InferMode(%s) = %s, want %s", tt.tier, got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateChallenging, true},
		{StateChallenging, StateAlternativesGenerated, true},
		{StateAlternativesGenerated, StateSynthesizing, true},
		{StateSynthesizing, StateCompleted, true},
		{StateChallenging, StateFailed, true},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateSynthesizing, false},
		{StateAlternativesGenerated, StateChallenging, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSpar_Combined(t *testing.T) {
	r := &fakeRunner{replies: map[string]models.ExecutionResult{
		"challenge": ok(`{"challenges":[
			{"severity":"critical","point":"tokens never expire","correction":"add a 15 minute expiry"},
			{"severity":"minor","point":"log wording"}]}`, 40),
		"alternatives": ok("Here you go:\n"+`{"alternatives":[
			{"summary":"opaque tokens","improvements":[{"aspect":"revocation","text":"revoke via lookup table"}],"confidence":0.8},
			{"summary":"same thing","improvements":[]}]}`, 60),
	}}
	var seen []State
	m := newTestManager(r, func(_ string, _, to State) { seen = append(seen, to) })

	cand := models.ExecutionResult{
		Executor: models.ExecutorPrimary, Status: models.StatusSucceeded,
		Payload: "Issue signed JWTs.", Confidence: 0.95, Rationale: "explicit_mapping", Consumed: 100,
	}
	req := models.NewTaskRequest(models.TaskTypeSecurityAudit, "design session auth")
	s := m.Spar(context.Background(), req, "", models.TierStrategic, &cand)

	if s.Mode != models.SparringCombined {
		t.Errorf("Mode = %s, want combined", s.Mode)
	}
	if s.State != StateCompleted {
		t.Fatalf("State = %s, want completed (final %+v)", s.State, s.Final)
	}
	want := []State{StateChallenging, StateAlternativesGenerated, StateSynthesizing, StateCompleted}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if got := strings.Join(r.calls, ","); got != "challenge@secondary,alternatives@secondary" {
		t.Errorf("calls = %s", got)
	}

	if !strings.Contains(s.Final.Payload, "> correction: add a 15 minute expiry") {
		t.Errorf("critical correction missing:\n%s", s.Final.Payload)
	}
	if !strings.Contains(s.Final.Payload, "### revocation\nrevoke via lookup table") {
		t.Errorf("improvement missing:\n%s", s.Final.Payload)
	}
	if strings.Contains(s.Final.Payload, "log wording") {
		t.Error("minor challenge should not be applied")
	}
	if s.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", s.Confidence)
	}
	if s.Final.Consumed != 200 {
		t.Errorf("Consumed = %d, want 200", s.Final.Consumed)
	}
	if !strings.Contains(s.Final.Rationale, "sparring:combined") {
		t.Errorf("Rationale = %q", s.Final.Rationale)
	}
}

func TestSpar_GeneratesCandidate(t *testing.T) {
	r := &fakeRunner{replies: map[string]models.ExecutionResult{
		"candidate": ok("Use a queue.", 30),
		"challenge": ok("CRITICAL: no backpressure => bound the queue\n- retries unbounded", 10),
	}}
	m := newTestManager(r, nil)

	req := models.NewTaskRequest(models.TaskTypeDebugging, "worker falls over under load")
	s := m.Spar(context.Background(), req, models.SparringChallenge, models.TierReasoning, nil)

	if s.State != StateCompleted {
		t.Fatalf("State = %s (%s)", s.State, s.Final.Error)
	}
	if got := strings.Join(r.calls, ","); got != "candidate@primary,challenge@secondary" {
		t.Errorf("calls = %s", got)
	}
	if len(s.Challenges) != 2 || s.Challenges[1].Severity != models.SeverityMajor {
		t.Errorf("Challenges = %+v", s.Challenges)
	}
	if !strings.HasPrefix(s.Final.Payload, "Use a queue.\n\n> correction: bound the queue") {
		t.Errorf("Payload = %q", s.Final.Payload)
	}
	if s.Final.Consumed != 40 {
		t.Errorf("Consumed = %d, want 40", s.Final.Consumed)
	}
	if len(s.Final.Attempts) != 2 {
		t.Errorf("Attempts = %d, want 2", len(s.Final.Attempts))
	}
	wantConf := policy.Default().Delegation[models.TaskTypeDebugging].Confidence
	if s.Confidence != wantConf {
		t.Errorf("Confidence = %v, want %v", s.Confidence, wantConf)
	}
}

func TestSpar_StepFailureFailsSession(t *testing.T) {
	r := &fakeRunner{replies: map[string]models.ExecutionResult{
		"challenge": {Status: models.StatusFailed, ErrorKind: models.ErrorKindBothUnavailable, Error: "down"},
	}}
	m := newTestManager(r, nil)

	cand := models.ExecutionResult{Status: models.StatusSucceeded, Payload: "draft", Confidence: 0.9}
	req := models.NewTaskRequest(models.TaskTypeCodeReview, "review")
	s := m.Spar(context.Background(), req, models.SparringCombined, "", &cand)

	if s.State != StateFailed {
		t.Fatalf("State = %s, want failed", s.State)
	}
	if s.Final.Succeeded() || s.Final.ErrorKind != models.ErrorKindBothUnavailable {
		t.Errorf("Final = %+v", s.Final)
	}
	if len(s.Final.Partial) != 1 || s.Final.Partial[0].Payload != "draft" {
		t.Errorf("Partial = %+v", s.Final.Partial)
	}
	if len(r.calls) != 1 {
		t.Errorf("calls = %v, want only the challenge", r.calls)
	}
	if got := states(s); got[len(got)-1] != StateFailed || got[1] != StateChallenging {
		t.Errorf("states = %v", got)
	}
}

func TestSpar_BudgetExceededAbortsRemainingSteps(t *testing.T) {
	cfg := policy.Default()
	cfg.Secondary.Timeout = 10 * time.Millisecond
	cfg.Sparring.SafetyMargin = 10 * time.Millisecond

	r := &fakeRunner{
		delay:   time.Second,
		replies: map[string]models.ExecutionResult{"challenge": ok("{}", 1)},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(cfg, r, nil, WithLogger(logger))

	cand := models.ExecutionResult{Status: models.StatusSucceeded, Payload: "draft", Confidence: 0.9}
	req := models.NewTaskRequest(models.TaskTypeArchitectureDesign, "design")

	start := time.Now()
	s := m.Spar(context.Background(), req, models.SparringCombined, "", &cand)

	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("session ran %v, budget should have stopped it", time.Since(start))
	}
	if s.Budget != 30*time.Millisecond {
		t.Errorf("Budget = %v, want 30ms", s.Budget)
	}
	if !s.BudgetExceeded {
		t.Fatal("BudgetExceeded = false")
	}
	if s.State != StateCompleted || s.Final.Payload != "draft" {
		t.Errorf("State = %s, Payload = %q", s.State, s.Final.Payload)
	}
	if len(r.calls) != 1 {
		t.Errorf("calls = %v, want alternatives step skipped", r.calls)
	}
	if !strings.Contains(s.Final.Rationale, "sparring:budget_exceeded") {
		t.Errorf("Rationale = %q", s.Final.Rationale)
	}
}

func TestSpar_ParentCancellation(t *testing.T) {
	r := &fakeRunner{delay: time.Second, replies: map[string]models.ExecutionResult{}}
	m := newTestManager(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	cand := models.ExecutionResult{Status: models.StatusSucceeded, Payload: "draft"}
	s := m.Spar(ctx, models.NewTaskRequest(models.TaskTypeCodeReview, "x"), models.SparringChallenge, "", &cand)

	if s.State != StateFailed || s.Final.ErrorKind != models.ErrorKindCancelled {
		t.Errorf("State = %s, kind = %s", s.State, s.Final.ErrorKind)
	}
	if s.BudgetExceeded {
		t.Error("cancellation is not a budget overrun")
	}
}

func TestBudget(t *testing.T) {
	cfg := policy.Default()
	m := New(cfg, &fakeRunner{}, nil)
	p, sec, margin := cfg.Primary.Timeout, cfg.Secondary.Timeout, cfg.Sparring.SafetyMargin

	tests := []struct {
		mode models.SparringMode
		gen  bool
		want time.Duration
	}{
		{models.SparringChallenge, false, sec + margin},
		{models.SparringAlternatives, false, sec + margin},
		{models.SparringCombined, false, 2*sec + margin},
		{models.SparringCombined, true, p + 2*sec + margin},
	}
	for _, tt := range tests {
		if got := m.Budget(tt.mode, tt.gen); got != tt.want {
			t.Errorf("Budget(%s, %v) = %v, want %v", tt.mode, tt.gen, got, tt.want)
		}
	}
}
