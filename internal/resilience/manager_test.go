package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/delegate/internal/executor"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

func transient() executor.Step {
	return executor.Step{Err: executor.NewError(models.ErrorKindTransientUnavailable, executor.ErrUnavailable)}
}

type harness struct {
	mgr       *Manager
	primary   *executor.ScriptedBackend
	secondary *executor.ScriptedBackend
	fallbacks []models.ErrorKind
}

func newHarness(cfg *policy.Config, primary, secondary []executor.Step) *harness {
	h := &harness{
		primary:   executor.NewScriptedBackend(primary...),
		secondary: executor.NewScriptedBackend(secondary...),
	}
	h.mgr = New(cfg,
		executor.NewGateway(models.ExecutorPrimary, cfg.Primary, h.primary),
		executor.NewGateway(models.ExecutorSecondary, cfg.Secondary, h.secondary),
		WithFallbackHook(func(_ string, _, _ models.ExecutorID, cause models.ErrorKind) {
			h.fallbacks = append(h.fallbacks, cause)
		}),
	)
	return h
}

func fastPolicy() *policy.Config {
	cfg := policy.Default()
	cfg.Retry.BaseBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestRun_SucceedsFirstTry(t *testing.T) {
	h := newHarness(fastPolicy(), []executor.Step{{Payload: "ok", Consumed: 10}}, nil)

	res := h.mgr.Run(context.Background(), models.NewTaskRequest(models.TaskTypeDebugging, "x"), models.ExecutorPrimary)

	if !res.Succeeded() || res.Executor != models.ExecutorPrimary {
		t.Fatalf("Run() = %+v, want primary success", res)
	}
	if res.Retries != 0 || len(res.Attempts) != 1 {
		t.Errorf("Retries = %d, Attempts = %d, want 0 and 1", res.Retries, len(res.Attempts))
	}
	if h.secondary.Calls() != 0 {
		t.Error("secondary should not be called")
	}
}

func TestRun_RetriesTransientThenSucceeds(t *testing.T) {
	cfg := fastPolicy()
	cfg.Retry.MaxAttempts = 3
	h := newHarness(cfg, []executor.Step{transient(), {Payload: "ok"}}, nil)

	res := h.mgr.Run(context.Background(), models.NewTaskRequest(models.TaskTypeDebugging, "x"), models.ExecutorPrimary)

	if !res.Succeeded() || res.Executor != models.ExecutorPrimary || res.Retries != 1 {
		t.Errorf("Run() = %+v, want primary success after one retry", res)
	}
	if len(h.fallbacks) != 0 {
		t.Error("no fallback expected")
	}
}

func TestRun_FallsBackAfterTransientExhaustion(t *testing.T) {
	h := newHarness(fastPolicy(),
		[]executor.Step{transient(), transient()},
		[]executor.Step{{Payload: "from secondary", Consumed: 7}})

	res := h.mgr.Run(context.Background(), models.NewTaskRequest(models.TaskTypeDebugging, "x"), models.ExecutorPrimary)

	if !res.Succeeded() {
		t.Fatalf("Run() = %+v, want success", res)
	}
	if res.Executor != models.ExecutorSecondary {
		t.Errorf("Executor = %s, want secondary", res.Executor)
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, want 2", res.Retries)
	}
	if got := res.AttemptedExecutors(); len(got) != 2 {
		t.Errorf("AttemptedExecutors() = %v", got)
	}
	if len(h.fallbacks) != 1 || h.fallbacks[0] != models.ErrorKindTransientUnavailable {
		t.Errorf("fallbacks = %v", h.fallbacks)
	}
}

func TestRun_BothUnavailable(t *testing.T) {
	h := newHarness(fastPolicy(),
		[]executor.Step{transient(), transient()},
		[]executor.Step{transient(), transient()})

	res := h.mgr.Run(context.Background(), models.NewTaskRequest(models.TaskTypeDebugging, "x"), models.ExecutorPrimary)

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != models.ErrorKindBothUnavailable {
		t.Errorf("ErrorKind = %s, want both_unavailable", res.ErrorKind)
	}
	if len(res.Attempts) != 4 {
		t.Errorf("len(Attempts) = %d, want 4", len(res.Attempts))
	}
	if res.Error == "" {
		t.Error("failure should carry a message")
	}
}

func TestRun_PermanentFailureFallsBackWithoutRetry(t *testing.T) {
	h := newHarness(fastPolicy(),
		[]executor.Step{{Err: executor.Errorf(models.ErrorKindUnknown, "bad request")}},
		[]executor.Step{{Payload: "ok"}})

	res := h.mgr.Run(context.Background(), models.NewTaskRequest(models.TaskTypeDebugging, "x"), models.ExecutorPrimary)

	if h.primary.Calls() != 1 {
		t.Errorf("primary calls = %d, want 1", h.primary.Calls())
	}
	if !res.Succeeded() || res.Executor != models.ExecutorSecondary || res.Retries != 1 {
		t.Errorf("Run() = %+v", res)
	}
}

func TestRun_CapabilityMismatch(t *testing.T) {
	t.Run("falls back to capable executor", func(t *testing.T) {
		h := newHarness(fastPolicy(), []executor.Step{{Payload: "deep"}}, nil)
		req := models.NewTaskRequest(models.TaskTypeDebugging, "x")
		req.RequiredCapabilities = []models.Capability{models.CapabilityLongContext}

		res := h.mgr.Run(context.Background(), req, models.ExecutorSecondary)
		if !res.Succeeded() || res.Executor != models.ExecutorPrimary {
			t.Errorf("Run() = %+v, want primary success", res)
		}
		if h.secondary.Calls() != 0 {
			t.Error("secondary backend should not be called on mismatch")
		}
	})

	t.Run("neither executor capable", func(t *testing.T) {
		h := newHarness(fastPolicy(), nil, nil)
		req := models.NewTaskRequest(models.TaskTypeDebugging, "x")
		req.RequiredCapabilities = []models.Capability{"telepathy"}

		res := h.mgr.Run(context.Background(), req, models.ExecutorPrimary)
		if res.ErrorKind != models.ErrorKindCapabilityUnsupported {
			t.Errorf("ErrorKind = %s, want capability_unsupported", res.ErrorKind)
		}
		if h.primary.Calls()+h.secondary.Calls() != 0 {
			t.Error("no backend should be called")
		}
	})
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	cfg := fastPolicy()
	cfg.Retry.BaseBackoff = time.Second
	cfg.Retry.MaxBackoff = time.Second
	h := newHarness(cfg, []executor.Step{transient()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := h.mgr.Run(ctx, models.NewTaskRequest(models.TaskTypeDebugging, "x"), models.ExecutorPrimary)

	if res.ErrorKind != models.ErrorKindCancelled {
		t.Errorf("ErrorKind = %s, want cancelled", res.ErrorKind)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation should cut the backoff short")
	}
	if h.secondary.Calls() != 0 {
		t.Error("no fallback after cancellation")
	}
}
