package engine

import (
	"context"

	"github.com/ShayCichocki/delegate/internal/synth"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// runHybrid drafts req on the secondary executor and has the primary refine
// the draft. A failed draft still lets the primary attempt the task alone.
func (e *Engine) runHybrid(ctx context.Context, req models.TaskRequest, dec models.DelegationDecision) models.ExecutionResult {
	draft := e.resilience.Run(ctx, req.WithPayload(req.ID+"/draft", req.Payload), models.ExecutorSecondary)
	if ctx.Err() != nil {
		out := models.FailedResult(req.ID, models.ExecutorSecondary, models.ErrorKindCancelled, "cancelled while drafting")
		out.Consumed = draft.Consumed
		out.Attempts = draft.Attempts
		return out
	}

	payload := req.Payload
	if draft.Succeeded() {
		payload += "\n\n## Draft to refine\n" + draft.Payload
	} else {
		e.logger.Info("hybrid draft failed, refining without it", "task", req.ID, "error_kind", draft.ErrorKind)
	}

	refined := e.resilience.Run(ctx, req.WithPayload(req.ID+"/refine", payload), models.ExecutorPrimary)
	attempts := append(append([]models.Attempt(nil), draft.Attempts...), refined.Attempts...)
	retries := draft.Retries + refined.Retries

	if !refined.Succeeded() {
		out := refined
		out.TaskID = req.ID
		out.Consumed += draft.Consumed
		out.Attempts = attempts
		out.Retries = retries
		if draft.Succeeded() {
			out.Partial = []models.ExecutionResult{draft}
		}
		return out
	}

	refined.Confidence = dec.Confidence
	refined.Rationale = string(dec.Rule)
	merged, _ := e.synth.Merge(synth.Input{
		Candidate: refined,
		Rules:     []string{string(models.StrategyHybrid)},
	})
	merged.TaskID = req.ID
	merged.Consumed += draft.Consumed
	merged.Attempts = attempts
	merged.Retries = retries
	return merged
}
