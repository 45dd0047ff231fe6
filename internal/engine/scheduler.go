package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/delegate/internal/classify"
	"github.com/ShayCichocki/delegate/internal/decompose"
	"github.com/ShayCichocki/delegate/internal/synth"
	"github.com/ShayCichocki/delegate/pkg/models"
)

var errSubtaskFailed = errors.New("subtask failed")

type subtaskOutcome struct {
	id  string
	res models.ExecutionResult
}

// runDecomposed splits req with its pattern, runs the subtasks as a
// dependency graph and merges their outputs. A task with no pattern runs
// undecomposed on the decided executor.
func (e *Engine) runDecomposed(ctx context.Context, sess *Session, req models.TaskRequest, class classify.Classification, dec models.DelegationDecision, report *Report) models.ExecutionResult {
	split, ok := e.decomposer.Decompose(req, class.Type)
	if !ok {
		e.logger.Info("decomposition pattern missing, running undecomposed", "task", req.ID, "type", class.Type)
		return e.runDirect(ctx, req, dec)
	}
	report.Decomposition = &split

	results, failed := e.schedule(ctx, sess, split)

	var (
		consumed int64
		retries  int
		attempts []models.Attempt
		partial  []models.ExecutionResult
	)
	for _, st := range split.Subtasks {
		r, ok := results[st.Request.ID]
		if !ok {
			continue
		}
		consumed += r.Consumed
		retries += r.Retries
		attempts = append(attempts, r.Attempts...)
		if r.Succeeded() {
			partial = append(partial, r)
		}
	}

	if failed != nil {
		out := models.FailedResult(req.ID, failed.Executor, failed.ErrorKind,
			fmt.Sprintf("subtask %s: %s", failed.TaskID, failed.Error))
		out.Consumed = consumed
		out.Retries = retries
		out.Attempts = attempts
		out.Partial = partial
		out.Rationale = string(dec.Rule) + synth.RationaleSeparator + "decompose"
		return out
	}

	contribs := make([]synth.Contribution, 0, len(split.Subtasks))
	for _, st := range split.Subtasks {
		r := results[st.Request.ID]
		contribs = append(contribs, synth.Contribution{
			Source:       st.Request.ID,
			Position:     st.Position,
			Rule:         "decompose",
			Confidence:   e.subtaskConfidence(st, dec),
			Improvements: []models.Improvement{{Aspect: st.Name, Text: r.Payload}},
			DependsOn:    st.DependsOn,
		})
	}

	merged, conflicts := e.synth.Merge(synth.Input{
		Candidate: models.ExecutionResult{
			TaskID:     req.ID,
			Executor:   dec.Executor,
			Status:     models.StatusSucceeded,
			Confidence: dec.Confidence,
			Rationale:  string(dec.Rule),
		},
		Contributions: contribs,
	})
	if len(conflicts) > 0 {
		e.logger.Info("subtask outputs conflicted", "task", req.ID, "conflicts", len(conflicts))
	}
	merged.Consumed = consumed
	merged.Retries = retries
	merged.Attempts = attempts
	return merged
}

// subtaskConfidence is the delegation table confidence of the subtask's
// type, or the parent decision's confidence for unmapped types.
func (e *Engine) subtaskConfidence(st models.Subtask, dec models.DelegationDecision) float64 {
	if m, ok := e.cfg.Mapping(st.Request.Type); ok {
		return m.Confidence
	}
	return dec.Confidence
}

// schedule runs the subtasks of split, each after its dependencies, with at
// most MaxParallel in flight. The first failure cancels the rest. It returns
// every result that finished and the first failure, if any.
func (e *Engine) schedule(ctx context.Context, sess *Session, split models.TaskDecomposition) (map[string]models.ExecutionResult, *models.ExecutionResult) {
	dg, err := decompose.Graph(split)
	if err != nil {
		res := models.FailedResult(split.Parent.ID, "", models.ErrorKindUnknown, err.Error())
		return nil, &res
	}

	byID := make(map[string]models.Subtask, len(split.Subtasks))
	for _, st := range split.Subtasks {
		byID[st.Request.ID] = st
	}

	g, gctx := errgroup.WithContext(ctx)
	if n := e.cfg.Decomposition.MaxParallel; n > 0 {
		g.SetLimit(n)
	}

	results := make(map[string]models.ExecutionResult, len(split.Subtasks))
	outcomes := make(chan subtaskOutcome, len(split.Subtasks))
	started := make(map[string]bool, len(split.Subtasks))
	running := 0
	var failed *models.ExecutionResult

	for failed == nil && !dg.Done() {
		for _, id := range dg.Ready() {
			if started[id] {
				continue
			}
			started[id] = true
			running++

			st := byID[id]
			st.Request.Payload = withDependencyInputs(st, byID, results)
			e.emitter.Emit(EngineEvent{
				Type:      EventSubtaskStarted,
				SessionID: sess.ID,
				TaskID:    id,
				ParentID:  split.Parent.ID,
				Executor:  st.PreferredExecutor,
				Message:   st.Name,
			})

			g.Go(func() error {
				res := e.resilience.Run(gctx, st.Request, st.PreferredExecutor)
				res.TaskID = st.Request.ID
				outcomes <- subtaskOutcome{id: id, res: res}
				if !res.Succeeded() {
					return errSubtaskFailed
				}
				return nil
			})
		}
		if running == 0 {
			break
		}

		o := <-outcomes
		running--
		results[o.id] = o.res
		e.emitSubtask(sess, split.Parent.ID, o)
		if !o.res.Succeeded() {
			r := o.res
			failed = &r
			break
		}
		dg.MarkComplete(o.id)
	}

	_ = g.Wait()
	for running > 0 {
		o := <-outcomes
		running--
		results[o.id] = o.res
		e.emitSubtask(sess, split.Parent.ID, o)
	}
	return results, failed
}

func (e *Engine) emitSubtask(sess *Session, parentID string, o subtaskOutcome) {
	ev := EngineEvent{
		Type:      EventSubtaskCompleted,
		SessionID: sess.ID,
		TaskID:    o.id,
		ParentID:  parentID,
		Executor:  o.res.Executor,
		Duration:  o.res.Duration,
		Consumed:  o.res.Consumed,
	}
	if !o.res.Succeeded() {
		ev.Type = EventSubtaskFailed
		ev.ErrorKind = o.res.ErrorKind
		ev.Message = o.res.Error
	}
	e.emitter.Emit(ev)
}

// withDependencyInputs appends the outputs of st's dependencies to its payload.
func withDependencyInputs(st models.Subtask, byID map[string]models.Subtask, results map[string]models.ExecutionResult) string {
	if len(st.DependsOn) == 0 {
		return st.Request.Payload
	}
	var b strings.Builder
	b.WriteString(st.Request.Payload)
	for _, dep := range st.DependsOn {
		r, ok := results[dep]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n\n## Input from %s\n%s", byID[dep].Name, r.Payload)
	}
	return b.String()
}
