// Package decompose splits composite tasks into subtasks using static patterns.
package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/delegate/internal/graph"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// Decomposer applies the policy's decomposition patterns.
// Decomposition is exactly one level deep: subtasks are never decomposed again.
type Decomposer struct {
	cfg *policy.Config
}

// New creates a Decomposer.
func New(cfg *policy.Config) *Decomposer {
	return &Decomposer{cfg: cfg}
}

// HasPattern reports whether a task type is decomposable.
func (d *Decomposer) HasPattern(t models.TaskType) bool {
	_, ok := d.cfg.Pattern(t)
	return ok
}

// Decompose splits req according to the pattern registered for taskType.
// When no pattern exists the request is returned unmodified as the single
// subtask, SynthesisRequired is false and ok is false.
func (d *Decomposer) Decompose(req models.TaskRequest, taskType models.TaskType) (dec models.TaskDecomposition, ok bool) {
	pattern, found := d.cfg.Pattern(taskType)
	if !found {
		return models.TaskDecomposition{
			Parent:   req,
			Subtasks: []models.Subtask{{Name: string(taskType), Request: req}},
			Ordered:  true,
		}, false
	}

	n := len(pattern.Templates)
	share := req.EstimatedCost / int64(n)

	dec = models.TaskDecomposition{
		Parent:            req,
		Subtasks:          make([]models.Subtask, 0, n),
		Ordered:           true,
		SynthesisRequired: true,
	}

	for i, tmpl := range pattern.Templates {
		subType := tmpl.Type
		if subType == "" {
			subType = taskType
		}

		sub := req.WithPayload(SubtaskID(req.ID, tmpl.Name), subtaskPayload(tmpl, req.Payload))
		sub.Type = subType
		sub.EstimatedCost = share
		sub.TierHint = ""
		sub.Sparring = ""

		deps := make([]string, 0, len(tmpl.DependsOn))
		for _, pos := range tmpl.DependsOn {
			deps = append(deps, SubtaskID(req.ID, pattern.Templates[pos].Name))
		}
		if i > 0 && !dependsOn(tmpl.DependsOn, i-1) {
			dec.Ordered = false
		}

		dec.Subtasks = append(dec.Subtasks, models.Subtask{
			Name:              tmpl.Name,
			Position:          i,
			Request:           sub,
			PreferredExecutor: tmpl.Executor,
			DependsOn:         deps,
		})
	}

	return dec, true
}

// Graph builds the dependency graph of a decomposition.
func Graph(dec models.TaskDecomposition) (*graph.DependencyGraph, error) {
	nodes := make([]graph.Node, len(dec.Subtasks))
	for i, st := range dec.Subtasks {
		nodes[i] = graph.Node{ID: st.Request.ID, DependsOn: st.DependsOn}
	}
	g, err := graph.Build(nodes)
	if err != nil {
		return nil, fmt.Errorf("decomposition of %s: %w", dec.Parent.ID, err)
	}
	return g, nil
}

// SubtaskID derives a stable subtask ID from the parent ID and template name.
func SubtaskID(parentID, name string) string {
	return parentID + "/" + name
}

func subtaskPayload(tmpl policy.Template, parent string) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(tmpl.Name)
	b.WriteString("] ")
	b.WriteString(tmpl.Instruction)
	b.WriteString("\n\n")
	b.WriteString(parent)
	return b.String()
}

func dependsOn(deps []int, pos int) bool {
	for _, d := range deps {
		if d == pos {
			return true
		}
	}
	return false
}
