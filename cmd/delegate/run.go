package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delegate/internal/engine"
	"github.com/ShayCichocki/delegate/internal/taskfile"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// taskFlags are shared by run, decide and spar.
type taskFlags struct {
	id           string
	taskType     string
	priority     string
	cost         int64
	tier         string
	sparring     string
	capabilities []string
	file         string
}

func (f *taskFlags) register(cmd *cobra.Command, withFile bool) {
	cmd.Flags().StringVar(&f.id, "id", "", "Task ID (default: generated)")
	cmd.Flags().StringVarP(&f.taskType, "type", "t", string(models.TaskTypeGeneral), "Task type, or general to infer it")
	cmd.Flags().StringVarP(&f.priority, "priority", "p", "normal", "Priority: low, normal, high, critical")
	cmd.Flags().Int64Var(&f.cost, "cost", 0, "Estimated cost (default: estimated from the payload)")
	cmd.Flags().StringVar(&f.tier, "tier", "", "Tier hint: mechanical, analytical, reasoning, creative, strategic")
	cmd.Flags().StringVar(&f.sparring, "sparring", "", "Request a sparring pass: challenge, alternatives, combined")
	cmd.Flags().StringSliceVar(&f.capabilities, "cap", nil, "Required capability (repeatable)")
	if withFile {
		cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read tasks from a YAML file instead of arguments")
	}
}

// requests builds the tasks named by the flags and positional payload.
func (f *taskFlags) requests(args []string) ([]models.TaskRequest, error) {
	if f.file != "" {
		if len(args) > 0 {
			return nil, errors.New("give either --file or a payload, not both")
		}
		return taskfile.ReadFile(f.file)
	}
	payload := strings.TrimSpace(strings.Join(args, " "))
	if payload == "" {
		return nil, errors.New("a task payload is required")
	}
	req, err := taskfile.Task{
		ID:            f.id,
		Type:          f.taskType,
		Payload:       payload,
		EstimatedCost: f.cost,
		Capabilities:  f.capabilities,
		Priority:      f.priority,
		Tier:          f.tier,
		Sparring:      f.sparring,
	}.Request(time.Now())
	if err != nil {
		return nil, err
	}
	return []models.TaskRequest{req}, nil
}

var (
	runFlags taskFlags
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run [payload...]",
	Short: "Submit a task and print the decision and result",
	Long: `Submit one task, or every task in a YAML file, to the engine.

Examples:
  delegate run --type file_search "find every caller of LoadConfig"
  delegate run --type security_audit --sparring combined "audit the login flow"
  delegate run -f tasks.yaml`,
	RunE: runTasks,
}

func init() {
	runFlags.register(runCmd, true)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print reports as JSON")
}

// jsonReport is the machine-readable form of a report.
type jsonReport struct {
	Type     models.TaskType           `json:"type"`
	Tier     models.Tier               `json:"tier"`
	Decision models.DelegationDecision `json:"decision"`
	Subtasks []string                  `json:"subtasks,omitempty"`
	Sparring string                    `json:"sparring,omitempty"`
	Result   models.ExecutionResult    `json:"result"`
}

func toJSONReport(r engine.Report) jsonReport {
	out := jsonReport{
		Type:     r.Classification.Type,
		Tier:     r.Classification.Tier,
		Decision: r.Decision,
		Result:   r.Result,
	}
	if r.Decomposition != nil {
		for _, st := range r.Decomposition.Subtasks {
			out.Subtasks = append(out.Subtasks, st.Name)
		}
	}
	if r.Sparring != nil {
		out.Sparring = string(r.Sparring.State)
	}
	return out
}

func runTasks(cmd *cobra.Command, args []string) error {
	reqs, err := runFlags.requests(args)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(commandContext(cmd))

	ctx := commandContext(cmd)
	sess := a.engine.OpenSession(ctx)
	defer a.engine.CloseSession(sess.ID)

	out := cmd.OutOrStdout()
	failed := 0
	for i, req := range reqs {
		report := a.engine.Submit(ctx, sess, req)
		if !report.Result.Succeeded() {
			failed++
		}
		if runJSON {
			if err := writeJSON(out, toJSONReport(report)); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			fmt.Fprintln(out, dimColor.Sprint(strings.Repeat("-", 40)))
		}
		printReport(out, report)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(reqs))
	}
	return nil
}
