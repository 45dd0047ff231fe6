package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var decideFlags taskFlags

var decideCmd = &cobra.Command{
	Use:   "decide [payload...]",
	Short: "Print the delegation decision without executing",
	Long: `Classify the task and evaluate the delegation rules against a fresh session.
No executor is called.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := decideFlags.requests(args)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(commandContext(cmd))

		out := cmd.OutOrStdout()
		for i, req := range reqs {
			if i > 0 {
				fmt.Fprintln(out)
			}
			planned, class, dec := a.engine.Plan(nil, req)
			fmt.Fprintf(out, "%s %s (estimated cost %d)\n", labelColor.Sprint("task:"), planned.ID, planned.EstimatedCost)
			printDecision(out, class, dec)
		}
		return nil
	},
}

func init() {
	decideFlags.register(decideCmd, true)
}
