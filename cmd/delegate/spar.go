package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delegate/internal/sparring"
	"github.com/ShayCichocki/delegate/pkg/models"
)

var (
	sparFlags taskFlags
	sparMode  string
)

var sparCmd = &cobra.Command{
	Use:   "spar [problem...]",
	Short: "Draft a solution and stress-test it with the secondary executor",
	Long: `The primary executor drafts a candidate, the secondary executor challenges it
and proposes alternatives, and the results are synthesized into one answer.

Modes: challenge, alternatives, combined. Without --mode the mode follows the
task tier: creative work gets alternatives, strategic work gets combined,
everything else gets challenge.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := models.SparringMode(sparMode)
		if mode != "" && !mode.Valid() {
			return fmt.Errorf("unknown sparring mode %q", sparMode)
		}
		reqs, err := sparFlags.requests(args)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(commandContext(cmd))

		out := cmd.OutOrStdout()
		failed := 0
		for _, req := range reqs {
			s, err := a.engine.Spar(commandContext(cmd), nil, req, mode)
			if err != nil {
				return err
			}
			printSparring(out, s)
			if s.State != sparring.StateCompleted {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d sparring sessions failed", failed)
		}
		return nil
	},
}

func init() {
	sparFlags.register(sparCmd, true)
	sparCmd.Flags().StringVarP(&sparMode, "mode", "m", "", "Sparring mode (default: inferred from tier)")
}
