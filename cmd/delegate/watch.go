package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delegate/internal/engine"
	"github.com/ShayCichocki/delegate/internal/taskfile"
	"github.com/ShayCichocki/delegate/pkg/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Submit YAML task files dropped into a directory",
	Long: `Watch a directory for *.yaml and *.yml task files. Each file is submitted once
it stops changing, then moved to done/ or failed/ inside the directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(context.WithoutCancel(commandContext(cmd)))

		return runInbox(commandContext(cmd), a, args[0], cmd.OutOrStdout())
	},
}

// runInbox blocks until ctx is done, submitting every task file in dir.
// Files share one session.
func runInbox(ctx context.Context, a *app, dir string, out io.Writer) error {
	sess := a.engine.OpenSession(ctx)
	defer a.engine.CloseSession(sess.ID)

	inbox, err := taskfile.NewInbox(dir, submitHandler(a.engine, sess, out), taskfile.WithLogger(a.log.Logger))
	if err != nil {
		return err
	}
	a.log.Info("watching inbox", "dir", inbox.Dir(), "session", sess.ID)
	return inbox.Run(ctx)
}

func submitHandler(eng *engine.Engine, sess *engine.Session, out io.Writer) taskfile.Handler {
	var mu sync.Mutex
	return func(ctx context.Context, path string, reqs []models.TaskRequest) error {
		failed := 0
		for _, req := range reqs {
			report := eng.Submit(ctx, sess, req)
			if !report.Result.Succeeded() {
				failed++
			}
			mu.Lock()
			fmt.Fprintf(out, "%s %s\n", labelColor.Sprint(filepath.Base(path)+":"), req.ID)
			printReport(out, report)
			fmt.Fprintln(out)
			mu.Unlock()
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d tasks failed", failed, len(reqs))
		}
		return nil
	}
}
