package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen string
	serveInbox  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose Prometheus metrics and optionally watch an inbox",
	Long: `Serve /metrics and /healthz on metrics.listen (or --listen). With --inbox,
task files dropped into the directory are submitted as in 'delegate watch'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		defer a.close(context.WithoutCancel(ctx))

		addr := serveListen
		if addr == "" {
			addr = a.cfg.Metrics.Listen
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           newServeMux(a),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.log.Info("metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if serveInbox != "" {
			g.Go(func() error {
				return runInbox(ctx, a, serveInbox, cmd.OutOrStdout())
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: metrics.listen)")
	serveCmd.Flags().StringVar(&serveInbox, "inbox", "", "Directory to watch for task files")
}

func newServeMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, a.recorder.Snapshot())
	})
	return mux
}
