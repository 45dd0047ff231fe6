package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delegate/internal/config"
)

var (
	configPath string
	dryRun     bool
	logLevel   string
	showEvents bool
)

var rootCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Route work between a primary and a secondary model",
	Long: `delegate classifies each task, decides which of two executors should run it,
splits composite work into dependent subtasks, retries and falls back across
executors, and optionally stress-tests results with a sparring pass.

Configuration is read from ~/.config/delegate/config.yaml, then .delegate.yaml
in the current directory or a parent, then DELEGATE_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: XDG and project config)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Use local echo executors instead of the model API")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&showEvents, "events", false, "Print engine events as they happen")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(sparCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig applies --config and --log-level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openApp loads the configuration and wires the engine for cmd.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := appOptions{dryRun: dryRun, logOutput: cmd.ErrOrStderr()}
	if showEvents {
		opts.events = cmd.ErrOrStderr()
	}
	return newApp(commandContext(cmd), cfg, opts)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
