package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ShayCichocki/delegate/internal/cache"
	"github.com/ShayCichocki/delegate/internal/classify"
	"github.com/ShayCichocki/delegate/internal/config"
	"github.com/ShayCichocki/delegate/internal/engine"
	"github.com/ShayCichocki/delegate/internal/executor"
	"github.com/ShayCichocki/delegate/internal/logging"
	"github.com/ShayCichocki/delegate/internal/metrics"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/internal/store"
	"github.com/ShayCichocki/delegate/internal/telemetry"
	"github.com/ShayCichocki/delegate/internal/version"
	"github.com/ShayCichocki/delegate/pkg/models"
)

const eventBufferSize = 256

// app holds everything one CLI invocation builds from the configuration.
type app struct {
	cfg      *config.Config
	policy   *policy.Config
	log      *logging.Logger
	engine   *engine.Engine
	recorder *metrics.Recorder
	registry *prometheus.Registry
	emitter  *engine.EventEmitter
	db       *store.DB

	shutdownTelemetry telemetry.ShutdownFunc
	eventsDone        chan struct{}
}

type appOptions struct {
	// dryRun replaces both model backends with local echo backends.
	dryRun bool
	// events receives a line per engine event. Nil discards them.
	events io.Writer
	// logOutput overrides stderr for log lines.
	logOutput io.Writer
}

// newApp wires the engine from cfg. Configuration errors are returned before
// any backend is contacted.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	pol, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, policy: pol, eventsDone: make(chan struct{})}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.log, err = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Output: opts.logOutput,
	})
	if err != nil {
		return nil, err
	}
	logger := a.log.Logger

	a.shutdownTelemetry, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Get(),
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	primaryBackend, secondaryBackend, err := newBackends(ctx, cfg, opts.dryRun)
	if err != nil {
		return nil, err
	}

	if needsStore(cfg) {
		a.db, err = store.OpenMigrated(storePath(cfg))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	var resultCache *cache.Cache
	if pol.Cache.Enabled {
		var backing cache.Store = cache.NewMemoryStore(pol.Cache.Size, pol.Cache.TTL)
		if cfg.Cache.Backend == config.CacheBackendSQLite {
			backing = a.db
		}
		resultCache = cache.New(backing, pol.Cache.TTL, cache.WithLogger(logger))
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sinks := []metrics.Sink{metrics.MustNewPrometheusSink(a.registry, cfg.Metrics.Namespace)}
	if cfg.Metrics.Persist {
		sinks = append(sinks, a.db)
	}
	a.recorder = metrics.NewRecorder(pol, logger, sinks...)

	a.emitter = engine.NewEventEmitter(eventBufferSize, logger)
	go a.drainEvents(opts.events)

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRecorder(a.recorder),
		engine.WithEventEmitter(a.emitter),
	}
	if resultCache != nil {
		engineOpts = append(engineOpts, engine.WithCache(resultCache))
	}
	if opts.dryRun {
		engineOpts = append(engineOpts, engine.WithEstimator(classify.Estimator{}))
	}

	a.engine, err = engine.New(pol,
		executor.NewGateway(models.ExecutorPrimary, pol.Primary, primaryBackend, executor.WithLogger(logger)),
		executor.NewGateway(models.ExecutorSecondary, pol.Secondary, secondaryBackend, executor.WithLogger(logger)),
		engineOpts...,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newBackends(ctx context.Context, cfg *config.Config, dryRun bool) (primary, secondary executor.Backend, err error) {
	if dryRun {
		return executor.NewScriptedBackend(), executor.NewScriptedBackend(), nil
	}

	ac := executor.AnthropicConfig{
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !ac.UseAWSBedrock {
		ac.APIKey, err = config.GetAPIKey(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY, or use --dry-run)", err)
		}
		if err := config.ValidateAPIKey(ac.APIKey); err != nil {
			return nil, nil, fmt.Errorf("%s key: %w", config.GetAPIKeySource(cfg), err)
		}
	}
	backend, err := executor.NewAnthropicBackend(ctx, ac)
	if err != nil {
		return nil, nil, err
	}
	// Each gateway sends its own model name, so one client serves both.
	return backend, backend, nil
}

func needsStore(cfg *config.Config) bool {
	return cfg.Metrics.Persist || (cfg.Cache.Enabled && cfg.Cache.Backend == config.CacheBackendSQLite)
}

// storePath picks the sqlite file shared by the cache and the event log.
func storePath(cfg *config.Config) string {
	switch {
	case cfg.Cache.Path != "":
		return cfg.Cache.Path
	case cfg.Metrics.Path != "":
		return cfg.Metrics.Path
	default:
		return store.DefaultPath()
	}
}

func (a *app) drainEvents(w io.Writer) {
	defer close(a.eventsDone)
	for ev := range a.emitter.Events() {
		if w != nil {
			printEvent(w, ev)
		}
	}
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.emitter != nil {
		a.emitter.Close()
		<-a.eventsDone
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.log.Close())
	return errors.Join(errs...)
}
