package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/classify"
	"github.com/miradorstack/mirador-ir/internal/config"
	"github.com/miradorstack/mirador-ir/internal/directory"
	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/monitors"
	"github.com/miradorstack/mirador-ir/internal/patterns"
	"github.com/miradorstack/mirador-ir/internal/pipeline"
	"github.com/miradorstack/mirador-ir/internal/registry"
	"github.com/miradorstack/mirador-ir/internal/reports"
	"github.com/miradorstack/mirador-ir/internal/resolver"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-ir", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	matcher, err := classify.NewMatcherFromPack(cfg.Classify.RulePackPath)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	var agentDirectory directory.AgentDirectory
	if cfg.Directory.BaseURL != "" {
		agentDirectory = directory.NewHTTPClient(cfg.Directory.BaseURL, cfg.Directory.AgentsPath, cfg.Directory.Timeout)
	} else {
		logger.Warn("no agent directory configured, using empty static directory")
		agentDirectory = directory.NewStatic()
	}

	patternStore := patterns.NewStore(logger, cfg.Patterns.Capacity, cfg.Patterns.TTL)

	sink, err := reports.NewBadgerSink(logger, cfg.Reports.Dir, cfg.Reports.InMemory)
	if err != nil {
		logger.Error("failed to open report journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer sink.Close()

	emitter := reports.NewEmitter(logger, nil, sink, cfg.Reports.RetryInterval, cfg.Reports.MaxAttempts)

	incidentRegistry := registry.New(registry.Options{
		Logger: logger,
		Stages: []pipeline.StageExecutor{
			pipeline.NewCommander(logger, cfg.Pipeline.AutomationWindowStart, cfg.Pipeline.AutomationWindowEnd),
			pipeline.NewDiagnostician(logger),
			pipeline.NewFixer(logger, nil, nil),
		},
		StageDeps:       &pipeline.Deps{Directory: agentDirectory},
		Patterns:        patternStore,
		Publisher:       emitter,
		DuplicateWindow: cfg.Registry.DuplicateWindow,
		HistoryLimit:    cfg.Registry.HistoryLimit,
	})

	sweeper := resolver.New(incidentRegistry, patternStore, logger,
		resolver.Thresholds{
			MinSeen: cfg.Patterns.AutoResolveMinSeen,
			MinRate: cfg.Patterns.AutoResolveMinRate,
		},
		cfg.Resolver.Interval)

	dispatcher := registry.NewDispatcher(incidentRegistry, logger, cfg.Registry.DispatchInterval,
		func(inc *models.Incident) bool {
			_, eligible := sweeper.Eligible(inc)
			return eligible
		})

	failures := make(chan models.WorkflowFailure, 64)
	queue := monitors.NewQueue(logger, 256)

	monitorSet := monitors.NewSet(logger)
	if len(cfg.Monitors.LogScan.Sources) > 0 {
		sources := make([]monitors.LogSource, 0, len(cfg.Monitors.LogScan.Sources))
		for _, src := range cfg.Monitors.LogScan.Sources {
			sources = append(sources, monitors.LogSource{Name: src.Name, Path: src.Path})
		}
		monitorSet.Add(monitors.NewLogScanner(logger, matcher, incidentRegistry,
			sources, cfg.Monitors.LogScan.PollInterval))
	}
	if len(cfg.Monitors.HealthProbe.Targets) > 0 {
		targets := make([]monitors.ProbeTarget, 0, len(cfg.Monitors.HealthProbe.Targets))
		for _, target := range cfg.Monitors.HealthProbe.Targets {
			targets = append(targets, monitors.ProbeTarget{Name: target.Name, URL: target.URL})
		}
		monitorSet.Add(monitors.NewHealthProber(logger, matcher, incidentRegistry, targets,
			cfg.Monitors.HealthProbe.Interval, cfg.Monitors.HealthProbe.Timeout,
			cfg.Monitors.HealthProbe.LatencyThreshold))
	}
	monitorSet.Add(monitors.NewWorkflowListener(logger, matcher, incidentRegistry, failures))
	monitorSet.Add(monitors.NewQueueDrainer(logger, matcher, incidentRegistry, queue,
		cfg.Monitors.Queue.Interval, cfg.Monitors.Queue.BatchSize))

	handlers := api.NewHandlers(logger, incidentRegistry, emitter, failures)
	server, err := api.NewServer(cfg.Server, handlers)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emitter.Start(ctx)
	monitorSet.Start(ctx)

	var engineWG sync.WaitGroup
	engineWG.Add(2)
	go func() {
		defer engineWG.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer engineWG.Done()
		sweeper.Run(ctx)
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	monitorSet.Wait()
	engineWG.Wait()
	emitter.Close()

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-ir stopped")
}
