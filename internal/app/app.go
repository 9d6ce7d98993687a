// Package app wires the SIEM gateway together: configuration, the four core
// pipeline stages, persistence, the change-stream bridge, fan-out observers,
// metrics, and tracing. It is the thin "construct and run" layer the core
// package family (pkg/ids, pkg/events, pkg/normalizer, pkg/clusterer,
// pkg/correlator, pkg/changestream) is deliberately silent about — spec.md
// §1 names the ingest/query/fan-out surfaces as external collaborators and
// does not prescribe their implementation; this package gives them a real,
// if minimal, body.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aegismind-siem/internal/config"
	"aegismind-siem/internal/metrics"
	apptracing "aegismind-siem/internal/tracing"
	"aegismind-siem/pkg/audit"
	"aegismind-siem/pkg/changestream"
	"aegismind-siem/pkg/clusterer"
	"aegismind-siem/pkg/correlator"
	"aegismind-siem/pkg/events"
	"aegismind-siem/pkg/fanout"
	"aegismind-siem/pkg/hotreload"
	"aegismind-siem/pkg/normalizer"
	"aegismind-siem/pkg/ratelimit"
	"aegismind-siem/pkg/security"
	"aegismind-siem/pkg/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// pipelineStore is everything App needs from persistence: the correlator's
// output sink, the query surface's read path, the audit trail, and the
// change-stream source the bridge watches. *store.MongoStore is the one
// concrete implementation (see pkg/store); tests substitute an in-memory
// fake so the gateway's wiring is exercised without a live MongoDB.
type pipelineStore interface {
	store.IncidentStore
	store.EventStore
	changestream.ChangeSource
	audit.Inserter
	Close(ctx context.Context) error
}

// App coordinates the gateway's lifecycle: construct once via New, then Run
// blocks until a shutdown signal arrives.
type App struct {
	config *config.Config
	logger *logrus.Logger

	store     pipelineStore
	verifier  *security.IngestVerifier
	auth      *security.AuthManager
	validator *security.InputValidator
	ingestLim *ratelimit.AdaptiveLimiter

	normalizer *normalizer.Normalizer
	clusterer  *clusterer.Clusterer
	correlator *correlator.Correlator

	bridge    *changestream.Bridge
	observers []fanout.Observer
	audit     *audit.Writer
	tracing   *apptracing.Manager
	metrics   *metrics.Server
	reloader  *hotreload.ConfigReloader

	configFile string

	incidentsMu sync.Mutex
	incidents   map[string]*events.Incident

	httpServer *http.Server
}

// New constructs an App from the configuration file at configFile (empty
// uses built-in defaults plus environment overrides). Construction never
// dials Mongo or Kafka; those connect during Run so a bad config file
// fails fast without a network round trip.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	tracingManager, err := apptracing.NewManager(apptracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	observers := []fanout.Observer{fanout.NewChannelObserver(256)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaObserver, err := fanout.NewKafkaObserver(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("init kafka observer: %w", err)
		}
		observers = append(observers, kafkaObserver)
	}

	reloaderConfig := hotreload.Config{
		Enabled:          cfg.HotReload.Enabled,
		WatchInterval:    cfg.HotReload.WatchInterval,
		DebounceInterval: cfg.HotReload.DebounceInterval,
		ValidateOnReload: cfg.HotReload.ValidateOnReload,
	}
	reloader, err := hotreload.New(reloaderConfig, configFile, logger)
	if err != nil {
		return nil, fmt.Errorf("init hot reload: %w", err)
	}

	a := &App{
		config:     cfg,
		configFile: configFile,
		logger:     logger,
		verifier:   security.NewIngestVerifier(cfg.Gateway.IngestSecret, cfg.Gateway.IngestMaxBodyKB*1024),
		auth:       security.NewAuthManager(security.DefaultAuthConfig(), logger),
		validator:  security.NewInputValidator(security.DefaultValidationConfig()),
		ingestLim:  ratelimit.New(ratelimit.DefaultConfig(), logger),
		normalizer: normalizer.New(logger),
		clusterer:  clusterer.New(cfg.Clusterer, logger),
		correlator: correlator.New(cfg.Correlator, logger),
		observers:  observers,
		tracing:    tracingManager,
		metrics:    metrics.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), logger),
		reloader:   reloader,
		incidents:  make(map[string]*events.Incident),
	}
	reloader.OnChanged(a.applyReloadedConfig, func(err error) {
		logger.WithError(err).Warn("config_reload_rejected")
	})

	return a, nil
}

// applyReloadedConfig re-applies the clusterer and correlator windowing
// knobs from a newly reloaded config. Everything else (Mongo URI, Kafka
// brokers, HTTP listen address) requires a restart to take effect.
func (a *App) applyReloadedConfig(newConfig *config.Config) {
	a.clusterer.SetConfig(newConfig.Clusterer)
	a.config.Clusterer = newConfig.Clusterer
	a.config.Correlator = newConfig.Correlator
	a.logger.WithFields(logrus.Fields{
		"component":            "app",
		"similarity_threshold": newConfig.Clusterer.SimilarityThreshold,
		"cluster_window_sec":   newConfig.Clusterer.WindowSeconds,
	}).Info("pipeline_config_applied")
}

// SetSeedFile overrides the configured seed file path, e.g. from a -seed-file
// CLI flag taking precedence over the config file's gateway.seed_file.
func (a *App) SetSeedFile(path string) {
	a.config.Gateway.SeedFile = path
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	return logger
}

// Run connects to persistence, starts the change-stream bridge and fan-out
// observers, loads an optional seed file, serves the HTTP gateway, and
// blocks until SIGINT/SIGTERM, then shuts everything down in reverse order.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoStore, err := store.Connect(ctx, a.config.Mongo, a.logger)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	a.store = mongoStore
	if err := a.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	a.audit = audit.New(a.store, a.logger)

	if err := a.metrics.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	for _, observer := range a.observers {
		if err := observer.Start(ctx); err != nil {
			a.logger.WithError(err).Warn("fanout_observer_start_failed")
		}
	}

	a.bridge = changestream.New(a.store, a.logger)
	a.bridge.Start(a.dispatchNotification(ctx))

	if err := a.reloader.Start(); err != nil {
		a.logger.WithError(err).Warn("hotreload_start_failed")
	}

	if a.config.Gateway.SeedFile != "" {
		if err := a.ingestSeedFile(ctx, a.config.Gateway.SeedFile); err != nil {
			a.logger.WithError(err).Warn("seed_file_ingest_failed")
		}
	}

	a.httpServer = a.buildHTTPServer()
	go func() {
		addr := fmt.Sprintf("%s:%d", a.config.Gateway.Host, a.config.Gateway.Port)
		a.logger.WithField("addr", addr).Info("gateway_listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("gateway_server_error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown_initiated")
	return a.shutdown(ctx)
}

func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.httpServer != nil {
		_ = a.httpServer.Shutdown(shutdownCtx)
	}
	if a.reloader != nil {
		_ = a.reloader.Stop()
	}
	if a.ingestLim != nil {
		a.ingestLim.Stop()
	}
	if a.bridge != nil {
		a.bridge.Stop()
	}
	for _, observer := range a.observers {
		if err := observer.Stop(); err != nil {
			a.logger.WithError(err).Warn("fanout_observer_stop_error")
		}
	}
	if err := a.tracing.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("tracing_shutdown_error")
	}
	if err := a.metrics.Stop(); err != nil {
		a.logger.WithError(err).Warn("metrics_shutdown_error")
	}
	if a.store != nil {
		if err := a.store.Close(shutdownCtx); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	a.logger.Info("shutdown_complete")
	return nil
}

// dispatchNotification returns the changestream.Callback that fans a
// persisted incident mutation out to every configured Observer.
func (a *App) dispatchNotification(ctx context.Context) changestream.Callback {
	return func(notification changestream.Notification) {
		metrics.ChangeStreamUp.Set(1)
		for _, observer := range a.observers {
			if err := observer.Publish(ctx, notification); err != nil {
				metrics.FanoutDeliveredTotal.WithLabelValues(fmt.Sprintf("%T", observer), "error").Inc()
				a.logger.WithError(err).Warn("fanout_publish_failed")
				continue
			}
			metrics.FanoutDeliveredTotal.WithLabelValues(fmt.Sprintf("%T", observer), "ok").Inc()
		}
	}
}

// buildHTTPServer assembles the gorilla/mux routing table: ingest, query,
// and status-transition endpoints, per spec.md §6 and SPEC_FULL.md §6/§7.
func (a *App) buildHTTPServer() *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ingest", a.handleIngest).Methods(http.MethodPost)
	router.HandleFunc("/incidents", a.handleListIncidents).Methods(http.MethodGet)
	router.HandleFunc("/incidents/{id}", a.handleGetIncident).Methods(http.MethodGet)
	router.HandleFunc("/incidents/{id}/status", a.handleUpdateStatus).Methods(http.MethodPatch)
	router.HandleFunc("/events", a.handleListEvents).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", a.config.Gateway.Host, a.config.Gateway.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
