package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"livetrail.dev/internal/app"
	"livetrail.dev/internal/appconf"
	"livetrail.dev/internal/engine"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/metrics"
	"livetrail.dev/internal/restapi"
	"livetrail.dev/internal/snapper"
	"livetrail.dev/internal/source"
	"livetrail.dev/internal/trailstore"
	"livetrail.dev/internal/webui"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewStructuredLogger(os.Stdout, level)
	slog.SetDefault(logger)

	store, err := trailstore.NewClient(trailstore.NewConfig(cfg.Store.Path, cfg.Env, logger))
	if err != nil {
		return fmt.Errorf("open trail store: %w", err)
	}
	defer logging.SafeCloseWithLogging(store, logger, "trail_store")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	src, err := buildSource(cfg.Source, httpClient, logger)
	if err != nil {
		return err
	}
	snap := buildSnapper(cfg.Engine, httpClient, collector, logger)

	eng := engine.New(engine.Config{
		MinDisplacementMeters: cfg.Engine.MinDisplacementMeters,
		PollInterval:          cfg.Engine.PollInterval(),
		PollTimeout:           cfg.Engine.PollTimeout(),
	}, src, store, snap,
		engine.WithLogger(logger),
		engine.WithRecorder(collector),
		engine.WithFixObserver(collector),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start trail engine: %w", err)
	}
	defer eng.Shutdown()

	application := &app.Application{
		Config:  cfg,
		Logger:  logger,
		Engine:  eng,
		Store:   store,
		Metrics: collector,
	}

	api := restapi.NewRestAPI(application)
	defer api.Close()

	router := api.Routes()
	if cfg.Env != appconf.Production {
		webUI := &webui.WebUI{Application: application}
		webUI.SetWebUIRoutes(router)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.Wrap(router),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "starting_server",
			slog.String("addr", srv.Addr),
			slog.String("env", cfg.Env.String()),
			slog.String("source", cfg.Source.Kind),
			slog.Bool("snapping", snap.Enabled()))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logging.LogOperation(logger, "shutdown_signal_received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "http server shutdown failed", err)
	}
	return nil
}

// buildSource returns the configured fix source.
func buildSource(cfg appconf.SourceConfig, httpClient *http.Client, logger *slog.Logger) (source.FixSource, error) {
	switch cfg.Kind {
	case appconf.SourceKafka:
		return source.NewKafkaSource(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Logger:  logger,
		}), nil
	case appconf.SourceFirebase:
		loc := time.UTC
		if cfg.Firebase.TimeZone != "" {
			var err error
			if loc, err = time.LoadLocation(cfg.Firebase.TimeZone); err != nil {
				return nil, fmt.Errorf("firebase time zone: %w", err)
			}
		}
		return source.NewFirebaseSource(source.FirebaseConfig{
			DatabaseURL: cfg.Firebase.DatabaseURL,
			Root:        cfg.Firebase.Root,
			Credential:  cfg.Firebase.Credential,
			Location:    loc,
			HTTPClient:  httpClient,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown fix source %q", cfg.Kind)
	}
}

// buildSnapper wires the routing client. Without an endpoint every snap is
// a passthrough of the raw trail.
func buildSnapper(cfg appconf.EngineConfig, httpClient *http.Client, recorder snapper.Recorder, logger *slog.Logger) *snapper.Client {
	var provider snapper.Provider
	if cfg.SnapServiceEndpoint != "" {
		provider = snapper.NewOSRMProvider(cfg.SnapServiceEndpoint, cfg.SnapProfile, cfg.SnapServiceCredential, httpClient,
			logger.With(slog.String("component", "osrm_provider")))
	}
	return snapper.NewClient(provider, snapper.Config{
		Timeout:       cfg.SnapTimeout(),
		RatePerSecond: cfg.SnapRatePerSecond,
		Logger:        logger,
		Recorder:      recorder,
	})
}
