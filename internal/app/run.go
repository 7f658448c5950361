package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"windmon/internal/config"
	db "windmon/internal/db"
	httpapi "windmon/internal/httpapi"
	"windmon/internal/migrate"
	"windmon/internal/mqtt"
	"windmon/internal/wind"
	"windmon/internal/wind/controller"
	"windmon/internal/wind/repository"
	"windmon/internal/wind/snapshot"
	"windmon/internal/wind/store"
	"windmon/internal/wind/tail"
	windviews "windmon/internal/wind/views"
)

const (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// Run wires the tail engine, optional ledger and MQTT fan-out, and the HTTP
// surface, then blocks until ctx is cancelled or the listener fails.
func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"app_env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"debug", cfg.Debug,
		"http_addr", cfg.HTTPAddr,
		"log_dir", cfg.LogDir,
		"log_pattern", cfg.LogPattern,
		"poll_interval", cfg.PollInterval,
		"watch_mode", cfg.WatchMode,
		"raw_log_dir", cfg.RawLogDir,
		"ledger_enabled", cfg.LedgerEnabled,
		"sqlite_path", cfg.SQLitePath,
		"mqtt_enabled", cfg.MQTTEnabled,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_topic_prefix", cfg.MQTTTopicPrefix,
	)

	if err := windviews.LoadTemplates(); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	var (
		dbConn *sql.DB
		ledger repository.IngestRepository
	)
	if cfg.LedgerEnabled {
		conn, err := db.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		dbConn = conn
		defer func() {
			if err := db.Close(dbConn); err != nil {
				logger.Error("db close", "error", err)
			}
		}()
		if err := migrate.Run(ctx, dbConn, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		ledger = repository.NewRepository(dbConn)
		logger.Info("ingest ledger ready")
	}

	var publisher *mqtt.Publisher
	if cfg.MQTTEnabled {
		publisher = mqtt.NewPublisher(mqtt.Options{
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QueueSize:   cfg.MQTTQueueSize,
		}, logger.With("component", "mqtt"))
		defer publisher.Disconnect()

		connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err := publisher.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// paho keeps retrying; readings are dropped until it connects.
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	st := store.New()
	opts := tail.Options{
		Dir:      cfg.LogDir,
		Pattern:  cfg.LogPattern,
		Interval: cfg.PollInterval,
		Backoff:  cfg.ErrorBackoff,
		Debug:    cfg.Debug,
		Notify:   cfg.WatchMode == config.WatchNotify,
		Store:    st,
		Logger:   logger.With("component", "tail"),
	}
	deps := controller.Deps{
		Publisher: snapshot.NewPublisher(st),
		Ledger:    ledger,
		RawLogDir: cfg.RawLogDir,
	}
	if ledger != nil {
		opts.Ledger = ledger
	}
	if publisher != nil {
		opts.Sink = publisher
		deps.Fanout = publisher
	}
	engine, err := tail.New(opts)
	if err != nil {
		return err
	}
	deps.Ingest = engine

	mux := httpapi.NewMux(dbConn, engine)
	wind.RegisterFeature(mux, deps)
	srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)

	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	var (
		runErr        error
		serverStopped bool
	)
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		serverStopped = true
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if !serverStopped {
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) && runErr == nil {
			runErr = err
		}
	}

	logger.Info("tail engine stopping")
	stopEngine()
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Warn("tail engine did not stop before shutdown timeout")
	}

	return runErr
}
