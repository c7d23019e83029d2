package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filecloud/pushgate/internal/bus"
	"github.com/filecloud/pushgate/internal/config"
	"github.com/filecloud/pushgate/internal/dispatch"
	"github.com/filecloud/pushgate/internal/mapping"
	"github.com/filecloud/pushgate/internal/metrics"
	"github.com/filecloud/pushgate/internal/registry"
	"github.com/filecloud/pushgate/internal/server"
	"github.com/filecloud/pushgate/internal/session"
	"github.com/filecloud/pushgate/internal/upstream"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pushgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; missing .env is fine.
	godotenv.Load()

	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}
	if opts.Version {
		fmt.Println("pushgate " + version)
		return nil
	}

	cfg, err := opts.Resolve()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.DumpConfig {
		fmt.Printf("%+v\n", *cfg)
		return nil
	}

	setupLogging(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to app database: %w", err)
	}

	redisBus, err := bus.NewRedis(cfg.RedisURLs)
	if err != nil {
		return err
	}
	defer redisBus.Close()

	m := metrics.New()
	storageMapping := mapping.New(mapping.NewSQLLoader(db, cfg.DatabasePrefix), m)
	connections := registry.New(m)
	app := upstream.NewClient(cfg.UpstreamURL, cfg.AllowSelfSigned)
	dispatcher := dispatch.New(redisBus, storageMapping, connections, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 3)
	go func() {
		errs <- dispatcher.Run(ctx)
	}()

	wsHandler := session.NewHandler(connections, app, m, cfg.MaxConnectionTime)
	gateway := server.New(wsHandler, dispatcher, app, storageMapping)

	listener, err := server.Listen(cfg.Bind)
	if err != nil {
		return err
	}
	defer listener.Close()
	slog.Info("listening", "bind", cfg.Bind.String(), "tls", cfg.TLS != nil)
	go func() {
		errs <- server.Serve(listener, gateway, cfg.TLS)
	}()

	if cfg.MetricsBind != nil {
		metricsListener, err := server.Listen(*cfg.MetricsBind)
		if err != nil {
			return err
		}
		defer metricsListener.Close()
		slog.Info("serving metrics", "bind", cfg.MetricsBind.String())
		go func() {
			errs <- server.Serve(metricsListener, promhttp.Handler(), nil)
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	case err := <-errs:
		return err
	}
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
