package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sandrolain/tenant-broker/src/batcher"
	"github.com/sandrolain/tenant-broker/src/bootstrap"
	"github.com/sandrolain/tenant-broker/src/broker"
	"github.com/sandrolain/tenant-broker/src/common/secrets"
	"github.com/sandrolain/tenant-broker/src/config"
	"github.com/sandrolain/tenant-broker/src/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	w := os.Stdout

	// Set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}),
	))

	envCfg, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load environment configuration", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(envCfg)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	pepper, err := secrets.Resolve(envCfg.TenantTokenPepper)
	if err != nil {
		slog.Error("failed to resolve tenant token pepper", "error", err)
		os.Exit(1)
	}
	if pepper == "" {
		if envCfg.Production() {
			slog.Error("TENANT_TOKEN_PEPPER is required in production")
			os.Exit(1)
		}
		slog.Warn("no tenant token pepper configured, credential digests are unpeppered")
	}

	ctx := context.Background()

	pool, err := store.Connect(ctx, store.ConnectOptions{
		ConnString: cfg.Database.URL,
		TLS:        cfg.Database.TLS,
		MaxConns:   cfg.Database.MaxConns,
		MinConns:   cfg.Database.MinConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	tenants := store.NewTenantStore(pool)
	devices := store.NewDeviceStore(pool)
	telemetry := store.NewTelemetryStore(pool)

	tb := batcher.New(telemetry, batcher.Options{
		MaxBufferSize: cfg.Batcher.MaxBufferSize,
		FlushInterval: time.Duration(cfg.Batcher.FlushIntervalMs) * time.Millisecond,
		MaxRetries:    cfg.Batcher.MaxRetries,
	})

	srv, err := broker.New(broker.Options{
		Port:           cfg.MQTT.Port,
		TLS:            cfg.MQTT.TLS,
		Devices:        devices,
		Pepper:         pepper,
		Batcher:        tb,
		MaxPayloadSize: cfg.MQTT.MaxPayloadSize,
	})
	if err != nil {
		slog.Error("failed to create MQTT server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		slog.Error("failed to start MQTT server", "error", err)
		os.Exit(1)
	}

	var httpSrv *bootstrap.HTTPServer
	if cfg.Bootstrap.Address != "" {
		svc, err := bootstrap.NewService(bootstrap.Options{
			Tenants:   tenants,
			Pepper:    pepper,
			RateLimit: cfg.Bootstrap.RateLimit,
		})
		if err != nil {
			slog.Error("failed to create bootstrap service", "error", err)
			os.Exit(1)
		}
		httpSrv = bootstrap.NewHTTPServer(svc, cfg.Bootstrap.Address)
		if err := httpSrv.Start(); err != nil {
			slog.Error("failed to start bootstrap endpoint", "error", err)
			os.Exit(1)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("shutting down", "signal", s.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Close(); err != nil {
			slog.Error("failed to close bootstrap endpoint", "error", err)
		}
	}
	if err := srv.Stop(stopCtx); err != nil {
		slog.Error("failed to stop MQTT server", "error", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}
