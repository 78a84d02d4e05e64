// Command forest runs the multi-tenant IoT platform: the embedded MQTT
// broker, the topic processor, and the HTTP management API, wired
// together behind one root context so a single signal tears the whole
// process down cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forest-iot/forest/internal/api"
	"github.com/forest-iot/forest/internal/broker"
	"github.com/forest-iot/forest/internal/certs"
	"github.com/forest-iot/forest/internal/config"
	"github.com/forest-iot/forest/internal/logging"
	"github.com/forest-iot/forest/internal/processor"
	"github.com/forest-iot/forest/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	path, err := config.FindConfig(*configPath)
	if err != nil {
		bootLogger.Error("config not found", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		bootLogger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(level, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("forest exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("forest stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.Database.Path, cfg.Database.TimeseriesPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	certMgr, err := certs.New(cfg.Certs.CertDir, "")
	if err != nil {
		return fmt.Errorf("init cert manager: %w", err)
	}
	if cfg.MQTT.EnableSSL {
		if err := certMgr.Setup(cfg.Certs.ServerName, cfg.Certs.HostNames); err != nil {
			return fmt.Errorf("issue server cert: %w", err)
		}
	} else if err := certMgr.EnsureCAExists(); err != nil {
		return fmt.Errorf("init CA: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	br, err := broker.StartBroker(ctx, cfg.MQTT, st, logger)
	if err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	proc := processor.New(st, br, processor.Config{
		ShadowTopicPrefix: cfg.Processor.ShadowTopicPrefix,
		TelemetryTopics:   cfg.Processor.TelemetryTopics,
	}, logger)
	if err := proc.Bootstrap(); err != nil {
		return fmt.Errorf("processor bootstrap: %w", err)
	}
	go proc.Run(ctx, br.Inbound())

	conns := broker.NewConnectionSet()
	connEvents, unsubscribe := br.ConnEvents()
	defer unsubscribe()
	go processor.RunConnectionMonitor(ctx, connEvents, conns)

	apiServer := api.NewServer(
		cfg.BindAPI, st, br, conns, certMgr,
		cfg.Processor.ShadowTopicPrefix, cfg.Certs.ServerName, cfg.Certs.HostNames,
		logger,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
		case <-br.Done():
			logger.Error("broker stopped unexpectedly", "error", br.FatalErr())
		}
		cancel()
		br.Shutdown()
		_ = apiServer.Shutdown(context.Background())
	}()

	if err := apiServer.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	proc.Wait()
	return nil
}
