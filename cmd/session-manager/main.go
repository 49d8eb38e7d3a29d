// Package main is the entry point for the WhatsApp session manager.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/bot"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/config"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/health"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/notify"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/whatsapp"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/api"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	daemon     = flag.Bool("daemon", false, "Keep running after the MCP client disconnects")
	resume     = flag.Bool("resume", true, "Reconnect sessions that were connected at last shutdown")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from flag if provided
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Session manager failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// stdout carries the MCP protocol, logs go to stderr.
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("WhatsApp session manager starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.TokensDir, 0o700); err != nil {
		return fmt.Errorf("failed to create tokens directory: %w", err)
	}

	storeDB, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer storeDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	monitor := health.NewMonitor(reg)

	hub := notify.NewHub(logger)
	defer hub.Close()

	var providerOpts []whatsapp.Option
	if cfg.QRTerminal {
		providerOpts = append(providerOpts, whatsapp.WithTerminalQR(os.Stderr))
	}
	provider := whatsapp.NewProvider(cfg.TokensDir, logger, providerOpts...)

	ctrl := session.NewController(cfg, session.Options{
		Provider:  provider,
		Store:     storeDB,
		Notifier:  hub,
		Evaluator: bot.NewEvaluator(storeDB, logger),
		Metrics:   monitor,
		Logger:    logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			logger.Error("Session shutdown incomplete", "error", err)
		}
	}()

	scheduler, err := health.NewScheduler(ctrl, health.ScheduleConfig{
		WatchdogInterval:    cfg.WatchdogInterval,
		QRSweepSchedule:     cfg.QRSweepSchedule,
		QRTTL:               cfg.QRTTL,
		TransitionRetention: cfg.TransitionRetention,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.MetricsEnabled {
		srv := startMetricsServer(cfg.MetricsPort, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if *resume {
		go func() {
			n, err := ctrl.ResumeSessions(ctx)
			if err != nil {
				logger.Error("Failed to resume sessions", "error", err)
				return
			}
			logger.Info("Sessions resumed", "count", n)
		}()
	}

	logger.Info("Session manager initialized",
		"store_path", cfg.StorePath,
		"tokens_dir", cfg.TokensDir,
		"mcp", cfg.MCPEnabled,
	)

	if !cfg.MCPEnabled {
		<-ctx.Done()
		logger.Info("Received shutdown signal")
		return nil
	}

	handler := api.NewHandler(storeDB, monitor, ctrl)
	mcpServer := mcp.NewServer(os.Stdin, os.Stdout, handler, logger)

	sub, err := hub.SubscribeAll(func(n notify.Notification) {
		if err := mcpServer.Notify(n.Event, n); err != nil && !errors.Is(err, mcp.ErrNotInitialized) {
			logger.Warn("Failed to forward notification", "event", n.Event, "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mcpServer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP server error", "error", err)
		}
		if *daemon {
			logger.Info("Daemon mode: MCP client disconnected, keeping sessions alive")
			<-ctx.Done()
			logger.Info("Received shutdown signal")
		}
	}

	logger.Info("WhatsApp session manager stopping")
	return nil
}

func startMetricsServer(port int, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
