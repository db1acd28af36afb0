// Package main is the aide CLI: a personal AI-assistant chat backend that
// streams model responses and tool activity to browser clients over
// server-sent events.
//
// Start the server:
//
//	aide serve --config aide.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aide-chat/aide/internal/config"
	"github.com/aide-chat/aide/internal/conversation"
	"github.com/aide-chat/aide/internal/orchestrator"
	"github.com/aide-chat/aide/internal/server"
	"github.com/aide-chat/aide/internal/toolkit"
	"github.com/aide-chat/aide/internal/tools"
	"github.com/aide-chat/aide/internal/transport"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "aide",
		Short:        "aide - personal AI assistant chat backend",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aide chat server",
		Long: `Start the chat server: load configuration, register the builtin
toolset, connect the completion provider, and serve the SSE chat API.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("AIDE_CONFIG"),
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	registry := toolkit.NewRegistry()
	if err := tools.RegisterAll(registry, cfg.Tools); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	logger.Info("tools registered", "tools", registry.Names())

	completer, err := transport.NewOpenAIClient(transport.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		Model:          cfg.Provider.Model,
		RequestTimeout: cfg.Provider.RequestTimeout,
		MaxAttempts:    cfg.Provider.MaxAttempts,
		Stream:         cfg.Provider.Stream,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("creating completion client: %w", err)
	}

	orch := orchestrator.New(completer, registry, orchestrator.Config{
		MaxToolDepth:       cfg.Limits.MaxToolDepth,
		ValidationRetries:  cfg.Limits.ValidationRetries,
		EmptyStreamRetries: cfg.Limits.EmptyStreamRetries,
		EmptyStreamDelay:   cfg.Limits.EmptyStreamDelay,
		TurnTimeout:        cfg.Limits.TurnTimeout,
		ToolTimeout:        cfg.Limits.ToolTimeout,
		HistoryLimit:       cfg.Limits.HistoryLimit,
		Sampling: transport.Sampling{
			Temperature: cfg.Sampling.Temperature,
			TopP:        cfg.Sampling.TopP,
			MaxTokens:   cfg.Sampling.MaxTokens,
			Seed:        cfg.Sampling.Seed,
		},
	}, logger)

	store := conversation.NewStore(cfg.Provider.Model, cfg.SystemPrompt, cfg.Session.MaxIdle)

	var archive *conversation.Archive
	if cfg.Session.SnapshotPath != "" {
		archive, err = conversation.OpenArchive(cfg.Session.SnapshotPath)
		if err != nil {
			return fmt.Errorf("opening snapshot archive: %w", err)
		}
		defer archive.Close()
		logger.Info("snapshot archive opened", "path", cfg.Session.SnapshotPath)
	}

	srv := server.New(store, archive, orch, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting aide", "version", version, "addr", cfg.Server.Addr,
		"model", cfg.Provider.Model, "provider", completer.Name())
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
