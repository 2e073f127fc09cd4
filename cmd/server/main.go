// Package main is the entry point for the compliance-ai server.
//
// Startup order:
//  1. Load and validate configuration (YAML + environment)
//  2. Build the logger
//  3. Open the execution-history store (SQLite)
//  4. Wire the NSO, CWM, and report connectors
//  5. Wire the remediation dispatcher and batch executor
//  6. Build the tool executor, LLM adapter, and session engine
//  7. Serve HTTP/WebSocket until SIGINT/SIGTERM, then drain
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/config"
	"github.com/devnet-ops/compliance-ai/internal/cwm"
	"github.com/devnet-ops/compliance-ai/internal/db"
	"github.com/devnet-ops/compliance-ai/internal/llm/adapter"
	"github.com/devnet-ops/compliance-ai/internal/llm/types"
	"github.com/devnet-ops/compliance-ai/internal/logging"
	"github.com/devnet-ops/compliance-ai/internal/nso"
	"github.com/devnet-ops/compliance-ai/internal/remediation"
	"github.com/devnet-ops/compliance-ai/internal/report"
	"github.com/devnet-ops/compliance-ai/internal/server"
	"github.com/devnet-ops/compliance-ai/internal/session"
	"github.com/devnet-ops/compliance-ai/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "compliance-ai: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	configPath := os.Getenv("COMPLIANCE_CONFIG")
	if configPath == "" {
		configPath = "/etc/compliance-ai/config.yaml"
	}
	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	log, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	// Execution history.
	if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	history, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer history.Close()

	// NSO connectors.
	nsoCfg := nso.Config{
		Protocol:   cfg.NSO.Protocol,
		Host:       cfg.NSO.Host,
		Port:       cfg.NSO.Port,
		Username:   cfg.NSO.Username,
		Password:   cfg.NSO.Password,
		HostHeader: cfg.NSO.HostHeader,
		Timeout:    time.Duration(cfg.NSO.Timeout) * time.Second,
	}
	nsoClient := nso.NewClient(nsoCfg, log)
	downloader, err := nso.NewDownloader(nsoCfg, log)
	if err != nil {
		return fmt.Errorf("create report downloader: %w", err)
	}
	cliRunner := nso.NewSSHRunner(nso.CLIConfig{
		Host:     cfg.NSOCLI.Host,
		Port:     cfg.NSOCLI.Port,
		Username: cfg.NSOCLI.Username,
		Password: cfg.NSOCLI.Password,
		Timeout:  time.Duration(cfg.NSOCLI.Timeout) * time.Second,
	})
	compliance := nso.NewComplianceManager(cliRunner, log)

	// Report retrieval and normalization.
	if err := os.MkdirAll(cfg.Reports.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create report scratch directory: %w", err)
	}
	retriever := report.NewRetriever(downloader, nsoClient, cfg.Reports.ScratchDir, log)
	normalizer := report.NewNormalizer(log)

	// CWM connector.
	cwmClient := cwm.NewClient(cwm.Config{
		Host:     cfg.CWM.Host,
		Port:     cfg.CWM.Port,
		Username: cfg.CWM.Username,
		Password: cfg.CWM.Password,
	}, log)

	// Remediation.
	dispatcher := remediation.NewDispatcher(nsoClient, log)
	batch := remediation.NewExecutor(dispatcher, log)

	// Tools and LLM.
	executor := tools.NewExecutor(compliance, nsoClient, cwmClient, batch, retriever, log).
		WithHistory(history)
	llm, err := adapter.New(adapter.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   time.Duration(cfg.LLM.Timeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create llm adapter: %w", err)
	}

	// Session engine.
	store := session.NewStore()
	analyzer := session.NewAnalyzer(llm, retriever, normalizer, log)
	planner := session.NewPlanner(log)
	engine := session.NewEngine(store, llm, tools.Definitions(), executor, analyzer, planner, log, session.EngineOptions{
		TurnTimeout: time.Duration(cfg.Session.TurnTimeout) * time.Second,
		AgentConfig: types.AgentConfig{
			MaxTurns:      cfg.Session.MaxAgentTurns,
			ParallelTools: cfg.Session.ParallelTools,
		},
	})

	srv, err := server.NewServer(&server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		LLMProvider:    llm.Name(),
		LLMModel:       llm.Model(),
	}, engine, store, history, log)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Info("compliance-ai started",
		zap.Int("port", cfg.Server.Port),
		zap.String("llm_provider", llm.Name()),
		zap.String("nso_host", cfg.NSO.Host))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
