// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianFlow/services/flow"
	"github.com/AleutianAI/AleutianFlow/services/flow/planner"
	storage "github.com/AleutianAI/AleutianFlow/services/flow/storage/badger"
	"github.com/AleutianAI/AleutianFlow/services/flow/telemetry"
)

// runServe starts the Flow API server.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := flow.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	registry := builtinRegistry()

	var opts []flow.Option
	var solver planner.Solver

	// The planner is optional: without credentials the engine still runs
	// plans and falls back to rule-based replanning.
	if p, err := planner.NewOpenAIPlanner(slog.Default()); err != nil {
		slog.Warn("Planner unavailable, replanning falls back to rule-based", "error", err)
	} else {
		solver = p
		opts = append(opts, flow.WithPlanner(p))
	}

	if cfg.DataDir != "" {
		storeCfg := storage.DefaultConfig()
		storeCfg.Path = cfg.DataDir
		store, err := storage.NewStore(storeCfg)
		if err != nil {
			return fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
		}
		opts = append(opts, flow.WithRepository(store))
		slog.Info("Persistence enabled", "data_dir", cfg.DataDir)
	} else {
		slog.Info("Persistence disabled (no data_dir configured)")
	}

	svc, err := flow.NewService(cfg, registry, solver, opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("Service close failed", "error", err)
		}
	}()

	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("flow-service"))
	if debugMode {
		router.Use(gin.Logger())
	}

	flow.SetupRoutes(router, flow.NewHandlers(svc))
	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	printBanner(cfg.ListenAddr, solver != nil, registry.Names())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting Aleutian Flow server", slog.String("address", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down Aleutian Flow server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func printBanner(addr string, plannerEnabled bool, toolNames []string) {
	plannerStatus := "DISABLED (set OPENAI_API_KEY to enable)"
	if plannerEnabled {
		plannerStatus = "ENABLED"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                      ALEUTIAN FLOW SERVER                         ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Resilient DAG task orchestration with automatic replanning.      ║
║  Planner: %-54s ║
║  Tools registered: %-45d ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost%s/health                            │  ║
║  │                                                             │  ║
║  │ # Submit a plan                                             │  ║
║  │ curl -X POST http://localhost%s/v1/flow/plans \           │  ║
║  │   -H "Content-Type: application/json" -d @plan.json        │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST   /v1/flow/plans          Submit a plan                 ║
║  ├── GET    /v1/flow/runs           List runs                     ║
║  ├── GET    /v1/flow/runs/:id       Run status                    ║
║  ├── DELETE /v1/flow/runs/:id       Cancel a run                  ║
║  ├── GET    /v1/flow/runs/:id/events  Event history               ║
║  └── GET    /v1/flow/runs/:id/ws    Live event stream             ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, plannerStatus, len(toolNames), addr, addr)
}
