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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string
	debugMode  bool
	logDir     string

	listenAddr string
	runTask    string

	rootCmd = &cobra.Command{
		Use:   "flow",
		Short: "Run and serve resilient multi-step task plans",
		Long: `Aleutian Flow executes task plans as dependency DAGs with
				concurrent scheduling, classified-error retries, and
				automatic replanning of failed plans.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the Flow API server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	runCmd = &cobra.Command{
		Use:   "run [plan file]",
		Short: "Execute a plan file locally and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlanFile, // Defined in cmd_run.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging and gin debug mode")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (disabled when empty)")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address override (default from config)")
	runCmd.Flags().StringVar(&runTask, "task", "", "Task description attached to the run")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

// setupLogging installs the process-wide slog default.
//
// Humans at a terminal get text; pipes and service managers get JSON.
func setupLogging() {
	level := logging.LevelInfo
	if debugMode {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "flow",
		JSON:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}
