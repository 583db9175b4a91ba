// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flow runs the Aleutian Flow orchestration engine.
//
// Aleutian Flow executes multi-step task plans as dependency DAGs with:
//   - Concurrent scheduling under a configurable worker cap
//   - Error classification and per-category retry strategies
//   - Rule-based and planner-assisted replanning of failed plans
//   - A REST + websocket API for submitting plans and watching runs
//
// Usage:
//
//	flow serve                     # start the API server
//	flow serve --config flow.yaml  # with a config file
//	flow run plan.yaml             # execute a plan locally and print the result
//
// With OpenAI-compatible planning (for planner-assisted replanning):
//
//	OPENAI_API_KEY=... OPENAI_MODEL=gpt-4o-mini flow serve
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8084/health
//
//	# Submit a plan
//	curl -X POST http://localhost:8084/v1/flow/plans \
//	  -H "Content-Type: application/json" \
//	  -d @plan.json
//
//	# Watch a run
//	curl http://localhost:8084/v1/flow/runs/<run_id>
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
