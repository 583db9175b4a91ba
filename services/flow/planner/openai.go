// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

const planSystemPrompt = `You are a task planner. Produce a JSON object with this shape and nothing else:
{"name": "<plan name>", "nodes": [{"id": "node_1", "name": "...", "description": "...", "tool": "<tool or empty>", "inputs": {}, "dependencies": [], "priority": 1, "max_retries": 3}]}
Rules: ids are unique; dependencies reference earlier node ids; the last node must be a reasoning step with an empty tool; only use tools from the allowed list. An empty allowed list means no tools at all.`

// OpenAIPlanner synthesizes plans through an OpenAI-compatible chat API.
// It implements both Planner and Solver.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIPlanner creates a planner from the environment.
//
// OPENAI_API_KEY supplies the key, falling back to the Podman secret at
// /run/secrets/openai_api_key. OPENAI_MODEL and OPENAI_BASE_URL are
// optional; the base URL allows local OpenAI-compatible gateways.
func NewOpenAIPlanner(logger *slog.Logger) (*OpenAIPlanner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			logger.Error("OPENAI_API_KEY environment variable not set and secret not found",
				slog.String("path", secretPath))
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		logger.Info("read the OpenAI API key from Podman secrets")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}

	logger.Info("initializing OpenAI planner", slog.String("model", model))
	return &OpenAIPlanner{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// planDoc is the JSON shape the model is asked to produce.
type planDoc struct {
	Name  string          `json:"name"`
	Nodes []plan.TaskNode `json:"nodes"`
}

// CreatePlan asks the model for a plan and parses the JSON reply.
func (o *OpenAIPlanner) CreatePlan(ctx context.Context, req TaskRequest) (*plan.ExecutionPlan, error) {
	prompt := o.buildPrompt(req)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: planSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("planner returned no choices")
	}

	var doc planDoc
	raw := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parsing planner reply: %w", err)
	}
	if doc.Name == "" {
		doc.Name = req.Name
	}

	allowed := make(map[string]bool, len(req.AllowedTools))
	for _, t := range req.AllowedTools {
		allowed[t] = true
	}

	p := plan.New(doc.Name)
	for _, n := range doc.Nodes {
		if n.Tool != "" && req.AllowedTools != nil && !allowed[n.Tool] {
			return nil, fmt.Errorf("planner used disallowed tool %q in node %s", n.Tool, n.ID)
		}
		if n.Status == "" {
			n.Status = plan.StatusPending
		}
		p.AddNode(n)
	}

	o.logger.Debug("planner produced candidate",
		slog.String("plan_id", p.ID),
		slog.Int("nodes", p.NodeCount()),
	)
	return p, nil
}

// Solve phrases the final answer from the run's results.
func (o *OpenAIPlanner) Solve(ctx context.Context, task string, results map[string]plan.ExecutionResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nResults:\n", task)
	for id, r := range results {
		if r.IsSuccess() {
			out, _ := json.Marshal(r.Outputs)
			fmt.Fprintf(&b, "- %s: %s\n", id, out)
		} else {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", id, r.Status, r.Error)
		}
	}
	b.WriteString("\nWrite a concise final answer to the task from these results.")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("solver API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("solver returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (o *OpenAIPlanner) buildPrompt(req TaskRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", req.Name)
	if req.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", req.Description)
	}
	if len(req.Parameters) > 0 {
		params, _ := json.Marshal(req.Parameters)
		fmt.Fprintf(&b, "Context: %s\n", params)
	}
	fmt.Fprintf(&b, "Allowed tools: [%s]\n", strings.Join(req.AllowedTools, ", "))
	return b.String()
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
