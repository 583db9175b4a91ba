// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the engine's configuration surface.
type Config struct {
	// MaxConcurrency caps concurrently running nodes per run.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=1,lte=256"`

	// TaskTimeout bounds a single node attempt.
	TaskTimeout time.Duration `yaml:"task_timeout" validate:"gt=0"`

	// EnableReplanning turns the replanning loop on.
	EnableReplanning bool `yaml:"enable_replanning"`

	// MaxReplanningIterations caps replanning rounds per run.
	MaxReplanningIterations int `yaml:"max_replanning_iterations" validate:"gte=0,lte=50"`

	// MaxTaskRetries is the default retry cap for nodes that declare none.
	MaxTaskRetries int `yaml:"max_task_retries" validate:"gte=0,lte=20"`

	// MaxIterations caps scheduling rounds per run before a stall.
	MaxIterations int `yaml:"max_iterations" validate:"gte=1,lte=1000"`

	// JoinerThreshold is the confidence below which a Continue decision
	// triggers replanning.
	JoinerThreshold float64 `yaml:"joiner_threshold" validate:"gte=0,lte=1"`

	// ReplanThreshold is the maximum candidate/original similarity an
	// accepted replan may have.
	ReplanThreshold float64 `yaml:"replan_threshold" validate:"gte=0,lte=1"`

	// AutoReplanEnabled replans automatically after failed or stalled
	// runs.
	AutoReplanEnabled bool `yaml:"auto_replan_enabled"`

	// RulesFile is an optional YAML file of extra classifier rules,
	// hot-reloaded on change.
	RulesFile string `yaml:"rules_file"`

	// DataDir is the BadgerDB directory. Empty disables persistence.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`
}

// UnmarshalYAML decodes the config with a Go duration string ("300s",
// "5m") for task_timeout, which yaml.v3 cannot parse into a time.Duration
// on its own. Fields absent from the file keep their current values.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		MaxConcurrency          *int     `yaml:"max_concurrency"`
		TaskTimeout             string   `yaml:"task_timeout"`
		EnableReplanning        *bool    `yaml:"enable_replanning"`
		MaxReplanningIterations *int     `yaml:"max_replanning_iterations"`
		MaxTaskRetries          *int     `yaml:"max_task_retries"`
		MaxIterations           *int     `yaml:"max_iterations"`
		JoinerThreshold         *float64 `yaml:"joiner_threshold"`
		ReplanThreshold         *float64 `yaml:"replan_threshold"`
		AutoReplanEnabled       *bool    `yaml:"auto_replan_enabled"`
		RulesFile               *string  `yaml:"rules_file"`
		DataDir                 *string  `yaml:"data_dir"`
		ListenAddr              *string  `yaml:"listen_addr"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.TaskTimeout != "" {
		d, err := time.ParseDuration(raw.TaskTimeout)
		if err != nil {
			return fmt.Errorf("task_timeout: %w", err)
		}
		c.TaskTimeout = d
	}
	if raw.MaxConcurrency != nil {
		c.MaxConcurrency = *raw.MaxConcurrency
	}
	if raw.EnableReplanning != nil {
		c.EnableReplanning = *raw.EnableReplanning
	}
	if raw.MaxReplanningIterations != nil {
		c.MaxReplanningIterations = *raw.MaxReplanningIterations
	}
	if raw.MaxTaskRetries != nil {
		c.MaxTaskRetries = *raw.MaxTaskRetries
	}
	if raw.MaxIterations != nil {
		c.MaxIterations = *raw.MaxIterations
	}
	if raw.JoinerThreshold != nil {
		c.JoinerThreshold = *raw.JoinerThreshold
	}
	if raw.ReplanThreshold != nil {
		c.ReplanThreshold = *raw.ReplanThreshold
	}
	if raw.AutoReplanEnabled != nil {
		c.AutoReplanEnabled = *raw.AutoReplanEnabled
	}
	if raw.RulesFile != nil {
		c.RulesFile = *raw.RulesFile
	}
	if raw.DataDir != nil {
		c.DataDir = *raw.DataDir
	}
	if raw.ListenAddr != nil {
		c.ListenAddr = *raw.ListenAddr
	}
	return nil
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:          10,
		TaskTimeout:             300 * time.Second,
		EnableReplanning:        true,
		MaxReplanningIterations: 5,
		MaxTaskRetries:          3,
		MaxIterations:           10,
		JoinerThreshold:         0.8,
		ReplanThreshold:         0.7,
		AutoReplanEnabled:       true,
		ListenAddr:              ":8084",
	}
}

// LoadConfig reads a YAML config file over the defaults and validates it.
//
// Inputs:
//
//	path - Config file path. Empty returns the defaults.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file cannot be read, parsed, or validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
