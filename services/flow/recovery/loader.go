// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML shape of an operator rule file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// UnmarshalYAML decodes a strategy with Go duration strings ("500ms",
// "2s") for the delay fields, which yaml.v3 cannot parse into a
// time.Duration on its own.
func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Kind       string  `yaml:"kind"`
		Delay      string  `yaml:"delay"`
		Initial    string  `yaml:"initial"`
		Max        string  `yaml:"max"`
		Multiplier float64 `yaml:"multiplier"`
		Name       string  `yaml:"name"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parse := func(field, text string) (time.Duration, error) {
		if text == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return 0, fmt.Errorf("strategy %s: %w", field, err)
		}
		return d, nil
	}

	var err error
	s.Kind = StrategyKind(raw.Kind)
	s.Multiplier = raw.Multiplier
	s.Name = raw.Name
	if s.Delay, err = parse("delay", raw.Delay); err != nil {
		return err
	}
	if s.Initial, err = parse("initial", raw.Initial); err != nil {
		return err
	}
	if s.Max, err = parse("max", raw.Max); err != nil {
		return err
	}
	return nil
}

// LoadRules reads classification rules from a YAML file.
//
// Description:
//
//	The file carries a top-level "rules" list in the Rule shape. Loaded
//	rules are appended after the built-in defaults; an operator rule
//	that should win must carry a higher priority than the default it
//	shadows.
//
// Outputs:
//
//	[]Rule - Defaults plus the file's rules.
//	error - Non-nil if the file cannot be read or parsed.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	return append(DefaultRules(), rf.Rules...), nil
}

// WatchRules reloads the classifier's rules whenever the file changes.
//
// Description:
//
//	Watches the file's directory (editors replace files rather than
//	writing in place) and calls SetRules on every write or create event
//	for the file. A parse failure keeps the previous rules.
//
// Outputs:
//
//	func() - Stops the watcher.
//	error - Non-nil if the watch cannot be established.
func WatchRules(path string, c *Classifier, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating rules watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching rules dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				rules, err := LoadRules(path)
				if err != nil {
					logger.Warn("rules reload failed, keeping previous rules",
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
					continue
				}
				c.SetRules(rules)
				logger.Info("classifier rules reloaded",
					slog.String("path", path),
					slog.Int("rules", len(rules)),
				)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rules watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
