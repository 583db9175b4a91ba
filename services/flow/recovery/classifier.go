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
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// Rule matches a class of failures and assigns a category and strategy.
//
// All present conditions must match: an exact error code, a regular
// expression over the message, and an exact structured error-type tag.
// Rules are evaluated highest priority first; the first full match wins.
type Rule struct {
	// Name labels the rule for logging.
	Name string `yaml:"name"`

	// Code is an optional exact-match error code.
	Code *int `yaml:"code,omitempty"`

	// MessagePattern is an optional regular expression over the message.
	MessagePattern string `yaml:"message_pattern,omitempty"`

	// ErrorType is an optional exact-match structured error-type tag.
	ErrorType string `yaml:"error_type,omitempty"`

	// Priority orders evaluation; higher evaluates first.
	Priority int `yaml:"priority"`

	// Category is the assigned error category.
	Category ErrorCategory `yaml:"category"`

	// Strategy is the assigned recovery strategy.
	Strategy Strategy `yaml:"strategy"`
}

// FailureContext describes one runtime failure for classification.
type FailureContext struct {
	// Message is the error message.
	Message string

	// Code is the error code, if any.
	Code *int

	// ErrorType is a structured error-type tag, if any.
	ErrorType string

	// Tool is the tool that failed.
	Tool string

	// RetryCount is the retries consumed so far.
	RetryCount int

	// Metadata carries extra key/value context.
	Metadata map[string]string
}

// Classifier maps runtime failures to categories and recovery strategies.
//
// Description:
//
//	Holds an ordered rule table and a cache of compiled message patterns.
//	Patterns compile once per pattern text; classification sits on the
//	retry hot path and must not recompile.
//
// Thread Safety:
//
//	Safe for concurrent use. The rule table and the regex cache are
//	guarded by one RWMutex; SetRules swaps the table atomically.
type Classifier struct {
	mu     sync.RWMutex
	rules  []Rule
	regexp map[string]*regexp.Regexp
	logger *slog.Logger
}

// NewClassifier creates a classifier with the default rule set.
func NewClassifier(logger *slog.Logger) *Classifier {
	return NewClassifierWithRules(DefaultRules(), logger)
}

// NewClassifierWithRules creates a classifier with a custom rule set.
//
// Inputs:
//
//	rules - Rule table. Sorted by descending priority on admission.
//	logger - Logger for classification decisions. Nil uses slog.Default().
func NewClassifierWithRules(rules []Rule, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		regexp: make(map[string]*regexp.Regexp),
		logger: logger,
	}
	c.SetRules(rules)
	return c
}

// SetRules replaces the rule table. Invalid message patterns are dropped
// with a warning rather than poisoning the table.
func (c *Classifier) SetRules(rules []Rule) {
	valid := make([]Rule, 0, len(rules))
	compiled := make(map[string]*regexp.Regexp)
	for _, r := range rules {
		if r.MessagePattern != "" {
			re, err := regexp.Compile(r.MessagePattern)
			if err != nil {
				c.logger.Warn("dropping rule with invalid pattern",
					slog.String("rule", r.Name),
					slog.String("pattern", r.MessagePattern),
					slog.String("error", err.Error()),
				)
				continue
			}
			compiled[r.MessagePattern] = re
		}
		valid = append(valid, r)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Priority > valid[j].Priority
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = valid
	c.regexp = compiled
}

// AddRule appends a rule and re-sorts the table.
func (c *Classifier) AddRule(rule Rule) {
	c.mu.RLock()
	rules := append([]Rule(nil), c.rules...)
	c.mu.RUnlock()
	c.SetRules(append(rules, rule))
}

// Rules returns a copy of the active rule table.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rule(nil), c.rules...)
}

// Classify maps a failure to a category and recovery strategy.
//
// Description:
//
//	Evaluates the rule table from highest to lowest priority; the first
//	rule whose present conditions all match wins. With no match the
//	category is Unknown and the strategy NoRetry.
func (c *Classifier) Classify(fc FailureContext) (ErrorCategory, Strategy) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, rule := range c.rules {
		if c.matches(rule, fc) {
			c.logger.Debug("error classified",
				slog.String("rule", rule.Name),
				slog.String("category", string(rule.Category)),
				slog.String("tool", fc.Tool),
			)
			return rule.Category, rule.Strategy
		}
	}

	c.logger.Debug("error not classified, defaulting to unknown",
		slog.String("tool", fc.Tool),
	)
	return CategoryUnknown, NoRetry()
}

// matches is called with c.mu held.
func (c *Classifier) matches(rule Rule, fc FailureContext) bool {
	if rule.Code != nil {
		if fc.Code == nil || *rule.Code != *fc.Code {
			return false
		}
	}

	if rule.ErrorType != "" {
		if fc.ErrorType == "" || rule.ErrorType != fc.ErrorType {
			return false
		}
	}

	if rule.MessagePattern != "" {
		re, ok := c.regexp[rule.MessagePattern]
		if !ok || !re.MatchString(fc.Message) {
			return false
		}
	}

	return true
}
