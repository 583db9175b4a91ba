// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery classifies runtime failures into categories and maps
// them to retry strategies with concrete delays.
package recovery

import (
	"math"
	"time"
)

// ErrorCategory is the classified kind of a runtime failure.
type ErrorCategory string

const (
	// CategoryConnection is a connection-level failure.
	CategoryConnection ErrorCategory = "connection"

	// CategoryTransport is a transport-layer failure.
	CategoryTransport ErrorCategory = "transport"

	// CategorySerialization is an encode/decode failure.
	CategorySerialization ErrorCategory = "serialization"

	// CategoryTimeout is an operation that exceeded its deadline.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryResourceUnavailable is a missing external resource, e.g. a
	// closed browser or a stopped container.
	CategoryResourceUnavailable ErrorCategory = "resource_unavailable"

	// CategoryAuthentication is a permission or credential failure.
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryConfiguration is a misconfiguration.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryServerInternal is a remote internal error.
	CategoryServerInternal ErrorCategory = "server_internal"

	// CategoryNonRecoverable is an error retrying cannot fix.
	CategoryNonRecoverable ErrorCategory = "non_recoverable"

	// CategoryUnknown is the fallback when no rule matches.
	CategoryUnknown ErrorCategory = "unknown"
)

// StrategyKind identifies a recovery strategy variant.
type StrategyKind string

const (
	// KindImmediateReconnect retries with no delay.
	KindImmediateReconnect StrategyKind = "immediate_reconnect"

	// KindDelayedReconnect retries after a fixed delay.
	KindDelayedReconnect StrategyKind = "delayed_reconnect"

	// KindExponentialBackoff retries with multiplicative, capped delays.
	KindExponentialBackoff StrategyKind = "exponential_backoff"

	// KindReinitialize tears down and rebuilds state before retrying.
	KindReinitialize StrategyKind = "reinitialize"

	// KindNoRetry forbids retrying.
	KindNoRetry StrategyKind = "no_retry"

	// KindCustom defers to caller-defined handling.
	KindCustom StrategyKind = "custom"
)

// reinitializeDelay is the fixed pause before a reinitializing retry.
// Custom strategies use the same placeholder delay.
const reinitializeDelay = 1000 * time.Millisecond

// Strategy is a stateless recovery policy, recomputed per failure.
type Strategy struct {
	// Kind selects the variant.
	Kind StrategyKind `json:"kind" yaml:"kind"`

	// Delay is the fixed delay for DelayedReconnect.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`

	// Initial is the first backoff delay for ExponentialBackoff.
	Initial time.Duration `json:"initial,omitempty" yaml:"initial,omitempty"`

	// Max caps the backoff delay for ExponentialBackoff.
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`

	// Multiplier grows the backoff delay for ExponentialBackoff.
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`

	// Name labels a Custom strategy.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ImmediateReconnect returns the zero-delay retry strategy.
func ImmediateReconnect() Strategy {
	return Strategy{Kind: KindImmediateReconnect}
}

// DelayedReconnect returns a fixed-delay retry strategy.
func DelayedReconnect(delay time.Duration) Strategy {
	return Strategy{Kind: KindDelayedReconnect, Delay: delay}
}

// ExponentialBackoff returns a capped multiplicative retry strategy.
func ExponentialBackoff(initial, max time.Duration, multiplier float64) Strategy {
	return Strategy{Kind: KindExponentialBackoff, Initial: initial, Max: max, Multiplier: multiplier}
}

// Reinitialize returns the rebuild-then-retry strategy.
func Reinitialize() Strategy {
	return Strategy{Kind: KindReinitialize}
}

// NoRetry returns the strategy that forbids retrying.
func NoRetry() Strategy {
	return Strategy{Kind: KindNoRetry}
}

// RetryDelay computes the delay before the next retry.
//
// Inputs:
//
//	retryCount - Retries already consumed (0 for the first retry).
//
// Outputs:
//
//	time.Duration - The delay to wait.
//	bool - False when the strategy forbids retrying.
func (s Strategy) RetryDelay(retryCount int) (time.Duration, bool) {
	switch s.Kind {
	case KindImmediateReconnect:
		return 0, true
	case KindDelayedReconnect:
		return s.Delay, true
	case KindExponentialBackoff:
		delay := float64(s.Initial) * math.Pow(s.Multiplier, float64(retryCount))
		if capped := float64(s.Max); delay > capped {
			delay = capped
		}
		return time.Duration(delay), true
	case KindReinitialize, KindCustom:
		return reinitializeDelay, true
	default:
		return 0, false
	}
}

// ShouldRetry reports whether another retry is permitted.
//
// False once retryCount has reached maxRetries, and always false for
// NoRetry.
func ShouldRetry(s Strategy, retryCount, maxRetries int) bool {
	if retryCount >= maxRetries {
		return false
	}
	return s.Kind != KindNoRetry
}
