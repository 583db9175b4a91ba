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

import "time"

func intPtr(v int) *int { return &v }

// DefaultRules returns the built-in classification rule set.
//
// The set covers the failure modes seen from sandboxed tool backends:
// JSON-RPC style error codes (-32xxx), transport drops, broken pipes,
// serialization noise, and timeouts. Priorities leave room for operators
// to slot site-specific rules between the built-ins via a rules file.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "resource closed",
			Code:           intPtr(-32603),
			MessagePattern: `(?i)(target page|context|browser).*closed|page\.goto.*closed`,
			Priority:       100,
			Category:       CategoryResourceUnavailable,
			Strategy:       DelayedReconnect(2000 * time.Millisecond),
		},
		{
			Name:           "transport connection",
			MessagePattern: `(?i)transport\s+(closed|error|failed)|connection\s+(closed|lost|failed)`,
			Priority:       90,
			Category:       CategoryTransport,
			Strategy:       ExponentialBackoff(1000*time.Millisecond, 30000*time.Millisecond, 2.0),
		},
		{
			Name:           "broken pipe",
			MessagePattern: `(?i)broken\s+pipe|pipe\s+error`,
			Priority:       85,
			Category:       CategoryTransport,
			Strategy:       DelayedReconnect(1500 * time.Millisecond),
		},
		{
			Name:           "serialization",
			MessagePattern: `(?i)serialization|deserialization|json\s+parse|unmarshal`,
			Priority:       80,
			Category:       CategorySerialization,
			Strategy:       ImmediateReconnect(),
		},
		{
			Name:           "stream read",
			MessagePattern: `(?i)error\s+reading\s+from\s+stream|stream\s+error`,
			Priority:       75,
			Category:       CategoryTransport,
			Strategy:       DelayedReconnect(1000 * time.Millisecond),
		},
		{
			Name:           "timeout",
			Code:           intPtr(-32003),
			MessagePattern: `(?i)timeout|timed\s+out|deadline\s+exceeded`,
			Priority:       70,
			Category:       CategoryTimeout,
			Strategy:       DelayedReconnect(2000 * time.Millisecond),
		},
		{
			Name:           "refused connection",
			MessagePattern: `(?i)connection\s+refused|no\s+route\s+to\s+host`,
			Priority:       65,
			Category:       CategoryConnection,
			Strategy:       ExponentialBackoff(500*time.Millisecond, 15000*time.Millisecond, 2.0),
		},
		{
			Name:     "internal server error",
			Code:     intPtr(-32603),
			Priority: 60,
			Category: CategoryServerInternal,
			Strategy: DelayedReconnect(3000 * time.Millisecond),
		},
		{
			Name:           "authentication",
			MessagePattern: `(?i)unauthorized|forbidden|invalid\s+(token|credentials)`,
			Priority:       55,
			Category:       CategoryAuthentication,
			Strategy:       NoRetry(),
		},
		{
			Name:     "method not found",
			Code:     intPtr(-32601),
			Priority: 50,
			Category: CategoryNonRecoverable,
			Strategy: NoRetry(),
		},
		{
			Name:     "invalid params",
			Code:     intPtr(-32602),
			Priority: 50,
			Category: CategoryNonRecoverable,
			Strategy: NoRetry(),
		},
		{
			Name:           "misconfiguration",
			MessagePattern: `(?i)missing\s+config|invalid\s+config|not\s+configured`,
			Priority:       45,
			Category:       CategoryConfiguration,
			Strategy:       NoRetry(),
		},
	}
}
