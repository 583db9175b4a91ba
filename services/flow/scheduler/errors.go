// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import "errors"

var (
	// ErrNilInvoker indicates the scheduler was constructed without a tool
	// invoker.
	ErrNilInvoker = errors.New("scheduler requires a tool invoker")

	// ErrNilPlan indicates Run was called with a nil plan.
	ErrNilPlan = errors.New("plan must not be nil")

	// ErrMissingVariable indicates a node references an output a terminal
	// task never produced. Never retried.
	ErrMissingVariable = errors.New("missing variable")
)
