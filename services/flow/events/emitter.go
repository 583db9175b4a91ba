// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes one event. Handlers must not block; slow consumers
// should buffer on their side (the websocket bridge does).
type Handler func(event Event)

// Subscription registers a handler for a subset of event types.
type Subscription struct {
	// ID uniquely identifies the subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts run events to subscribers and keeps a bounded replay
// buffer so late subscribers can catch up.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	runID         string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the replay buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size > 0 {
			e.bufferSize = size
		}
	}
}

// NewEmitter creates an emitter for one run.
func NewEmitter(runID string, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
		runID:         runID,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function called for each matching event.
//	types - Event types to subscribe to (none = all types).
//
// Outputs:
//
//	string - Subscription id for Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Types:   types,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscriptions, id)
}

// Emit builds a timestamped event and delivers it to every matching
// subscriber.
func (e *Emitter) Emit(eventType Type, data any) Event {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     e.runID,
		Timestamp: time.Now().UTC().UnixMilli(),
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, s := range e.subscriptions {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if sub.matches(event.Type) {
			sub.Handler(event)
		}
	}

	return event
}

// Recent returns a copy of the replay buffer, oldest first.
func (e *Emitter) Recent() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Event(nil), e.buffer...)
}

func (s *Subscription) matches(t Type) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}
