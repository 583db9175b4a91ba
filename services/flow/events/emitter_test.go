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
	"testing"
)

func TestEmitter_SubscribeReceivesAll(t *testing.T) {
	e := NewEmitter("run-1")

	var got []Event
	e.Subscribe(func(ev Event) { got = append(got, ev) })

	e.Emit(TypeRunStarted, RunStartedData{PlanID: "p1", NodeCount: 3})
	e.Emit(TypeTaskStarted, TaskStartedData{TaskID: "a"})

	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].Type != TypeRunStarted || got[1].Type != TypeTaskStarted {
		t.Errorf("event types = %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].RunID != "run-1" {
		t.Errorf("run id = %s", got[0].RunID)
	}
	if got[0].ID == got[1].ID {
		t.Error("event ids should be unique")
	}
	if got[0].Timestamp == 0 {
		t.Error("events should be timestamped")
	}
}

func TestEmitter_TypeFilter(t *testing.T) {
	e := NewEmitter("run-1")

	var failures []Event
	e.Subscribe(func(ev Event) { failures = append(failures, ev) }, TypeTaskFailed)

	e.Emit(TypeTaskStarted, TaskStartedData{TaskID: "a"})
	e.Emit(TypeTaskFailed, TaskFailedData{TaskID: "a", Error: "boom"})
	e.Emit(TypeTaskCompleted, TaskCompletedData{})

	if len(failures) != 1 {
		t.Fatalf("received %d events, want 1", len(failures))
	}
	data, ok := failures[0].Data.(TaskFailedData)
	if !ok || data.Error != "boom" {
		t.Errorf("payload = %+v", failures[0].Data)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter("run-1")

	count := 0
	id := e.Subscribe(func(Event) { count++ })

	e.Emit(TypeTaskStarted, nil)
	e.Unsubscribe(id)
	e.Emit(TypeTaskStarted, nil)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestEmitter_RecentReplaysInOrder(t *testing.T) {
	e := NewEmitter("run-1")

	e.Emit(TypeRunStarted, nil)
	e.Emit(TypeTaskStarted, nil)
	e.Emit(TypeTaskCompleted, nil)

	recent := e.Recent()
	if len(recent) != 3 {
		t.Fatalf("buffer holds %d events, want 3", len(recent))
	}
	want := []Type{TypeRunStarted, TypeTaskStarted, TypeTaskCompleted}
	for i, ev := range recent {
		if ev.Type != want[i] {
			t.Errorf("recent[%d] = %s, want %s", i, ev.Type, want[i])
		}
	}
}

func TestEmitter_BufferEvictsOldest(t *testing.T) {
	e := NewEmitter("run-1", WithBufferSize(2))

	e.Emit(TypeRunStarted, nil)
	e.Emit(TypeTaskStarted, nil)
	e.Emit(TypeTaskCompleted, nil)

	recent := e.Recent()
	if len(recent) != 2 {
		t.Fatalf("buffer holds %d events, want 2", len(recent))
	}
	if recent[0].Type != TypeTaskStarted || recent[1].Type != TypeTaskCompleted {
		t.Errorf("buffer = %s, %s; oldest should be evicted", recent[0].Type, recent[1].Type)
	}
}

func TestEmitter_RecentReturnsCopy(t *testing.T) {
	e := NewEmitter("run-1")
	e.Emit(TypeRunStarted, nil)

	recent := e.Recent()
	recent[0].Type = TypeTaskFailed

	if e.Recent()[0].Type != TypeRunStarted {
		t.Error("mutating the returned slice must not affect the buffer")
	}
}
