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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleRunEventsWebSocket handles GET /v1/flow/runs/:id/ws.
//
// Description:
//
//	Streams the run's events as JSON frames: first the buffered history,
//	then live events until the client disconnects or the connection
//	breaks. Emitter handlers must not block, so live events go through a
//	buffered channel; a client too slow to drain it loses events rather
//	than stalling the scheduler.
func (h *Handlers) HandleRunEventsWebSocket(c *gin.Context) {
	runID := c.Param("id")
	emitter, err := h.svc.Events(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("Websocket client connected", "run_id", runID)

	live := make(chan events.Event, 256)
	subID := emitter.Subscribe(func(event events.Event) {
		select {
		case live <- event:
		default:
			// Slow consumer; drop rather than block the run.
		}
	})
	defer emitter.Unsubscribe(subID)

	for _, event := range emitter.Recent() {
		if err := ws.WriteJSON(event); err != nil {
			slog.Warn("Failed to write WebSocket JSON", "error", err)
			return
		}
	}

	// Reader goroutine: we never expect client frames, but reading is the
	// only way to notice a disconnect promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			slog.Info("Websocket client disconnected", "run_id", runID)
			return
		case event := <-live:
			if err := ws.WriteJSON(event); err != nil {
				slog.Warn("Failed to write WebSocket JSON", "error", err)
				return
			}
		}
	}
}
