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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the flow service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "flow",
		"version": ServiceVersion,
	})
}

// HandleSubmitPlan handles POST /v1/flow/plans.
//
// Description:
//
//	Admits a plan and starts its run. Validation is synchronous: a
//	cyclic or malformed plan gets a 400 here and never runs.
//
// Request Body:
//
//	SubmitPlanRequest
//
// Response:
//
//	202 Accepted: SubmitPlanResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleSubmitPlan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitPlan")

	var req SubmitPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	runID, err := h.svc.SubmitPlan(c.Request.Context(), req.Task, req.Plan)
	if err != nil {
		logger.Warn("Plan rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PLAN",
		})
		return
	}

	logger.Info("Plan admitted", "run_id", runID)
	c.JSON(http.StatusAccepted, SubmitPlanResponse{
		RunID:  runID,
		PlanID: req.Plan.ID,
	})
}

// HandleGetRun handles GET /v1/flow/runs/:id.
//
// Response:
//
//	200 OK: RunStatusResponse
//	404 Not Found: Unknown run id
func (h *Handlers) HandleGetRun(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleListRuns handles GET /v1/flow/runs.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.svc.ListRuns()})
}

// HandleCancelRun handles DELETE /v1/flow/runs/:id.
//
// Response:
//
//	202 Accepted: Cancellation requested
//	404 Not Found: Unknown run id
//	409 Conflict: Run already finished
func (h *Handlers) HandleCancelRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCancelRun")

	err := h.svc.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Run not found",
			Code:  "RUN_NOT_FOUND",
		})
	case errors.Is(err, ErrRunFinished):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "Run already finished",
			Code:  "RUN_FINISHED",
		})
	case err != nil:
		logger.Error("Cancel failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Cancel failed",
			Code:  "CANCEL_FAILED",
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{"run_id": c.Param("id"), "state": "cancelling"})
	}
}

// HandleRunEvents handles GET /v1/flow/runs/:id/events.
//
// Returns the run's buffered event history, oldest first. Live streaming
// goes through the websocket endpoint.
func (h *Handlers) HandleRunEvents(c *gin.Context) {
	emitter, err := h.svc.Events(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Run not found",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": emitter.Recent()})
}

// getOrCreateRequestID returns the caller's X-Request-ID or makes one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
