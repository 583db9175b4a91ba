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
	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the flow API on the router.
func SetupRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/v1/flow")
	{
		v1.POST("/plans", h.HandleSubmitPlan)
		v1.GET("/runs", h.HandleListRuns)
		v1.GET("/runs/:id", h.HandleGetRun)
		v1.DELETE("/runs/:id", h.HandleCancelRun)
		v1.GET("/runs/:id/events", h.HandleRunEvents)
		v1.GET("/runs/:id/ws", h.HandleRunEventsWebSocket)
	}
}
