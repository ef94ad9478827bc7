// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vsm

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the VSM routes with the router.
//
// Description:
//
//	Registers all /v1/vsm/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/vsm/pipelines/:name/:counter - Map for a pipeline run
//	GET    /v1/vsm/materials/:fingerprint/:revision - Map for a material revision
//	GET    /v1/vsm/cache - Cache statistics
//	DELETE /v1/vsm/cache - Purge the map cache
//	GET    /v1/vsm/health - Health check
//	GET    /v1/vsm/ready - Readiness check
//
// Example:
//
//	svc, _ := vsm.NewService(src, vsm.ServiceConfig{})
//	handlers := vsm.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	vsm.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	vsm := rg.Group("/vsm")
	{
		vsm.GET("/pipelines/:name/:counter", handlers.HandlePipelineVSM)
		vsm.GET("/materials/:fingerprint/:revision", handlers.HandleMaterialVSM)

		vsm.GET("/cache", handlers.HandleCacheStats)
		vsm.DELETE("/cache", handlers.HandlePurgeCache)

		vsm.GET("/health", handlers.HandleHealth)
		vsm.GET("/ready", handlers.HandleReady)
	}
}

// RegisterMetrics exposes metrics at GET /metrics on the engine root.
func RegisterMetrics(r gin.IRoutes, metrics http.Handler) {
	r.GET("/metrics", gin.WrapH(metrics))
}
