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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/representer"
	"github.com/gocd/gocd-sub047/services/vsm/source"
	"github.com/gocd/gocd-sub047/services/vsm/visualization"
)

// Handlers contains the HTTP handlers for the VSM service.
type Handlers struct {
	svc       *Service
	generator *visualization.GraphGenerator
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{
		svc:       svc,
		generator: visualization.NewGraphGenerator(nil),
	}
}

// WithGraphOptions replaces the diagram options used for mermaid and dot.
func (h *Handlers) WithGraphOptions(opts visualization.GraphOptions) *Handlers {
	h.generator = visualization.NewGraphGenerator(&opts)
	return h
}

// HandlePipelineVSM handles GET /v1/vsm/pipelines/:name/:counter.
//
// Description:
//
//	Returns the value stream map rooted at one pipeline run.
//
// Query Parameters:
//
//	format: json (default), mermaid or dot
//
// Response:
//
//	200 OK: value stream map document or diagram source
//	400 Bad Request: ErrorResponse for a malformed counter or format
//	403 Forbidden: error-only document
//	404 Not Found: error-only document
//	502 Bad Gateway: error-only document
//	500 Internal Server Error: error-only document
func (h *Handlers) HandlePipelineVSM(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePipelineVSM")

	format, ok := h.format(c, logger)
	if !ok {
		return
	}

	name := c.Param("name")
	counter, err := strconv.Atoi(c.Param("counter"))
	if err != nil {
		logger.Warn("Invalid pipeline counter", "counter", c.Param("counter"))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Pipeline counter must be an integer",
			Code:  "INVALID_COUNTER",
		})
		return
	}

	vsm, err := h.svc.PipelineVSM(c.Request.Context(), name, counter)
	h.respond(c, logger, vsm, err, format)
}

// HandleMaterialVSM handles GET /v1/vsm/materials/:fingerprint/:revision.
//
// Description:
//
//	Returns the value stream map rooted at one material revision.
//	Accepts the same format parameter and status codes as HandlePipelineVSM.
func (h *Handlers) HandleMaterialVSM(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMaterialVSM")

	format, ok := h.format(c, logger)
	if !ok {
		return
	}

	vsm, err := h.svc.MaterialVSM(c.Request.Context(), c.Param("fingerprint"), c.Param("revision"))
	h.respond(c, logger, vsm, err, format)
}

// HandlePurgeCache handles DELETE /v1/vsm/cache.
func (h *Handlers) HandlePurgeCache(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePurgeCache")

	purged := h.svc.PurgeCache()
	logger.Info("Purged value stream map cache", "purged", purged)
	c.JSON(http.StatusOK, PurgeResponse{Purged: purged, Stats: h.svc.CacheStats()})
}

// HandleCacheStats handles GET /v1/vsm/cache.
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.CacheStats())
}

// HandleHealth handles GET /v1/vsm/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/vsm/ready.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false) - snapshot store unreachable
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: true, Snapshot: h.svc.SnapshotBackend()}
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		resp.Ready = false
		resp.Error = err.Error()
		c.Header("Retry-After", "10")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) format(c *gin.Context, logger *slog.Logger) (visualization.OutputFormat, bool) {
	format, err := visualization.ParseFormat(c.Query("format"))
	if err != nil {
		logger.Warn("Unsupported format", "format", c.Query("format"))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Format must be one of json, mermaid, dot",
			Code:  "INVALID_FORMAT",
		})
		return "", false
	}
	return format, true
}

func (h *Handlers) respond(c *gin.Context, logger *slog.Logger, vsm *assembler.ValueStreamMap, err error, format visualization.OutputFormat) {
	if errors.Is(err, ErrInvalidRequest) {
		logger.Warn("Invalid request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err != nil {
		status := statusFor(err)
		logger.Info("Value stream map unavailable", "status", status, "error", err)
		if vsm == nil {
			vsm = &assembler.ValueStreamMap{Error: source.DisplayMessage(err)}
		}
		c.JSON(status, representer.Represent(vsm))
		return
	}

	if format == visualization.FormatJSON {
		c.JSON(http.StatusOK, representer.Represent(vsm))
		return
	}

	out, genErr := h.generator.Generate(c.Request.Context(), vsm, format)
	if genErr != nil {
		logger.Error("Diagram generation failed", "format", format, "error", genErr)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to render value stream map",
			Code:  "RENDER_FAILED",
		})
		return
	}
	c.Data(http.StatusOK, format.ContentType(), []byte(out))
}

// statusFor maps source errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, source.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
