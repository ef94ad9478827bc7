// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/gocd/gocd-sub047/pkg/logging"
	"github.com/gocd/gocd-sub047/services/vsm"
	"github.com/gocd/gocd-sub047/services/vsm/config"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

const serviceName = "vsm"

type serveOptions struct {
	configPath string
	port       int
	debug      bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the value stream map API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on (overrides config)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug mode")
	return cmd
}

// loadServeConfig applies flags set on the command line over the loaded file.
func loadServeConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if cmd.Flags().Changed("debug") {
		cfg.Server.Debug = opts.debug
	}
	if cfg.Server.Debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRouter builds the gin engine with middleware and all routes.
func newRouter(svc *vsm.Service, metrics *telemetry.Metrics, metricsHandler http.Handler, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(telemetry.MetricsMiddleware(metrics))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	vsm.RegisterRoutes(v1, vsm.NewHandlers(svc))
	if metricsHandler != nil {
		vsm.RegisterMetrics(router, metricsHandler)
	}
	return router
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logCfg, err := cfg.LoggerConfig(serviceName)
	if err != nil {
		return err
	}
	logger := logging.New(logCfg)
	defer logger.Close()
	slog.SetDefault(logger.Slog())
	log := logger.Slog()

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = vsm.ServiceVersion
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	st, err := buildStack(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("Failed to close snapshot store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(st.svc, metrics, telemetry.MetricsHandler(), cfg.Server.Debug),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting VSM server",
			slog.String("address", srv.Addr),
			slog.String("upstream", upstreamName(cfg)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down VSM server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func upstreamName(cfg *config.Config) string {
	if cfg.Upstream.Dir != "" {
		return "file:" + cfg.Upstream.Dir
	}
	return cfg.Upstream.BaseURL
}
