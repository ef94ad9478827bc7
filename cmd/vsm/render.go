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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gocd/gocd-sub047/services/vsm"
	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/representer"
	"github.com/gocd/gocd-sub047/services/vsm/source"
	"github.com/gocd/gocd-sub047/services/vsm/visualization"
)

type renderOptions struct {
	snapshots   string
	pipeline    string
	counter     int
	material    string
	revision    string
	format      string
	baseURL     string
	noLinks     bool
	showStatus  bool
	direction   string
	absoluteFmt string
}

func newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a value stream map from graph files",
		Long: `Reads a graph from a snapshot directory laid out as
{dir}/pipelines/{name}/{counter}.json or {dir}/materials/{fingerprint}/{revision}.json
and prints the value stream map as JSON, Mermaid or Graphviz DOT.`,
		Example: `  vsm render --snapshots ./graphs --pipeline build-linux --counter 42
  vsm render --snapshots ./graphs --material fp --revision abc123 --format dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.snapshots, "snapshots", "", "Directory containing graph JSON files")
	f.StringVar(&opts.pipeline, "pipeline", "", "Pipeline name")
	f.IntVar(&opts.counter, "counter", 0, "Pipeline run counter")
	f.StringVar(&opts.material, "material", "", "Material fingerprint")
	f.StringVar(&opts.revision, "revision", "", "Material revision")
	f.StringVar(&opts.format, "format", "json", "Output format: json, mermaid or dot")
	f.StringVar(&opts.baseURL, "base-url", "", "Prefix for generated links, e.g. https://ci.example.com/go")
	f.BoolVar(&opts.noLinks, "no-links", false, "Leave every link empty")
	f.BoolVar(&opts.showStatus, "show-status", true, "Include the latest run and stage status in diagram labels")
	f.StringVar(&opts.direction, "direction", "LR", "Diagram direction: LR or TB")
	f.StringVar(&opts.absoluteFmt, "time-layout", "", "Go time layout for modification times instead of relative times")

	_ = cmd.MarkFlagRequired("snapshots")
	cmd.MarkFlagsMutuallyExclusive("pipeline", "material")
	cmd.MarkFlagsOneRequired("pipeline", "material")
	cmd.MarkFlagsRequiredTogether("pipeline", "counter")
	cmd.MarkFlagsRequiredTogether("material", "revision")
	return cmd
}

func runRender(cmd *cobra.Command, opts *renderOptions) error {
	format, err := visualization.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	files, err := source.NewFileSource(opts.snapshots)
	if err != nil {
		return err
	}

	links := assembler.StandardLinks(opts.baseURL)
	if opts.noLinks {
		links = assembler.NoLinks()
	}
	svcCfg := vsm.ServiceConfig{
		Links: &links,
		// Errors only, on stderr.
		Logger: slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelError})),
	}
	if opts.absoluteFmt != "" {
		svcCfg.TimeFormatter = assembler.AbsoluteTime{Layout: opts.absoluteFmt}
	}
	svc, err := vsm.NewService(files, svcCfg)
	if err != nil {
		return err
	}

	var m *assembler.ValueStreamMap
	if opts.pipeline != "" {
		m, err = svc.PipelineVSM(cmd.Context(), opts.pipeline, opts.counter)
	} else {
		m, err = svc.MaterialVSM(cmd.Context(), opts.material, opts.revision)
	}
	if errors.Is(err, vsm.ErrInvalidRequest) {
		return err
	}

	out := cmd.OutOrStdout()
	if err != nil || format == visualization.FormatJSON {
		if werr := writeJSON(out, m); werr != nil {
			return werr
		}
		return err
	}

	gen := visualization.NewGraphGenerator(&visualization.GraphOptions{
		Direction:  opts.direction,
		ShowStatus: opts.showStatus,
	})
	diagram, err := gen.Generate(cmd.Context(), m, format)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, diagram)
	return err
}

func writeJSON(w io.Writer, m *assembler.ValueStreamMap) error {
	data, err := representer.MarshalIndent(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
