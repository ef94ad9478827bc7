// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visualization renders assembled value stream maps as Mermaid
// flowcharts or Graphviz DOT digraphs.
package visualization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
)

// OutputFormat specifies the visualization output format.
type OutputFormat string

const (
	FormatJSON    OutputFormat = "json"
	FormatMermaid OutputFormat = "mermaid"
	FormatDOT     OutputFormat = "dot"
)

var (
	// ErrNilMap is returned when no map is supplied.
	ErrNilMap = errors.New("value stream map is required")

	// ErrUnsupportedFormat is returned for formats this package cannot render.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ParseFormat resolves a user-supplied format name. Empty means JSON.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatMermaid, FormatDOT:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the HTTP content type of a rendered format.
func (f OutputFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// GraphOptions configures graph generation.
type GraphOptions struct {
	// Direction is the flow direction (LR, TB, RL, BT).
	// Default: "LR"
	Direction string

	// ShowStatus appends the latest run's stage statuses to pipeline labels.
	// Default: true
	ShowStatus bool
}

// DefaultGraphOptions returns sensible defaults.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		Direction:  "LR",
		ShowStatus: true,
	}
}

// GraphGenerator renders value stream maps as text diagrams.
//
// # Description
//
// Each level becomes a column (a Mermaid subgraph or a DOT rank=same
// cluster) and each parent id becomes an edge into the node. Node ids are
// replaced with positional identifiers so arbitrary upstream ids, such as
// material URLs, never need escaping.
//
// # Thread Safety
//
// Safe for concurrent use.
type GraphGenerator struct {
	options GraphOptions
}

// NewGraphGenerator creates a new graph generator. Nil opts means defaults.
func NewGraphGenerator(opts *GraphOptions) *GraphGenerator {
	if opts == nil {
		defaults := DefaultGraphOptions()
		opts = &defaults
	}
	o := *opts
	if o.Direction == "" {
		o.Direction = "LR"
	}
	return &GraphGenerator{options: o}
}

// Generate renders a map in a diagram format.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - vsm: The assembled map. Error maps render as a single note.
//   - format: FormatMermaid or FormatDOT.
//
// # Outputs
//
//   - string: The diagram source.
//   - error: ErrNilMap, ErrUnsupportedFormat or the context error.
func (g *GraphGenerator) Generate(ctx context.Context, vsm *assembler.ValueStreamMap, format OutputFormat) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if vsm == nil {
		return "", ErrNilMap
	}

	switch format {
	case FormatMermaid:
		return g.generateMermaid(vsm), nil
	case FormatDOT:
		return g.generateDOT(vsm), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// nodeIndex assigns positional ids in level order.
func nodeIndex(vsm *assembler.ValueStreamMap) map[string]string {
	ids := make(map[string]string, vsm.NodeCount())
	for i, level := range vsm.Levels {
		for j, n := range level.Nodes {
			ids[n.ID] = fmt.Sprintf("n%d_%d", i, j)
		}
	}
	return ids
}

func (g *GraphGenerator) generateMermaid(vsm *assembler.ValueStreamMap) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("flowchart %s\n", g.options.Direction))
	if vsm.HasError() {
		sb.WriteString(fmt.Sprintf("    error[\"%s\"]:::error\n", escapeMermaidLabel(vsm.Error)))
		sb.WriteString("    classDef error fill:#ff6b6b,stroke:#333,color:#fff\n")
		return sb.String()
	}

	ids := nodeIndex(vsm)
	for i, level := range vsm.Levels {
		sb.WriteString(fmt.Sprintf("    subgraph level_%d[\" \"]\n", i))
		for _, n := range level.Nodes {
			sb.WriteString(fmt.Sprintf("        %s%s:::%s\n", ids[n.ID], g.mermaidShape(n), g.styleClass(vsm, n)))
		}
		sb.WriteString("    end\n")
	}

	sb.WriteString("\n")
	g.eachEdge(vsm, ids, func(from, to string) {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
	})

	sb.WriteString("\n")
	sb.WriteString("    classDef current fill:#ffd93d,stroke:#333,stroke-width:2px\n")
	sb.WriteString("    classDef pipeline fill:#74b9ff,stroke:#333\n")
	sb.WriteString("    classDef material fill:#10ac84,stroke:#333,color:#fff\n")
	sb.WriteString("    classDef restricted fill:#dfe6e9,stroke:#636e72,stroke-dasharray:4\n")
	sb.WriteString("    classDef dummy fill:#fff,stroke:#b2bec3,stroke-dasharray:2\n")

	return sb.String()
}

func (g *GraphGenerator) mermaidShape(n assembler.Node) string {
	label := escapeMermaidLabel(g.label(n))
	switch n.Kind.(type) {
	case *assembler.MaterialNode:
		return fmt.Sprintf("[(\"%s\")]", label)
	case *assembler.PipelineNode:
		return fmt.Sprintf("[\"%s\"]", label)
	default:
		return fmt.Sprintf("((\"%s\"))", label)
	}
}

func (g *GraphGenerator) generateDOT(vsm *assembler.ValueStreamMap) string {
	var sb strings.Builder

	sb.WriteString("digraph ValueStreamMap {\n")
	sb.WriteString(fmt.Sprintf("    rankdir=%s;\n", g.options.Direction))
	sb.WriteString("    node [shape=box, style=filled];\n")
	sb.WriteString("\n")

	if vsm.HasError() {
		sb.WriteString(fmt.Sprintf("    error [label=\"%s\", fillcolor=\"#ff6b6b\", fontcolor=\"white\"];\n",
			escapeDOTLabel(vsm.Error)))
		sb.WriteString("}\n")
		return sb.String()
	}

	ids := nodeIndex(vsm)
	for i, level := range vsm.Levels {
		sb.WriteString(fmt.Sprintf("    subgraph level_%d {\n", i))
		sb.WriteString("        rank=same;\n")
		for _, n := range level.Nodes {
			shape, color := dotStyle(g.styleClass(vsm, n))
			sb.WriteString(fmt.Sprintf("        %s [label=\"%s\", shape=%s, fillcolor=\"%s\"];\n",
				ids[n.ID], escapeDOTLabel(g.label(n)), shape, color))
		}
		sb.WriteString("    }\n")
	}

	sb.WriteString("\n")
	g.eachEdge(vsm, ids, func(from, to string) {
		sb.WriteString(fmt.Sprintf("    %s -> %s;\n", from, to))
	})

	sb.WriteString("}\n")
	return sb.String()
}

func dotStyle(class string) (shape, color string) {
	switch class {
	case "current":
		return "box", "#ffd93d"
	case "material":
		return "cylinder", "#10ac84"
	case "restricted":
		return "box", "#dfe6e9"
	case "dummy":
		return "point", "#ffffff"
	default:
		return "box", "#74b9ff"
	}
}

// eachEdge calls fn for every parent edge whose endpoints are both present.
func (g *GraphGenerator) eachEdge(vsm *assembler.ValueStreamMap, ids map[string]string, fn func(from, to string)) {
	for _, level := range vsm.Levels {
		for _, n := range level.Nodes {
			to := ids[n.ID]
			for _, parent := range n.Parents {
				if from, ok := ids[parent]; ok {
					fn(from, to)
				}
			}
		}
	}
}

func (g *GraphGenerator) styleClass(vsm *assembler.ValueStreamMap, n assembler.Node) string {
	switch kind := n.Kind.(type) {
	case *assembler.PipelineNode:
		if kind.ViewType.IsSet() {
			return "restricted"
		}
		if n.Name == vsm.CurrentPipeline {
			return "current"
		}
		return "pipeline"
	case *assembler.MaterialNode:
		if n.ID == vsm.CurrentMaterial {
			return "current"
		}
		return "material"
	default:
		return "dummy"
	}
}

// label returns the display text of a node.
// latestInstance returns the run with the highest counter. Upstream does
// not order revisions; the first of equal counters wins.
func latestInstance(instances []assembler.PipelineInstanceView) assembler.PipelineInstanceView {
	latest := instances[0]
	for _, in := range instances[1:] {
		if in.Counter > latest.Counter {
			latest = in
		}
	}
	return latest
}

func (g *GraphGenerator) label(n assembler.Node) string {
	name := n.Name
	if name == "" {
		name = n.ID
	}

	p, ok := n.Kind.(*assembler.PipelineNode)
	if !ok || !g.options.ShowStatus || len(p.Instances) == 0 {
		return truncateLabel(name, 60)
	}

	latest := latestInstance(p.Instances)
	statuses := make([]string, 0, len(latest.Stages))
	for _, st := range latest.Stages {
		statuses = append(statuses, st.Name+": "+st.Status)
	}
	label := fmt.Sprintf("%s #%s", truncateLabel(name, 60), latest.Label)
	if len(statuses) > 0 {
		label += "\n" + strings.Join(statuses, ", ")
	}
	return label
}

func escapeMermaidLabel(s string) string {
	replacer := strings.NewReplacer(
		"\"", "#quot;",
		"<", "&lt;",
		">", "&gt;",
		"\n", "<br/>",
	)
	return replacer.Replace(s)
}

func escapeDOTLabel(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
	)
	return replacer.Replace(s)
}

func truncateLabel(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
