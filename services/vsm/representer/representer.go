// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package representer serializes assembled value stream maps into the JSON
// document consumed by the browser-side VSM renderer.
//
// Field names are fixed by the frontend and must not change. A pipeline
// node always carries locator, edit_path, can_edit and instances; message,
// view_type and template_name appear only when set. A material node omits
// material_names when there are none. Stage duration appears only for
// completed stages. An error map serializes as {"error": "..."} alone.
package representer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
)

// Document is the top-level VSM JSON object.
type Document struct {
	CurrentPipeline string  `json:"current_pipeline,omitempty"`
	CurrentMaterial string  `json:"current_material,omitempty"`
	Levels          []Level `json:"levels,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Level is one column of the rendered map.
//
// Nodes holds *PipelineNode, *MaterialNode or *Node values.
type Level struct {
	Nodes []any `json:"nodes"`
}

// Node holds the fields every node serializes.
type Node struct {
	Name       string   `json:"name"`
	ID         string   `json:"id"`
	Dependents []string `json:"dependents"`
	Parents    []string `json:"parents"`
	NodeType   string   `json:"node_type"`
	Depth      int      `json:"depth"`
}

// PipelineNode is the JSON form of a pipeline vertex.
type PipelineNode struct {
	Node
	Locator      string     `json:"locator"`
	EditPath     string     `json:"edit_path"`
	CanEdit      bool       `json:"can_edit"`
	Message      string     `json:"message,omitempty"`
	ViewType     string     `json:"view_type,omitempty"`
	TemplateName string     `json:"template_name,omitempty"`
	Instances    []Instance `json:"instances"`
}

// Instance is one pipeline run.
type Instance struct {
	Label   string  `json:"label"`
	Counter int     `json:"counter"`
	Locator string  `json:"locator"`
	Stages  []Stage `json:"stages"`
}

// Stage is one stage of a pipeline run.
type Stage struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Duration *int64 `json:"duration,omitempty"`
	Locator  string `json:"locator"`
}

// MaterialNode is the JSON form of a material vertex.
type MaterialNode struct {
	Node
	MaterialNames     []string           `json:"material_names,omitempty"`
	MaterialRevisions []MaterialRevision `json:"material_revisions"`
}

// MaterialRevision is the revision group of one material config.
type MaterialRevision struct {
	Fingerprint   string         `json:"fingerprint"`
	Modifications []Modification `json:"modifications"`
}

// Modification is one source-control revision.
type Modification struct {
	Revision     string `json:"revision"`
	User         string `json:"user"`
	Comment      string `json:"comment"`
	ModifiedTime string `json:"modified_time"`
	Locator      string `json:"locator"`
}

// Represent converts an assembled map into its JSON document.
//
// Description:
//
//	An error map yields a Document with only Error set. A nil map yields
//	an empty Document.
//
// Inputs:
//
//	vsm - The assembled map. May be nil.
//
// Outputs:
//
//	*Document - Never nil.
func Represent(vsm *assembler.ValueStreamMap) *Document {
	if vsm == nil {
		return &Document{}
	}
	if vsm.HasError() {
		return &Document{Error: vsm.Error}
	}

	doc := &Document{
		CurrentPipeline: vsm.CurrentPipeline,
		CurrentMaterial: vsm.CurrentMaterial,
		Levels:          make([]Level, 0, len(vsm.Levels)),
	}
	for _, level := range vsm.Levels {
		nodes := make([]any, 0, len(level.Nodes))
		for i := range level.Nodes {
			nodes = append(nodes, representNode(&level.Nodes[i]))
		}
		doc.Levels = append(doc.Levels, Level{Nodes: nodes})
	}
	return doc
}

// Marshal serializes an assembled map to JSON.
func Marshal(vsm *assembler.ValueStreamMap) ([]byte, error) {
	data, err := json.Marshal(Represent(vsm))
	if err != nil {
		return nil, fmt.Errorf("marshal value stream map: %w", err)
	}
	return data, nil
}

// MarshalIndent serializes an assembled map to indented JSON.
func MarshalIndent(vsm *assembler.ValueStreamMap) ([]byte, error) {
	data, err := json.MarshalIndent(Represent(vsm), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal value stream map: %w", err)
	}
	return data, nil
}

func representNode(n *assembler.Node) any {
	common := Node{
		Name:       n.Name,
		ID:         n.ID,
		Dependents: nonNil(n.Dependents),
		Parents:    nonNil(n.Parents),
		NodeType:   n.Type.String(),
		Depth:      n.Depth,
	}

	switch kind := n.Kind.(type) {
	case *assembler.PipelineNode:
		return representPipeline(common, kind)
	case *assembler.MaterialNode:
		return representMaterial(common, kind)
	case *assembler.GenericNode, nil:
		return &common
	default:
		panic(fmt.Sprintf("representer: unhandled node kind %T", kind))
	}
}

func representPipeline(common Node, p *assembler.PipelineNode) *PipelineNode {
	out := &PipelineNode{
		Node:         common,
		Locator:      p.Locator,
		EditPath:     p.EditPath,
		CanEdit:      p.CanEdit,
		Message:      p.Message,
		TemplateName: p.TemplateName,
		Instances:    make([]Instance, 0, len(p.Instances)),
	}
	if p.ViewType.IsSet() {
		out.ViewType = strings.ToLower(string(p.ViewType))
	}

	for _, inst := range p.Instances {
		stages := make([]Stage, 0, len(inst.Stages))
		for _, st := range inst.Stages {
			stages = append(stages, Stage{
				Name:     st.Name,
				Status:   st.Status,
				Duration: st.Duration,
				Locator:  st.Locator,
			})
		}
		out.Instances = append(out.Instances, Instance{
			Label:   inst.Label,
			Counter: inst.Counter,
			Locator: inst.Locator,
			Stages:  stages,
		})
	}
	return out
}

func representMaterial(common Node, m *assembler.MaterialNode) *MaterialNode {
	out := &MaterialNode{
		Node:              common,
		MaterialNames:     m.MaterialNames,
		MaterialRevisions: make([]MaterialRevision, 0, len(m.MaterialRevisions)),
	}
	for _, group := range m.MaterialRevisions {
		mods := make([]Modification, 0, len(group.Modifications))
		for _, mod := range group.Modifications {
			mods = append(mods, Modification(mod))
		}
		out.MaterialRevisions = append(out.MaterialRevisions, MaterialRevision{
			Fingerprint:   group.Fingerprint,
			Modifications: mods,
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
