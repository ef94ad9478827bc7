// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocd/gocd-sub047/services/vsm/model"
)

// testLinks returns deterministic builders that encode their arguments.
func testLinks() LinkBuilders {
	return LinkBuilders{
		PipelineHistory: func(name string, counter int) string {
			return fmt.Sprintf("history:%s:%d", name, counter)
		},
		MaterialRevision: func(fp, rev string) string {
			return fmt.Sprintf("material:%s:%s", fp, rev)
		},
		StageDetail: func(name string, counter int, stage string, stageCounter int) string {
			return fmt.Sprintf("stage:%s:%d:%s:%d", name, counter, stage, stageCounter)
		},
		PipelineEdit: func(name string) string {
			return "edit:" + name
		},
	}
}

func pipelineNode(id, name string, view model.ViewType, revs ...model.PipelineRevision) model.DependencyNode {
	return model.DependencyNode{
		ID:        id,
		Name:      name,
		Type:      model.NodeTypePipeline,
		ViewType:  view,
		Revisions: revs,
	}
}

func mustPipeline(t *testing.T, n Node) *PipelineNode {
	t.Helper()
	p, ok := n.Kind.(*PipelineNode)
	require.True(t, ok, "expected *PipelineNode, got %T", n.Kind)
	return p
}

func mustMaterial(t *testing.T, n Node) *MaterialNode {
	t.Helper()
	m, ok := n.Kind.(*MaterialNode)
	require.True(t, ok, "expected *MaterialNode, got %T", n.Kind)
	return m
}

func TestAssemble_EndToEndExample(t *testing.T) {
	levels := []model.Level{{Nodes: []model.DependencyNode{{
		ID:       "1",
		Name:     "build-linux",
		Type:     model.NodeTypePipeline,
		Parents:  []string{},
		Children: []string{"2"},
		Depth:    0,
		Revisions: []model.PipelineRevision{{
			Label:   "1",
			Counter: 1,
			Stages: []model.StageRevision{{
				Name:            "unit-tests",
				Status:          "Passed",
				Counter:         1,
				Completed:       true,
				DurationSeconds: 42,
			}},
		}},
	}}}}

	links := testLinks()
	vsm := Assemble("build-linux", "", "", levels, links)

	require.False(t, vsm.HasError())
	assert.Equal(t, "build-linux", vsm.CurrentPipeline)
	assert.Empty(t, vsm.CurrentMaterial)
	require.Len(t, vsm.Levels, 1)
	require.Len(t, vsm.Levels[0].Nodes, 1)

	node := vsm.Levels[0].Nodes[0]
	assert.Equal(t, "1", node.ID)
	assert.Equal(t, []string{"2"}, node.Dependents)
	assert.Equal(t, []string{}, node.Parents)

	p := mustPipeline(t, node)
	assert.Equal(t, "/tab/pipeline/history/build-linux", p.Locator)
	assert.Equal(t, "edit:build-linux", p.EditPath)
	require.Len(t, p.Instances, 1)

	inst := p.Instances[0]
	assert.Equal(t, "1", inst.Label)
	assert.Equal(t, "history:build-linux:1", inst.Locator)
	require.Len(t, inst.Stages, 1)

	stage := inst.Stages[0]
	assert.Equal(t, "unit-tests", stage.Name)
	assert.Equal(t, "Passed", stage.Status)
	require.NotNil(t, stage.Duration)
	assert.Equal(t, int64(42), *stage.Duration)
	assert.Equal(t, links.StageDetail("build-linux", 1, "unit-tests", 1), stage.Locator)
}

func TestAssemble_ErrorShortCircuit(t *testing.T) {
	levels := []model.Level{{Nodes: []model.DependencyNode{pipelineNode("p", "p", "")}}}

	vsm := Assemble("p", "m", "Pipeline 'p' not found", levels, testLinks())

	assert.True(t, vsm.HasError())
	assert.Equal(t, "Pipeline 'p' not found", vsm.Error)
	assert.Nil(t, vsm.Levels)
	assert.Empty(t, vsm.CurrentPipeline)
	assert.Empty(t, vsm.CurrentMaterial)
	assert.Equal(t, 0, vsm.NodeCount())
}

func TestAssemble_PreservesLevelOrder(t *testing.T) {
	levels := []model.Level{
		{Nodes: []model.DependencyNode{
			{ID: "git", Type: model.NodeTypeMaterial},
			{ID: "svn", Type: model.NodeTypeMaterial},
		}},
		{Nodes: []model.DependencyNode{{ID: "dummy-1", Type: model.NodeTypeDummy}}},
		{Nodes: []model.DependencyNode{
			pipelineNode("a", "a", ""),
			pipelineNode("b", "b", ""),
			pipelineNode("c", "c", ""),
		}},
	}

	vsm := Assemble("a", "", "", levels, NoLinks())

	require.Len(t, vsm.Levels, len(levels))
	for i, level := range levels {
		require.Len(t, vsm.Levels[i].Nodes, len(level.Nodes), "level %d", i)
		for j, n := range level.Nodes {
			assert.Equal(t, n.ID, vsm.Levels[i].Nodes[j].ID, "level %d node %d", i, j)
		}
	}
	assert.Equal(t, 6, vsm.NodeCount())
}

func TestAssemble_EmptyLevels(t *testing.T) {
	vsm := Assemble("p", "", "", nil, NoLinks())

	assert.False(t, vsm.HasError())
	assert.NotNil(t, vsm.Levels)
	assert.Empty(t, vsm.Levels)
}

func TestAssemble_PipelineEditPathAndLocator(t *testing.T) {
	tests := []struct {
		name        string
		view        model.ViewType
		wantLocator string
	}{
		{"no view type", model.ViewTypeNone, "/tab/pipeline/history/deploy"},
		{"warning", model.ViewTypeWarning, ""},
		{"no permission", model.ViewTypeNoPermission, ""},
		{"deleted", model.ViewTypeDeleted, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels := []model.Level{{Nodes: []model.DependencyNode{pipelineNode("deploy", "deploy", tt.view)}}}

			vsm := Assemble("deploy", "", "", levels, testLinks())

			p := mustPipeline(t, vsm.Levels[0].Nodes[0])
			assert.Equal(t, "edit:deploy", p.EditPath, "edit path is computed for every view type")
			assert.Equal(t, tt.wantLocator, p.Locator)
			assert.Equal(t, tt.view, p.ViewType)
		})
	}
}

func TestAssemble_PipelinePayloadFields(t *testing.T) {
	n := pipelineNode("p", "p", model.ViewTypeWarning)
	n.Message = "Pipeline config has errors"
	n.CanEdit = true
	n.TemplateName = "java-build"

	vsm := Assemble("p", "", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, NoLinks())

	p := mustPipeline(t, vsm.Levels[0].Nodes[0])
	assert.Equal(t, "Pipeline config has errors", p.Message)
	assert.True(t, p.CanEdit)
	assert.Equal(t, "java-build", p.TemplateName)
	assert.NotNil(t, p.Instances)
	assert.Empty(t, p.Instances)
	assert.Empty(t, p.EditPath)
}

func TestAssemble_ZeroCounterSuppression(t *testing.T) {
	n := pipelineNode("p", "p", "",
		model.PipelineRevision{Label: "unrun", Counter: 0},
		model.PipelineRevision{Label: "7", Counter: 7},
	)

	vsm := Assemble("p", "", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, testLinks())

	p := mustPipeline(t, vsm.Levels[0].Nodes[0])
	require.Len(t, p.Instances, 2)
	assert.Empty(t, p.Instances[0].Locator)
	assert.Equal(t, 0, p.Instances[0].Counter)
	assert.Equal(t, "history:p:7", p.Instances[1].Locator)
	assert.NotNil(t, p.Instances[0].Stages)
}

func TestAssemble_StageSuppression(t *testing.T) {
	n := pipelineNode("p", "p", "", model.PipelineRevision{
		Label:   "3",
		Counter: 3,
		Stages: []model.StageRevision{
			{Name: "build", Status: "Passed", Counter: 2, Completed: true, DurationSeconds: 0},
			{Name: "test", Status: "Building", Counter: 1, Completed: false, DurationSeconds: 99},
			{Name: "deploy", Status: model.StageStatusUnknown, Counter: 5},
		},
	})

	vsm := Assemble("p", "", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, testLinks())

	stages := mustPipeline(t, vsm.Levels[0].Nodes[0]).Instances[0].Stages
	require.Len(t, stages, 3)

	require.NotNil(t, stages[0].Duration, "completed stage keeps a zero duration")
	assert.Equal(t, int64(0), *stages[0].Duration)
	assert.Equal(t, "stage:p:3:build:2", stages[0].Locator)

	assert.Nil(t, stages[1].Duration)
	assert.Equal(t, "stage:p:3:test:1", stages[1].Locator)

	assert.Empty(t, stages[2].Locator)
	assert.Nil(t, stages[2].Duration)
}

func TestAssemble_MaterialNode(t *testing.T) {
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	names := []string{"repo", "mirror"}
	n := model.DependencyNode{
		ID:            "fp-1",
		Name:          "https://example.com/repo.git",
		Type:          model.NodeTypeMaterial,
		Children:      []string{"p"},
		MaterialNames: names,
		MaterialRevisions: []model.MaterialRevision{{
			Fingerprint: "fp-1",
			Modifications: []model.Modification{
				{Revision: "abc", User: "dev", Comment: "fix build", ModifiedTime: when},
				{Revision: "def", User: "ops", Comment: "bump"},
			},
		}},
	}

	a := New(testLinks(), WithTimeFormatter(AbsoluteTime{Layout: "2006-01-02"}))
	vsm := a.Assemble("", "fp-1", "", []model.Level{{Nodes: []model.DependencyNode{n}}})

	assert.Equal(t, "fp-1", vsm.CurrentMaterial)
	m := mustMaterial(t, vsm.Levels[0].Nodes[0])
	assert.Equal(t, names, m.MaterialNames)

	names[0] = "mutated"
	assert.Equal(t, "repo", m.MaterialNames[0], "material names must not alias the input")

	require.Len(t, m.MaterialRevisions, 1)
	group := m.MaterialRevisions[0]
	assert.Equal(t, "fp-1", group.Fingerprint)
	require.Len(t, group.Modifications, 2)

	assert.Equal(t, MaterialRevisionView{
		Revision:     "abc",
		User:         "dev",
		Comment:      "fix build",
		ModifiedTime: "2024-05-01",
		Locator:      "material:fp-1:abc",
	}, group.Modifications[0])
	assert.Equal(t, NoTimeData, group.Modifications[1].ModifiedTime)
}

func TestAssemble_MaterialNamesOmittedWhenEmpty(t *testing.T) {
	for _, names := range [][]string{nil, {}} {
		n := model.DependencyNode{ID: "m", Type: model.NodeTypeMaterial, MaterialNames: names}

		vsm := Assemble("", "m", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, NoLinks())

		m := mustMaterial(t, vsm.Levels[0].Nodes[0])
		assert.Nil(t, m.MaterialNames)
		assert.NotNil(t, m.MaterialRevisions)
	}
}

func TestAssemble_GenericNode(t *testing.T) {
	for _, typ := range []model.NodeType{model.NodeTypeDummy, "SOMETHING_ELSE", ""} {
		n := model.DependencyNode{
			ID:       "d",
			Name:     "dummy",
			Type:     typ,
			Depth:    2,
			Parents:  []string{"a"},
			Children: []string{"b"},
			Message:  "ignored",
		}

		vsm := Assemble("", "", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, testLinks())

		node := vsm.Levels[0].Nodes[0]
		assert.IsType(t, &GenericNode{}, node.Kind)
		assert.Equal(t, typ, node.Type)
		assert.Equal(t, 2, node.Depth)
		assert.Equal(t, []string{"a"}, node.Parents)
		assert.Equal(t, []string{"b"}, node.Dependents)
	}
}

func TestAssemble_EdgesDoNotAliasInput(t *testing.T) {
	parents := []string{"x"}
	n := pipelineNode("p", "p", "")
	n.Parents = parents

	vsm := Assemble("p", "", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, NoLinks())
	parents[0] = "y"

	assert.Equal(t, []string{"x"}, vsm.Levels[0].Nodes[0].Parents)
}

func TestAssemble_NilLinkBuildersYieldEmptyLocators(t *testing.T) {
	n := pipelineNode("p", "p", "", model.PipelineRevision{
		Label: "1", Counter: 1,
		Stages: []model.StageRevision{{Name: "s", Status: "Passed", Counter: 1}},
	})

	vsm := Assemble("p", "", "", []model.Level{{Nodes: []model.DependencyNode{n}}}, LinkBuilders{})

	p := mustPipeline(t, vsm.Levels[0].Nodes[0])
	assert.Empty(t, p.EditPath)
	assert.Equal(t, "/tab/pipeline/history/p", p.Locator)
	assert.Empty(t, p.Instances[0].Locator)
	assert.Empty(t, p.Instances[0].Stages[0].Locator)
}

func TestAssembler_AssembleGraph(t *testing.T) {
	a := New(NoLinks())

	vsm := a.AssembleGraph(&model.Graph{
		CurrentPipeline: "p",
		Levels:          []model.Level{{Nodes: []model.DependencyNode{pipelineNode("p", "p", "")}}},
	})
	assert.Equal(t, "p", vsm.CurrentPipeline)
	assert.Equal(t, 1, vsm.NodeCount())

	empty := a.AssembleGraph(nil)
	assert.False(t, empty.HasError())
	assert.Equal(t, 0, empty.NodeCount())
}

func TestAssembler_AssembleError(t *testing.T) {
	a := New(NoLinks())

	assert.Equal(t, "no permission", a.AssembleError("no permission").Error)
	assert.True(t, a.AssembleError("").HasError())
}

func TestValueStreamMap_NilSafe(t *testing.T) {
	var vsm *ValueStreamMap
	assert.False(t, vsm.HasError())
	assert.Equal(t, 0, vsm.NodeCount())
}
