// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocd/gocd-sub047/services/vsm/model"
)

// FileSource reads graphs exported as JSON files.
//
// # Layout
//
//	{dir}/pipelines/{name}/{counter}.json
//	{dir}/materials/{fingerprint}/{revision}.json
//
// # Thread Safety
//
// Safe for concurrent use. Writes replace files atomically via rename.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) (*FileSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot dir %s is not a directory", dir)
	}
	return &FileSource{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileSource) Dir() string {
	return s.dir
}

// PipelineGraph implements Source.
func (s *FileSource) PipelineGraph(ctx context.Context, name string, counter int) (*model.Graph, error) {
	return s.read(ctx, PipelineKey(name, counter))
}

// MaterialGraph implements Source.
func (s *FileSource) MaterialGraph(ctx context.Context, fingerprint, revision string) (*model.Graph, error) {
	return s.read(ctx, MaterialKey(fingerprint, revision))
}

// Write stores g under key, creating directories as needed.
func (s *FileSource) Write(key Key, g *model.Graph) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".graph-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write graph: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close graph: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename graph: %w", err)
	}
	return nil
}

func (s *FileSource) read(ctx context.Context, key Key) (*model.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, notFound(key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, &UpstreamError{Key: key, Err: fmt.Errorf("%w: %v", ErrPermissionDenied, err)}
		}
		return nil, &UpstreamError{Key: key, Err: fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)}
	}

	var g model.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, &UpstreamError{Key: key, Err: fmt.Errorf("%w: %s: %v", ErrInvalidGraph, path, err)}
	}
	return &g, nil
}

// path maps a key to its file, rejecting segments that escape the root.
func (s *FileSource) path(key Key) (string, error) {
	var sub string
	switch key.Kind {
	case KindPipeline:
		sub = "pipelines"
	case KindMaterial:
		sub = "materials"
	default:
		return "", fmt.Errorf("unknown graph kind %q", key.Kind)
	}
	for _, seg := range []string{key.Name, key.Version} {
		if !validSegment(seg) {
			return "", fmt.Errorf("invalid path segment %q", seg)
		}
	}
	return filepath.Join(s.dir, sub, key.Name, key.Version+".json"), nil
}

// KeyForPath returns the key a snapshot file under dir represents.
func KeyForPath(dir, path string) (Key, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return Key{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".json") {
		return Key{}, false
	}
	version := strings.TrimSuffix(parts[2], ".json")
	if version == "" || parts[1] == "" {
		return Key{}, false
	}

	switch parts[0] {
	case "pipelines":
		counter, err := strconv.Atoi(version)
		if err != nil {
			return Key{}, false
		}
		return PipelineKey(parts[1], counter), true
	case "materials":
		return MaterialKey(parts[1], version), true
	default:
		return Key{}, false
	}
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
