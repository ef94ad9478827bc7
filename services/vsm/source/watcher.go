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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a snapshot file that was created, written, removed or renamed.
type Change struct {
	// Key is the graph the file holds.
	Key Key

	// Path is the absolute path of the file.
	Path string

	// Op is the fsnotify operation that was observed last.
	Op fsnotify.Op
}

// ChangeHandler receives debounced batches of changes, one per key.
type ChangeHandler func(changes []Change)

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce is how long to wait for more events before flushing.
	// Default: 200ms
	Debounce time.Duration

	// BufferSize is the capacity of the event channel.
	// Default: 256
	BufferSize int
}

// DefaultWatchOptions returns sensible defaults.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		Debounce:   200 * time.Millisecond,
		BufferSize: 256,
	}
}

// Watcher reports changed snapshot files under a FileSource root.
//
// # Description
//
// Subdirectories are watched recursively, including ones created after
// Start. Events for files that do not map to a graph key are ignored.
// Events are batched until Debounce passes without a new one.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. The handler runs on a
// single goroutine.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// Watch creates a Watcher over the source's directory.
//
// The returned Watcher is idle until Start.
func (s *FileSource) Watch(handler ChangeHandler, opts *WatchOptions) (*Watcher, error) {
	return NewWatcher(s.dir, handler, opts)
}

// NewWatcher creates a Watcher over root.
//
// Inputs:
//
//   - root: Snapshot directory.
//   - handler: Called with each debounced batch.
//   - opts: Nil means DefaultWatchOptions.
//
// Outputs:
//
//   - *Watcher: Call Start to begin watching and Stop to release it.
//   - error: Non-nil if the fsnotify watcher could not be created.
func NewWatcher(root string, handler ChangeHandler, opts *WatchOptions) (*Watcher, error) {
	o := DefaultWatchOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Watcher{
		root:     abs,
		watcher:  fw,
		handler:  handler,
		debounce: o.Debounce,
		logger:   slog.With("component", "source.watcher", "root", abs),
		changes:  make(chan Change, o.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Calling Start twice is a no-op; a failed Start
// may be retried.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Files may land before the new directory is watched.
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch new directory", "path", event.Name, "error", err)
					}
					w.enqueueExisting(event.Name)
					continue
				}
			}
			w.enqueue(event.Name, event.Op)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) enqueueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			w.enqueue(path, fsnotify.Create)
		}
		return nil
	})
}

func (w *Watcher) enqueue(path string, op fsnotify.Op) {
	key, ok := KeyForPath(w.root, path)
	if !ok {
		return
	}
	select {
	case w.changes <- Change{Key: key, Path: path, Op: op}:
	default:
		w.logger.Warn("change buffer full, dropping event", "path", path)
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			if deduped := deduplicate(batch); len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// deduplicate keeps the latest change per key, in first-seen order.
func deduplicate(changes []Change) []Change {
	seen := make(map[Key]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if idx, ok := seen[c.Key]; ok {
			out[idx] = c
			continue
		}
		seen[c.Key] = len(out)
		out = append(out, c)
	}
	return out
}
