// Package watcher feeds new capture images into the pipeline.
//
// File system notifications give low latency; a periodic rescan catches
// whatever the notifications missed, including files that were present
// before the watcher started.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
	"quizsnap/internal/preprocess"
)

const (
	DefaultInterval = 5 * time.Second

	// settleDelay lets a capture tool finish writing before the file is read.
	settleDelay = 300 * time.Millisecond
)

// Submitter accepts images for processing. It returns false when the image
// was not accepted.
type Submitter interface {
	Submit(imagePath string) bool
}

// Artifacts tells whether an image was already handled.
type Artifacts interface {
	HasMarker(imagePath string) bool
	HasResult(imagePath string) bool
}

// Watcher submits pending *.png captures found in a directory.
type Watcher struct {
	dir       string
	interval  time.Duration
	submitter Submitter
	artifacts Artifacts
	log       zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a watcher for dir. A non-positive interval uses DefaultInterval.
func New(dir string, interval time.Duration, submitter Submitter, artifacts Artifacts) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		dir:       dir,
		interval:  interval,
		submitter: submitter,
		artifacts: artifacts,
		log:       logger.WithComponent("watcher"),
		inFlight:  make(map[string]struct{}),
	}
}

// Release forgets a submitted path so that a later scan may submit it again
// once its marker is gone. Call it when the pipeline reports an outcome.
func (w *Watcher) Release(imagePath string) {
	if abs, err := filepath.Abs(imagePath); err == nil {
		imagePath = abs
	}
	w.mu.Lock()
	delete(w.inFlight, imagePath)
	w.mu.Unlock()
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	const op = "watcher.Run"

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("%s: create %s: %w", op, w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("%s: watch %s: %w", op, w.dir, err)
	}

	w.log.Info().Str("dir", w.dir).Dur("interval", w.interval).Msg("Watching for captures")
	w.Scan()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	changed := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if isCapture(ev.Name) {
					changed[ev.Name] = struct{}{}
					settle.Reset(settleDelay)
				}
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("File system watcher error")

		case <-settle.C:
			for path := range changed {
				w.submit(path)
			}
			clear(changed)

		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan submits every pending capture in the directory, oldest name first,
// and returns how many were accepted.
func (w *Watcher) Scan() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.dir).Msg("Failed to scan capture directory")
		return 0
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isCapture(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if w.submit(filepath.Join(w.dir, name)) {
			n++
		}
	}
	return n
}

func (w *Watcher) submit(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if _, err := os.Stat(abs); err != nil {
		return false
	}
	if w.artifacts != nil && (w.artifacts.HasResult(abs) || w.artifacts.HasMarker(abs)) {
		return false
	}

	w.mu.Lock()
	if _, busy := w.inFlight[abs]; busy {
		w.mu.Unlock()
		return false
	}
	w.inFlight[abs] = struct{}{}
	w.mu.Unlock()

	if !w.submitter.Submit(abs) {
		w.Release(abs)
		return false
	}
	w.log.Debug().Str("file", filepath.Base(abs)).Msg("Submitted capture")
	return true
}

// isCapture accepts *.png files that are not preprocessor output.
func isCapture(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return false
	}
	return !preprocess.IsPreprocessed(path)
}
