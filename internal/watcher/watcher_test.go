package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	paths  []string
	refuse bool
}

func (s *recordingSubmitter) Submit(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.paths = append(s.paths, filepath.Base(path))
	return true
}

func (s *recordingSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

type fakeArtifacts struct {
	markers map[string]bool
	results map[string]bool
}

func (f fakeArtifacts) HasMarker(p string) bool { return f.markers[filepath.Base(p)] }
func (f fakeArtifacts) HasResult(p string) bool { return f.results[filepath.Base(p)] }

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanSelectsPendingCaptures(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.PNG", "a_prep.png", "done.png", "busy.png", "notes.txt"} {
		touch(t, dir, name)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	sub := &recordingSubmitter{}
	w := New(dir, time.Second, sub, fakeArtifacts{
		markers: map[string]bool{"busy.png": true},
		results: map[string]bool{"done.png": true},
	})

	if n := w.Scan(); n != 2 {
		t.Fatalf("Scan() = %d, want 2", n)
	}
	got := sub.submitted()
	if len(got) != 2 || got[0] != "a.PNG" || got[1] != "b.png" {
		t.Fatalf("submitted %v", got)
	}

	if n := w.Scan(); n != 0 {
		t.Fatalf("second Scan() = %d, in-flight files must not be resubmitted", n)
	}

	w.Release(filepath.Join(dir, "b.png"))
	if n := w.Scan(); n != 1 {
		t.Fatalf("Scan() after Release = %d, want 1", n)
	}
}

func TestRefusedSubmissionIsRetried(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "q.png")

	sub := &recordingSubmitter{refuse: true}
	w := New(dir, time.Second, sub, nil)
	if n := w.Scan(); n != 0 {
		t.Fatalf("Scan() = %d", n)
	}

	sub.mu.Lock()
	sub.refuse = false
	sub.mu.Unlock()
	if n := w.Scan(); n != 1 {
		t.Fatalf("refused file was not retried, Scan() = %d", n)
	}
}

func TestRunPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "existing.png")

	sub := &recordingSubmitter{}
	w := New(dir, time.Hour, sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	}()

	waitFor(t, func() bool { return len(sub.submitted()) == 1 })
	touch(t, dir, "new.png")
	touch(t, dir, "new_prep.png")
	waitFor(t, func() bool { return len(sub.submitted()) == 2 })

	got := sub.submitted()
	if got[0] != "existing.png" || got[1] != "new.png" {
		t.Fatalf("submitted %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
