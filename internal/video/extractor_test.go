package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExtractDedupsAndRenamesFrames(t *testing.T) {
	captureDir := filepath.Join(t.TempDir(), "Captures")
	video := filepath.Join(t.TempDir(), "exam.mp4")
	if err := os.WriteFile(video, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}

	var tmpDir string
	e := New(captureDir)
	e.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	e.run = func(_ context.Context, in, pattern string, interval int) error {
		if in != video || interval != 3 {
			t.Errorf("run(%q, %d)", in, interval)
		}
		tmpDir = filepath.Dir(pattern)
		for i, content := range []string{"q1", "q1", "q2", "q1"} {
			if err := os.WriteFile(fmt.Sprintf(pattern, i+1), []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}

	frames, err := e.Extract(context.Background(), video, 3)
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, f := range frames {
		names = append(names, filepath.Base(f))
	}
	want := "capture_video_20260304_050607_000001.png,capture_video_20260304_050607_000002.png"
	if strings.Join(names, ",") != want {
		t.Fatalf("frames = %v", names)
	}
	if data, _ := os.ReadFile(frames[1]); string(data) != "q2" {
		t.Fatalf("second frame holds %q, want q2", data)
	}
	if _, err := os.Stat(tmpDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temporary frame directory was not removed")
	}
}

func TestExtractValidation(t *testing.T) {
	e := New(t.TempDir())
	e.run = func(context.Context, string, string, int) error {
		t.Fatal("ffmpeg must not run")
		return nil
	}

	video := filepath.Join(t.TempDir(), "v.mp4")
	os.WriteFile(video, nil, 0o644)

	for _, interval := range []int{0, 21} {
		if _, err := e.Extract(context.Background(), video, interval); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("interval %d: err = %v", interval, err)
		}
	}
	if _, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), 2); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("missing video: err = %v", err)
	}
}

func TestExtractReportsFFmpegErrors(t *testing.T) {
	e := New(t.TempDir())
	boom := errors.New("ffmpeg failed: invalid data")
	e.run = func(context.Context, string, string, int) error { return boom }

	video := filepath.Join(t.TempDir(), "v.mp4")
	os.WriteFile(video, nil, 0o644)
	if _, err := e.Extract(context.Background(), video, 2); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
