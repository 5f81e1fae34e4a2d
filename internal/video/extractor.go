// Package video extracts capture frames from screen recordings.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"quizsnap/internal/dedup"
	"quizsnap/internal/logger"
	"quizsnap/internal/store"
)

const (
	MinInterval     = 1
	MaxInterval     = 20
	DefaultInterval = 2

	framePattern = "frame_%06d.png"
)

var (
	// ErrInvalidInterval is returned for intervals outside 1..20 seconds.
	ErrInvalidInterval = errors.New("frame interval must be between 1 and 20 seconds")

	// ErrVideoNotFound is returned when the input file does not exist.
	ErrVideoNotFound = errors.New("video not found")
)

// runFunc writes one frame every interval seconds of videoPath to outputPattern.
type runFunc func(ctx context.Context, videoPath, outputPattern string, interval int) error

// Extractor samples frames from a video into the capture directory.
type Extractor struct {
	captureDir string
	run        runFunc
	now        func() time.Time
	log        zerolog.Logger
}

func New(captureDir string) *Extractor {
	return &Extractor{
		captureDir: captureDir,
		run:        runFFmpeg,
		now:        time.Now,
		log:        logger.WithComponent("video"),
	}
}

// Extract writes one frame per interval seconds, drops frames whose bytes
// repeat an earlier frame and returns the paths of the kept frames in order.
func (e *Extractor) Extract(ctx context.Context, videoPath string, interval int) ([]string, error) {
	const op = "video.Extract"

	if interval < MinInterval || interval > MaxInterval {
		return nil, fmt.Errorf("%s: %w: %d", op, ErrInvalidInterval, interval)
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrVideoNotFound, videoPath)
	}
	if err := os.MkdirAll(e.captureDir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: create capture directory: %w", op, err)
	}

	tmpDir, err := os.MkdirTemp("", "quizsnap_frames_*")
	if err != nil {
		return nil, fmt.Errorf("%s: temp dir: %w", op, err)
	}
	defer os.RemoveAll(tmpDir)

	started := e.now()
	e.log.Info().Str("video", filepath.Base(videoPath)).Int("interval", interval).Msg("Extracting frames")

	if err := e.run(ctx, videoPath, filepath.Join(tmpDir, framePattern), interval); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	frames, err := filepath.Glob(filepath.Join(tmpDir, "frame_*.png"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sort.Strings(frames)

	stamp := started.Format("20060102_150405")
	seen := make(map[string]struct{}, len(frames))
	kept := make([]string, 0, len(frames))
	for _, frame := range frames {
		hash, err := dedup.HashFile(frame)
		if err != nil {
			return kept, fmt.Errorf("%s: hash frame: %w", op, err)
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}

		name := fmt.Sprintf("%s%s_%06d.png", store.VideoFramePrefix, stamp, len(kept)+1)
		dest := filepath.Join(e.captureDir, name)
		if err := copyFile(frame, dest); err != nil {
			return kept, fmt.Errorf("%s: %w", op, err)
		}
		kept = append(kept, dest)
	}

	e.log.Info().
		Int("frames", len(frames)).
		Int("kept", len(kept)).
		Dur("took", time.Since(started)).
		Msg("Frame extraction finished")
	return kept, nil
}

func runFFmpeg(ctx context.Context, videoPath, outputPattern string, interval int) error {
	cmd := ffmpeg.Input(videoPath).
		Output(outputPattern, ffmpeg.KwArgs{
			"vf":       fmt.Sprintf("fps=1/%d", interval),
			"qscale:v": 2,
		}).
		OverWriteOutput().
		Compile()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
		}
		return nil
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
