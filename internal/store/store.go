// Package store persists pipeline artifacts in the output directory.
//
// For a capture image with base name "name" the store manages:
//   - name_result.json: the final AnswerResult (pretty printed)
//   - name_ocr.json: the intermediate OCR record
//   - name.processed: marker holding the UTC time processing started
//
// The store is the durable record of results; in-memory notifications only
// announce new entries.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
	"quizsnap/pkg/models"
)

const (
	resultSuffix = "_result.json"
	ocrSuffix    = "_ocr.json"
	markerSuffix = ".processed"

	// VideoFramePrefix marks capture images produced by the video extractor.
	VideoFramePrefix = "capture_video_"
)

var (
	// ErrResultNotFound is returned when no result file exists for a name.
	ErrResultNotFound = errors.New("result not found")

	// ErrInvalidName is returned for names that would escape the output directory.
	ErrInvalidName = errors.New("invalid result name")
)

// Store reads and writes the artifacts of the capture pipeline.
type Store struct {
	outputDir string
	videoDir  string
	log       zerolog.Logger
}

// New creates the output directory if needed. videoDir may be empty, in
// which case video frames are left where they are.
func New(outputDir, videoDir string) (*Store, error) {
	const op = "store.New"

	if outputDir == "" {
		return nil, fmt.Errorf("%s: output directory is required", op)
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve output directory: %w", op, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%s: create output directory: %w", op, err)
	}
	if videoDir != "" {
		if videoDir, err = filepath.Abs(videoDir); err != nil {
			return nil, fmt.Errorf("%s: resolve video directory: %w", op, err)
		}
	}

	return &Store{
		outputDir: abs,
		videoDir:  videoDir,
		log:       logger.WithComponent("store"),
	}, nil
}

// OutputDir returns the absolute output directory.
func (s *Store) OutputDir() string { return s.outputDir }

// BaseName is the artifact name of an image: its file name without extension.
func BaseName(imagePath string) string {
	name := filepath.Base(imagePath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (s *Store) ResultPath(imagePath string) string {
	return filepath.Join(s.outputDir, BaseName(imagePath)+resultSuffix)
}

func (s *Store) OcrPath(imagePath string) string {
	return filepath.Join(s.outputDir, BaseName(imagePath)+ocrSuffix)
}

func (s *Store) MarkerPath(imagePath string) string {
	return filepath.Join(s.outputDir, BaseName(imagePath)+markerSuffix)
}

// WriteMarker records that processing of an image has started.
func (s *Store) WriteMarker(imagePath string) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(s.MarkerPath(imagePath), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write marker for %s: %w", filepath.Base(imagePath), err)
	}
	return nil
}

func (s *Store) HasMarker(imagePath string) bool {
	return fileExists(s.MarkerPath(imagePath))
}

func (s *Store) HasResult(imagePath string) bool {
	return fileExists(s.ResultPath(imagePath))
}

// RemoveMarker deletes the processing marker, ignoring a missing file.
func (s *Store) RemoveMarker(imagePath string) {
	s.remove(s.MarkerPath(imagePath))
}

// RemoveOcr deletes the intermediate OCR record, ignoring a missing file.
func (s *Store) RemoveOcr(imagePath string) {
	s.remove(s.OcrPath(imagePath))
}

// RemoveResult deletes the result file, ignoring a missing file.
func (s *Store) RemoveResult(imagePath string) {
	s.remove(s.ResultPath(imagePath))
}

// RemoveImage deletes a capture image, ignoring a missing file.
func (s *Store) RemoveImage(imagePath string) {
	s.remove(imagePath)
}

func (s *Store) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to remove file")
	}
}

// SaveOcr writes the intermediate OCR record.
func (s *Store) SaveOcr(rec models.OcrRecord) error {
	return writeJSON(s.OcrPath(rec.ImagePath), rec)
}

// SaveResult writes the result as <name>_result.json.
func (s *Store) SaveResult(r models.AnswerResult) error {
	path := r.ImagePath
	if path == "" {
		path = r.FileName
	}
	return writeJSON(s.ResultPath(path), r)
}

// LoadResult reads the result stored under an artifact name.
func (s *Store) LoadResult(name string) (*models.AnswerResult, error) {
	const op = "LoadResult"

	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidName, name)
	}
	data, err := os.ReadFile(filepath.Join(s.outputDir, name+resultSuffix))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrResultNotFound, name)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var r models.AnswerResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, name, err)
	}
	r.NormalizeOptions()
	return &r, nil
}

// Results reads every result file in the output directory, oldest first.
// Files that cannot be decoded are skipped.
func (s *Store) Results() ([]models.AnswerResult, error) {
	const op = "Results"

	paths, err := filepath.Glob(filepath.Join(s.outputDir, "*"+resultSuffix))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := make([]models.AnswerResult, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			s.log.Debug().Err(err).Str("path", p).Msg("Skipping unreadable result")
			continue
		}
		var r models.AnswerResult
		if err := json.Unmarshal(data, &r); err != nil {
			s.log.Debug().Err(err).Str("path", p).Msg("Skipping malformed result")
			continue
		}
		r.NormalizeOptions()
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// IsVideoFrame reports whether an image was produced by the video extractor.
func IsVideoFrame(fileName string) bool {
	return strings.HasPrefix(filepath.Base(fileName), VideoFramePrefix)
}

// MoveToVideoDir moves a video frame into the video capture directory and
// rewrites its result to point at the new location. Other images are left
// untouched.
func (s *Store) MoveToVideoDir(r *models.AnswerResult) error {
	const op = "MoveToVideoDir"

	if s.videoDir == "" || !IsVideoFrame(r.FileName) {
		return nil
	}
	if filepath.Dir(r.ImagePath) == s.videoDir {
		return nil
	}
	if err := os.MkdirAll(s.videoDir, 0o755); err != nil {
		return fmt.Errorf("%s: create video directory: %w", op, err)
	}

	dest := filepath.Join(s.videoDir, filepath.Base(r.ImagePath))
	if err := moveFile(r.ImagePath, dest); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.ImagePath = dest
	r.FileName = filepath.Base(dest)
	if err := s.SaveResult(*r); err != nil {
		return fmt.Errorf("%s: rewrite result: %w", op, err)
	}
	return nil
}

// ClearStaleMarkers removes markers that have no result file and were
// written more than maxAge before now. A zero maxAge clears every such
// marker. It returns the number of markers removed.
func (s *Store) ClearStaleMarkers(maxAge time.Duration, now time.Time) (int, error) {
	const op = "ClearStaleMarkers"

	paths, err := filepath.Glob(filepath.Join(s.outputDir, "*"+markerSuffix))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	removed := 0
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), markerSuffix)
		if fileExists(filepath.Join(s.outputDir, name+resultSuffix)) {
			continue
		}
		if maxAge > 0 && now.Sub(markerTime(p)) < maxAge {
			continue
		}
		if err := os.Remove(p); err != nil {
			s.log.Warn().Err(err).Str("marker", p).Msg("Failed to remove stale marker")
			continue
		}
		removed++
	}
	return removed, nil
}

// markerTime reads the timestamp stored in a marker, falling back to the
// file's modification time.
func markerTime(path string) time.Time {
	if data, err := os.ReadFile(path); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data))); err == nil {
			return t
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
