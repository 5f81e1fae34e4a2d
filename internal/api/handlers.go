package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quizsnap/internal/ocr"
	"quizsnap/internal/store"
	"quizsnap/pkg/models"
)

var uploadExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

type uploadResponse struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Accepted bool   `json:"accepted"`
}

// handleUpload stores an uploaded capture under a fresh name and submits it.
func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ocr.MaxImageSizeBytes+1<<20)

	header, err := c.FormFile("image")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing image"})
		return
	}
	if header.Size > ocr.MaxImageSizeBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".png"
	}
	if !uploadExtensions[ext] {
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type " + ext})
		return
	}

	if err := os.MkdirAll(s.cfg.CaptureDir, 0o755); err != nil {
		s.log.Error().Err(err).Msg("Failed to create capture directory")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}

	id := uuid.NewString()
	name := "upload_" + id + ext
	path := filepath.Join(s.cfg.CaptureDir, name)
	if err := c.SaveUploadedFile(header, path); err != nil {
		s.log.Error().Err(err).Str("file", name).Msg("Failed to store upload")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}

	accepted := s.submitter.Submit(path)
	s.log.Info().Str("file", name).Bool("accepted", accepted).Msg("Capture uploaded")
	c.JSON(http.StatusAccepted, uploadResponse{ID: id, FileName: name, Accepted: accepted})
}

func (s *Server) handleListResults(c *gin.Context) {
	results, err := s.results.Results()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list results")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleGetResult(c *gin.Context) {
	r, ok := s.loadResult(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

// resultEdit is a human correction. Omitted fields are left unchanged.
type resultEdit struct {
	Question   *string           `json:"question"`
	Options    map[string]string `json:"options"`
	Answer     *string           `json:"answer"`
	AnswerText *string           `json:"answerText"`
}

func (s *Server) handleUpdateResult(c *gin.Context) {
	var edit resultEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, ok := s.loadResult(c)
	if !ok {
		return
	}

	if edit.Question != nil {
		r.Question = strings.TrimSpace(*edit.Question)
	}
	if edit.Options != nil {
		r.Options = edit.Options
		r.NormalizeOptions()
	}
	if edit.Answer != nil {
		r.Answer = strings.ToUpper(strings.TrimSpace(*edit.Answer))
	}
	switch {
	case edit.AnswerText != nil:
		r.AnswerText = strings.TrimSpace(*edit.AnswerText)
	case edit.Answer != nil || edit.Options != nil:
		r.AnswerText = ""
		if text, ok := r.Option(r.Answer); ok {
			r.AnswerText = r.Answer + ". " + text
		}
	}

	if err := s.results.SaveResult(*r); err != nil {
		s.log.Error().Err(err).Str("file", r.FileName).Msg("Failed to save edited result")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	s.log.Info().Str("file", r.FileName).Str("answer", r.Answer).Msg("Result edited")
	s.bus.Publish(*r)
	c.JSON(http.StatusOK, r)
}

func (s *Server) loadResult(c *gin.Context) (*models.AnswerResult, bool) {
	r, err := s.results.LoadResult(c.Param("name"))
	switch {
	case err == nil:
		return r, true
	case errors.Is(err, store.ErrResultNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "result not found"})
	case errors.Is(err, store.ErrInvalidName):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid result name"})
	default:
		s.log.Error().Err(err).Str("name", c.Param("name")).Msg("Failed to load result")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
	}
	return nil, false
}

// handleStream sends every published result as a "result" event until the
// client goes away.
func (s *Server) handleStream(c *gin.Context) {
	events := make(chan models.AnswerResult, 16)
	unsubscribe := s.bus.Subscribe(func(r models.AnswerResult) {
		select {
		case events <- r:
		default:
			s.log.Warn().Str("file", r.FileName).Msg("Stream client too slow, event dropped")
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"status": "ok"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case r := <-events:
			c.SSEvent("result", r)
			return true
		}
	})
}
