// Package api exposes the capture pipeline over HTTP.
//
//	GET  /health               liveness probe
//	POST /api/captures         upload a capture image (multipart field "image")
//	GET  /api/results          every stored result, oldest first
//	GET  /api/results/:name    one result by image base name
//	PUT  /api/results/:name    correct question, options or answer by hand
//	GET  /api/stream           server-sent events of new and edited results
//
// When an API key is configured, every /api route requires it in the
// x-api-key header.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
	"quizsnap/pkg/models"
)

const (
	DefaultAddr = ":8080"

	shutdownTimeout = 5 * time.Second
)

// Config holds the HTTP settings.
type Config struct {
	Addr       string
	APIKey     string
	CaptureDir string
}

// Submitter queues an image for processing.
type Submitter interface {
	Submit(imagePath string) bool
}

// ResultStore reads and writes stored results.
type ResultStore interface {
	Results() ([]models.AnswerResult, error)
	LoadResult(name string) (*models.AnswerResult, error)
	SaveResult(r models.AnswerResult) error
}

// Broadcaster delivers results to live subscribers.
type Broadcaster interface {
	Subscribe(fn func(models.AnswerResult)) (unsubscribe func())
	Publish(r models.AnswerResult)
}

// Server is the HTTP front end of the pipeline.
type Server struct {
	cfg       Config
	submitter Submitter
	results   ResultStore
	bus       Broadcaster
	engine    *gin.Engine
	log       zerolog.Logger
}

func NewServer(cfg Config, submitter Submitter, results ResultStore, bus Broadcaster) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		cfg:       cfg,
		submitter: submitter,
		results:   results,
		bus:       bus,
		log:       logger.WithComponent("api"),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api")
	if s.cfg.APIKey != "" {
		v1.Use(apiKey(s.cfg.APIKey))
	}
	{
		v1.POST("/captures", s.handleUpload)
		v1.GET("/results", s.handleListResults)
		v1.GET("/results/:name", s.handleGetResult)
		v1.PUT("/results/:name", s.handleUpdateResult)
		v1.GET("/stream", s.handleStream)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open event
// streams end with ctx.
func (s *Server) Run(ctx context.Context) error {
	const op = "api.Run"

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}
	s.log.Info().Msg("HTTP API stopped")
	return nil
}
