package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"quizsnap/internal/ai"
	"quizsnap/internal/config"
	"quizsnap/internal/dedup"
	"quizsnap/internal/logger"
	"quizsnap/internal/ocr"
	"quizsnap/internal/pipeline"
	"quizsnap/internal/preprocess"
	"quizsnap/internal/store"
)

// app is the wired pipeline shared by the long running and one-shot commands.
type app struct {
	cfg       *config.Config
	store     *store.Store
	ocr       ocr.Service
	secondary ocr.Service
	ai        *ai.Client
	plog      *logger.ProcessingLog
	pipeline  *pipeline.Pipeline
	log       zerolog.Logger
}

// loadConfig reads the configuration again so that validation errors reach
// the user instead of only the startup warning.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp builds every pipeline dependency from cfg. observer may be nil.
func newApp(ctx context.Context, cfg *config.Config, observer func(string, pipeline.Outcome)) (*app, error) {
	log := logger.WithComponent("app")
	a := &app{cfg: cfg, log: log}

	st, err := store.New(cfg.OutputDir, cfg.VideoCaptureDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output folders: %w", err)
	}
	a.store = st

	a.ocr, err = createOCRService(ctx, cfg.OCRConfig(), log)
	if err != nil {
		return nil, err
	}

	a.secondary, err = ocr.NewSecondary(ctx, cfg.OCRConfig())
	if err != nil {
		log.Warn().Err(err).Msg("Secondary OCR engine unavailable, continuing without it")
		a.secondary = nil
	}

	a.ai, err = ai.New(cfg.AIConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}
	if len(cfg.GeminiAPIKeys) == 0 {
		log.Warn().
			Str("fallback", cfg.FallbackProvider).
			Msg("No Gemini API key configured, every question goes to the fallback provider")
	}

	a.plog, err = logger.NewProcessingLog(cfg.OutputDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Store:         st,
		Dedup:         dedup.New(dedup.Config{SimilarityThreshold: cfg.SimilarityThreshold}, st),
		OCR:           a.ocr,
		Secondary:     a.secondary,
		Preprocessor:  preprocess.New(cfg.PreprocessContrast),
		AI:            a.ai,
		ProcessingLog: a.plog,
		Observer:      observer,
	}
	a.pipeline, err = pipeline.New(cfg.PipelineConfig(), deps)
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Debug().
		Str("ocr_provider", cfg.OCRProvider).
		Bool("secondary_ocr", a.secondary != nil).
		Int("gemini_keys", len(cfg.GeminiAPIKeys)).
		Str("output_dir", cfg.OutputDir).
		Msg("Pipeline ready")
	return a, nil
}

// Close releases the cloud clients and the processing log.
func (a *app) Close() {
	for _, svc := range []ocr.Service{a.ocr, a.secondary} {
		if svc == nil {
			continue
		}
		if err := ocr.Close(svc); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close OCR client")
		}
	}
	if a.ai != nil {
		if err := a.ai.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close AI client")
		}
	}
	if a.plog != nil {
		if err := a.plog.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close processing log")
		}
	}
}

// createContextWithTimeout creates a context cancelled by SIGINT/SIGTERM and,
// when timeout is positive, by the deadline.
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// createOCRService creates the configured OCR engine with user friendly
// errors for missing cloud credentials.
func createOCRService(ctx context.Context, cfg ocr.Config, log zerolog.Logger) (ocr.Service, error) {
	svc, err := ocr.NewService(ctx, cfg)
	if err != nil {
		switch {
		case errors.Is(err, ocr.ErrMissingCredentials):
			log.Error().Err(err).Msg("Google Cloud credentials validation failed")
			return nil, fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
				"1. GOOGLE_VISION_API_KEY with a Cloud Vision API key\n" +
				"2. GOOGLE_APPLICATION_CREDENTIALS with the path to a service account JSON file\n" +
				"3. GOOGLE_CREDENTIALS with the inline service account JSON\n\n" +
				"Or choose a local engine with OCR_PROVIDER=command or OCR_PROVIDER=script")
		case errors.Is(err, ocr.ErrUnknownProvider):
			return nil, fmt.Errorf("unknown OCR provider %q. Use command, script, googlevision, documentai or mock", cfg.Provider)
		}
		log.Error().Err(err).Str("provider", cfg.Provider).Msg("Failed to create OCR service")
		return nil, fmt.Errorf("failed to create OCR service: %w", err)
	}

	log.Debug().Str("provider", cfg.Provider).Msg("OCR service created successfully")
	return svc, nil
}
