// Package ocr extracts text from capture images.
//
// Several engines implement Service and are selected by OCR_PROVIDER:
//   - command: an external program such as tesseract, run through the shell
//   - script: a PaddleOCR wrapper script that prints {"text": "..."}
//   - googlevision: Google Cloud Vision TEXT_DETECTION
//   - documentai: a Google Document AI OCR processor
//   - mock: deterministic pseudo questions derived from the file name
//
// The pipeline falls back to the mock engine when the configured one fails,
// and may run Google Cloud Vision as a secondary engine when the primary
// result does not look like a complete question.
//
// Cloud engine credentials are read from GOOGLE_VISION_API_KEY,
// GOOGLE_CREDENTIALS (inline JSON) or GOOGLE_APPLICATION_CREDENTIALS.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	ProviderCommand      = "command"
	ProviderScript       = "script"
	ProviderGoogleVision = "googlevision"
	ProviderDocumentAI   = "documentai"
	ProviderMock         = "mock"

	// MaxImageSizeBytes is the largest image sent to a cloud engine (20MB).
	MaxImageSizeBytes = 20 * 1024 * 1024
)

// Service defines the interface for OCR text extraction services.
type Service interface {
	// ExtractText returns the text recognised in the image at imagePath.
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

// Config selects and configures the OCR engines.
type Config struct {
	Provider  string
	Secondary string // "googlevision" to force the secondary engine

	CommandTemplate string

	PaddlePython      string
	PaddleScript      string
	PaddleLang        string
	PaddleUseAngleCls bool

	VisionAPIKey string

	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string
}

// NewService builds the engine named by cfg.Provider. Cloud engines hold a
// client that should be released with Close.
func NewService(ctx context.Context, cfg Config) (Service, error) {
	const op = "NewService"

	switch cfg.Provider {
	case ProviderCommand, "":
		return NewCommandService(cfg.CommandTemplate), nil
	case ProviderScript:
		return NewScriptService(cfg.PaddlePython, cfg.PaddleScript, cfg.PaddleLang, cfg.PaddleUseAngleCls), nil
	case ProviderGoogleVision:
		return NewGoogleVisionService(ctx, cfg.VisionAPIKey)
	case ProviderDocumentAI:
		return NewDocumentAIService(ctx, DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
		})
	case ProviderMock:
		return NewMockService(), nil
	default:
		return nil, WrapOCRError(op, ErrUnknownProvider, cfg.Provider)
	}
}

// NewSecondary builds the Google Cloud Vision engine used to double check
// incomplete OCR results. It returns nil, nil when neither a Vision API key
// nor OCR_SECONDARY=googlevision is configured, or when the primary engine
// already is Google Cloud Vision.
func NewSecondary(ctx context.Context, cfg Config) (Service, error) {
	if cfg.Provider == ProviderGoogleVision {
		return nil, nil
	}
	if cfg.VisionAPIKey == "" && cfg.Secondary != ProviderGoogleVision {
		return nil, nil
	}
	return NewGoogleVisionService(ctx, cfg.VisionAPIKey)
}

// Close releases the client held by a cloud engine. Other engines are no-ops.
func Close(s Service) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readImage loads an image for upload to a cloud engine.
func readImage(op, imagePath string) ([]byte, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, WrapOCRError(op, ErrImageNotFound, imagePath)
		}
		return nil, WrapOCRError(op, err, "failed to stat image")
	}
	if info.Size() > MaxImageSizeBytes {
		return nil, WrapOCRError(op, ErrImageTooLarge, fmt.Sprintf("file size: %d bytes", info.Size()))
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to read image")
	}
	return data, nil
}

// checkImage returns ErrImageNotFound for a missing image.
func checkImage(op, imagePath string) error {
	if _, err := os.Stat(imagePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return WrapOCRError(op, ErrImageNotFound, imagePath)
		}
		return WrapOCRError(op, err, "failed to stat image")
	}
	return nil
}
