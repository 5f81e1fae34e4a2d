package ocr

import (
	"errors"
	"fmt"
)

// Common OCR processing errors
var (
	// ErrOCRFailed is returned when the OCR engine fails to start, exits with a
	// non-zero status, or a remote OCR call does not succeed.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrImageNotFound is returned when the image to recognise does not exist.
	ErrImageNotFound = errors.New("image not found")

	// ErrImageTooLarge is returned when an image exceeds the upload limit of the cloud engines.
	ErrImageTooLarge = errors.New("image exceeds the maximum size (20MB)")

	// ErrMissingCredentials is returned when a cloud variant has neither an API key
	// nor GOOGLE_APPLICATION_CREDENTIALS / GOOGLE_CREDENTIALS.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_VISION_API_KEY, GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")

	// ErrUnknownProvider is returned for an OCR_PROVIDER value no variant handles.
	ErrUnknownProvider = errors.New("unknown OCR provider")
)

// OCRError wraps errors with additional context about the OCR processing failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "ExtractText", "NewGoogleVisionService").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure, such as engine stderr.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err // Already wrapped
	}

	return NewOCRError(op, err, details)
}
