package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quizsnap/internal/heuristics"
	"quizsnap/internal/logger"
	"quizsnap/internal/ocr"
	"quizsnap/internal/preprocess"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image-file]",
	Short: "Extract text from a screenshot with the configured OCR engine",
	Long: `Run a single screenshot through OCR and print the recognised text.

The engine is taken from OCR_PROVIDER unless --provider is given:
  command       external program from OCR_COMMAND (default: tesseract)
  script        PaddleOCR wrapper script (PADDLE_PYTHON, PADDLE_SCRIPT)
  googlevision  Google Cloud Vision (GOOGLE_VISION_API_KEY or service account)
  documentai    Google Document AI (GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID)
  mock          deterministic sample question`,
	Example: `  # Print the text of a capture
  quizsnap ocr Captures/q1.png

  # Crop and enhance first, fix common OCR typos, output JSON
  quizsnap ocr Captures/q1.png --preprocess --fix --json

  # Compare with Google Cloud Vision
  quizsnap ocr Captures/q1.png --provider googlevision -o q1.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text               string    `json:"text"`
	Provider           string    `json:"provider"`
	QuestionNumber     string    `json:"question_number,omitempty"`
	QuestionID         string    `json:"question_id,omitempty"`
	LooksLikeQuestion  bool      `json:"looks_like_question"`
	HasEnoughOptions   bool      `json:"has_enough_options"`
	Preprocessed       bool      `json:"preprocessed"`
	ProcessedAt        time.Time `json:"processed_at"`
	ProcessingDuration string    `json:"processing_duration"`
	FileName           string    `json:"file_name"`
	FileSize           int64     `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().String("provider", "", "OCR engine (default: OCR_PROVIDER)")
	ocrCmd.Flags().Bool("preprocess", false, "Crop black borders and raise contrast before OCR")
	ocrCmd.Flags().Bool("fix", false, "Fix common OCR misreadings")
	ocrCmd.Flags().BoolP("metadata", "m", false, "Include metadata in output")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	provider, _ := cmd.Flags().GetString("provider")
	usePreprocess, _ := cmd.Flags().GetBool("preprocess")
	fix, _ := cmd.Flags().GetBool("fix")
	includeMetadata, _ := cmd.Flags().GetBool("metadata")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	imagePath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ocrCfg := cfg.OCRConfig()
	if provider != "" {
		ocrCfg.Provider = strings.ToLower(provider)
	}

	log.Info().
		Str("file", imagePath).
		Str("provider", ocrCfg.Provider).
		Bool("preprocess", usePreprocess).
		Int("timeout", timeoutSecs).
		Msg("Starting OCR processing")

	fileInfo, err := validateImageFile(imagePath, log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	ocrService, err := createOCRService(ctx, ocrCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ocr.Close(ocrService); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close OCR client")
		}
	}()

	input := imagePath
	preprocessed := false
	if usePreprocess {
		if out, ok := preprocess.New(cfg.PreprocessContrast).Preprocess(imagePath); ok && out != imagePath {
			input = out
			preprocessed = true
			defer os.Remove(out)
		} else if !ok {
			log.Warn().Str("file", imagePath).Msg("Preprocessing failed, using the original image")
		}
	}

	startTime := time.Now()
	text, err := ocrService.ExtractText(ctx, input)
	if err != nil {
		return handleOCRError(err, log)
	}
	if fix {
		text = heuristics.FixCommonOcrErrors(text)
	}
	duration := time.Since(startTime)

	log.Info().
		Dur("duration", duration).
		Int("text_length", len(text)).
		Msg("OCR processing completed successfully")

	meta := heuristics.ExtractMeta(text)
	out := OCROutput{
		Text:               text,
		Provider:           ocrCfg.Provider,
		QuestionNumber:     meta.Number,
		QuestionID:         meta.ID,
		LooksLikeQuestion:  heuristics.LooksLikeQuestion(text),
		HasEnoughOptions:   heuristics.HasEnoughOptions(text),
		Preprocessed:       preprocessed,
		ProcessedAt:        time.Now().UTC(),
		ProcessingDuration: duration.String(),
		FileName:           filepath.Base(fileInfo.Name()),
		FileSize:           fileInfo.Size(),
	}
	return outputResults(out, outputPath, jsonOutput, includeMetadata, log)
}

// validateImageFile checks that the file exists, is a regular file and fits
// the upload limit of the cloud engines.
func validateImageFile(imagePath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", imagePath).Msg("Image file not found")
			return nil, fmt.Errorf("image file not found: %s", imagePath)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", imagePath).Msg("Permission denied accessing image file")
			return nil, fmt.Errorf("permission denied accessing image file: %s", imagePath)
		}
		return nil, fmt.Errorf("error accessing image file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().Str("file", imagePath).Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", imagePath)
	}

	if fileInfo.Size() == 0 {
		log.Error().Str("file", imagePath).Msg("Image file is empty")
		return nil, fmt.Errorf("image file is empty: %s", imagePath)
	}

	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		log.Error().
			Str("file", imagePath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxImageSizeBytes).
			Msg("Image file exceeds maximum size limit")
		return nil, fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (20MB)",
			fileInfo.Size(), ocr.MaxImageSizeBytes)
	}

	return fileInfo, nil
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("processing was canceled")
	case errors.Is(err, ocr.ErrImageNotFound):
		return fmt.Errorf("image not found: %w", err)
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large for the cloud OCR engines (maximum 20MB)")
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Set GOOGLE_VISION_API_KEY, " +
			"GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check your credentials:\n\n"+
			"1. Set GOOGLE_APPLICATION_CREDENTIALS to your service account JSON file path\n"+
			"2. Or set GOOGLE_CREDENTIALS with inline JSON\n"+
			"3. Ensure the service account has the 'Cloud Vision API User' role\n\n"+
			"Original error: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Please ensure your Google Cloud service account has the 'Cloud Vision API User' role")
	case strings.Contains(errStr, "QUOTA_EXCEEDED") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED"):
		return fmt.Errorf("Google Cloud quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. Check that the OCR engine is installed and OCR_COMMAND is correct: %w", err)
	default:
		return fmt.Errorf("processing failed: %w", err)
	}
}

// outputResults formats and outputs the OCR results
func outputResults(out OCROutput, outputPath string, jsonOutput, includeMetadata bool, log zerolog.Logger) error {
	var data []byte

	if jsonOutput {
		var err error
		data, err = json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		data = append(data, '\n')
	} else {
		var b strings.Builder
		if includeMetadata {
			b.WriteString(fmt.Sprintf("=== OCR Results for %s ===\n", out.FileName))
			b.WriteString(fmt.Sprintf("File size: %d bytes\n", out.FileSize))
			b.WriteString(fmt.Sprintf("Engine: %s\n", out.Provider))
			if out.QuestionNumber != "" {
				b.WriteString(fmt.Sprintf("Question number: %s\n", out.QuestionNumber))
			}
			if out.QuestionID != "" {
				b.WriteString(fmt.Sprintf("Question id: %s\n", out.QuestionID))
			}
			b.WriteString(fmt.Sprintf("Looks like a question: %t\n", out.LooksLikeQuestion && out.HasEnoughOptions))
			b.WriteString(fmt.Sprintf("Processing time: %s\n", out.ProcessingDuration))
			b.WriteString("\n=== Extracted Text ===\n\n")
		}
		b.WriteString(out.Text)
		if !strings.HasSuffix(out.Text, "\n") {
			b.WriteString("\n")
		}
		data = []byte(b.String())
	}

	return writeOutput(data, outputPath, log)
}
