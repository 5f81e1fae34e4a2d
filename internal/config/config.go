package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"quizsnap/internal/ai"
	"quizsnap/internal/api"
	"quizsnap/internal/logger"
	"quizsnap/internal/ocr"
	"quizsnap/internal/pipeline"
	"quizsnap/internal/sheets"
)

type Config struct {
	// Folders
	OutputDir       string
	CaptureDir      string
	VideoCaptureDir string

	// Pipeline
	AutoAnswer          bool
	PromptPrefix        string
	CoverageThreshold   float64
	SimilarityThreshold float64
	OCRAttempts         int
	AIAttempts          int
	StaleMarkerAge      time.Duration
	WatchInterval       time.Duration
	PreprocessContrast  float64

	// Gemini Configuration
	GeminiAPIKeys    []string
	GeminiModels     []string
	RateLimitWait    time.Duration
	KeyCooldownCalls int
	FallbackThresh   int

	// Fallback providers
	FallbackProvider string
	OllamaEndpoint   string
	OllamaModel      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string

	// OCR Configuration
	OCRProvider        string
	OCRCommand         string
	OCRSecondary       string
	PaddlePython       string
	PaddleScript       string
	PaddleLang         string
	PaddleUseAngleCls  bool
	GoogleVisionAPIKey string

	// Google Cloud Configuration
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Google Sheets Configuration
	GoogleSheetURL          string
	GoogleSheetWorksheet    string
	GoogleServiceAccountKey string

	// HTTP API
	HTTPAddr   string
	HTTPAPIKey string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OutputDir:               getEnv("OUTPUT_DIR", "Outputs"),
		CaptureDir:              getEnv("CAPTURE_DIR", "Captures"),
		VideoCaptureDir:         getEnv("VIDEO_CAPTURE_DIR", "VideoCaptures"),
		AutoAnswer:              getEnvBool("AUTO_ANSWER", true),
		PromptPrefix:            getEnv("PROMPT_PREFIX", ai.DefaultPromptPrefix),
		CoverageThreshold:       getEnvFloat("COVERAGE_THRESHOLD", pipeline.DefaultCoverageThreshold),
		SimilarityThreshold:     getEnvFloat("SIMILARITY_THRESHOLD", 0.97),
		OCRAttempts:             getEnvInt("OCR_ATTEMPTS", 3),
		AIAttempts:              getEnvInt("AI_ATTEMPTS", 3),
		StaleMarkerAge:          getEnvDuration("STALE_MARKER_AGE", 0),
		WatchInterval:           getEnvDuration("WATCH_INTERVAL", 5*time.Second),
		PreprocessContrast:      getEnvFloat("PREPROCESS_CONTRAST", 1.2),
		GeminiAPIKeys:           geminiKeys(getEnv("GEMINI_API_KEYS", ""), getEnv("GEMINI_API_KEY", "")),
		GeminiModels:            ai.ParseModels(getEnv("GEMINI_MODELS", "")),
		RateLimitWait:           getEnvDuration("RATE_LIMIT_WAIT", 2*time.Second),
		KeyCooldownCalls:        getEnvInt("KEY_COOLDOWN_CALLS", ai.DefaultKeyCooldownCalls),
		FallbackThresh:          getEnvInt("FALLBACK_THRESHOLD", ai.DefaultFallbackThreshold),
		FallbackProvider:        strings.ToLower(getEnv("FALLBACK_PROVIDER", "ollama")),
		OllamaEndpoint:          getEnv("OLLAMA_ENDPOINT", ai.DefaultOllamaEndpoint),
		OllamaModel:             getEnv("OLLAMA_MODEL", ai.DefaultOllamaModel),
		OpenAIAPIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:             getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OCRProvider:             strings.ToLower(getEnv("OCR_PROVIDER", ocr.ProviderCommand)),
		OCRCommand:              getEnv("OCR_COMMAND", ocr.DefaultCommandTemplate),
		OCRSecondary:            strings.ToLower(getEnv("OCR_SECONDARY", "")),
		PaddlePython:            getEnv("PADDLE_PYTHON", "python"),
		PaddleScript:            getEnv("PADDLE_SCRIPT", "paddle_ocr_cli.py"),
		PaddleLang:              getEnv("PADDLE_LANG", "en"),
		PaddleUseAngleCls:       getEnvBool("PADDLE_USE_ANGLE_CLS", true),
		GoogleVisionAPIKey:      getEnv("GOOGLE_VISION_API_KEY", ""),
		GoogleCloudProject:      getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:     getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:   getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		GoogleSheetURL:          getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:    getEnv("GOOGLE_SHEET_WORKSHEET", "Answers"),
		GoogleServiceAccountKey: getEnv("GOOGLE_SERVICE_ACCOUNT_KEY", ""),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		HTTPAPIKey:              getEnv("HTTP_API_KEY", ""),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:           getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:               getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.OCRProvider {
	case ocr.ProviderCommand, ocr.ProviderScript, ocr.ProviderGoogleVision, ocr.ProviderDocumentAI, ocr.ProviderMock:
	default:
		return fmt.Errorf("OCR_PROVIDER %q is not supported", c.OCRProvider)
	}
	if c.OCRProvider == ocr.ProviderDocumentAI {
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the documentai provider")
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for the documentai provider")
		}
	}
	switch c.FallbackProvider {
	case "ollama":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai fallback")
		}
	default:
		return fmt.Errorf("FALLBACK_PROVIDER %q is not supported", c.FallbackProvider)
	}
	if c.CoverageThreshold < 0 || c.CoverageThreshold > 1 {
		return fmt.Errorf("COVERAGE_THRESHOLD must be between 0 and 1")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if c.OCRAttempts < 1 || c.AIAttempts < 1 {
		return fmt.Errorf("OCR_ATTEMPTS and AI_ATTEMPTS must be at least 1")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// OCRConfig returns the settings of the OCR variants.
func (c *Config) OCRConfig() ocr.Config {
	return ocr.Config{
		Provider:              c.OCRProvider,
		Secondary:             c.OCRSecondary,
		CommandTemplate:       c.OCRCommand,
		PaddlePython:          c.PaddlePython,
		PaddleScript:          c.PaddleScript,
		PaddleLang:            c.PaddleLang,
		PaddleUseAngleCls:     c.PaddleUseAngleCls,
		VisionAPIKey:          c.GoogleVisionAPIKey,
		GoogleCloudProject:    c.GoogleCloudProject,
		GoogleCloudLocation:   c.GoogleCloudLocation,
		DocumentAIProcessorID: c.DocumentAIProcessorID,
	}
}

// AIConfig returns the settings of the AI client and its fallback.
func (c *Config) AIConfig() ai.Config {
	return ai.Config{
		APIKeys:           c.GeminiAPIKeys,
		Models:            c.GeminiModels,
		PromptPrefix:      c.PromptPrefix,
		RateLimitWait:     c.RateLimitWait,
		KeyCooldownCalls:  c.KeyCooldownCalls,
		FallbackThreshold: c.FallbackThresh,
		FallbackProvider:  c.FallbackProvider,
		OllamaEndpoint:    c.OllamaEndpoint,
		OllamaModel:       c.OllamaModel,
		OpenAIAPIKey:      c.OpenAIAPIKey,
		OpenAIBaseURL:     c.OpenAIBaseURL,
		OpenAIModel:       c.OpenAIModel,
	}
}

// PipelineConfig returns the settings of the capture pipeline.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		AutoAnswer:          c.AutoAnswer,
		CoverageThreshold:   c.CoverageThreshold,
		SimilarityThreshold: c.SimilarityThreshold,
		OCRAttempts:         c.OCRAttempts,
		AIAttempts:          c.AIAttempts,
		StaleMarkerAge:      c.StaleMarkerAge,
	}
}

// SheetsConfig returns the settings of the Google Sheets exporter.
func (c *Config) SheetsConfig() sheets.Config {
	return sheets.Config{
		SheetURL:          c.GoogleSheetURL,
		Worksheet:         c.GoogleSheetWorksheet,
		ServiceAccountKey: c.GoogleServiceAccountKey,
	}
}

// APIConfig returns the settings of the HTTP API.
func (c *Config) APIConfig() api.Config {
	return api.Config{
		Addr:       c.HTTPAddr,
		APIKey:     c.HTTPAPIKey,
		CaptureDir: c.CaptureDir,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s") or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

// geminiKeys merges the comma separated key list with the single key,
// dropping blanks and duplicates while keeping order.
func geminiKeys(list, single string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, k := range append(strings.Split(list, ","), single) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
