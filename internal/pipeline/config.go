package pipeline

import "time"

const (
	// DefaultCoverageThreshold is the share of OCR tokens an answer must
	// reproduce to be trusted.
	DefaultCoverageThreshold = 0.10

	DefaultOCRAttempts = 3
	DefaultAIAttempts  = 3
)

// Config holds the tunable parameters of the pipeline.
type Config struct {
	AutoAnswer          bool
	CoverageThreshold   float64 // Default: 0.10
	SimilarityThreshold float64 // Default: 0.97, applied by the dedup engine
	OCRAttempts         int     // Default: 3
	AIAttempts          int     // Default: 3

	// StaleMarkerAge is the minimum age of an orphan marker removed by
	// Recover. Zero removes every orphan.
	StaleMarkerAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.CoverageThreshold <= 0 || c.CoverageThreshold > 1 {
		c.CoverageThreshold = DefaultCoverageThreshold
	}
	if c.OCRAttempts <= 0 {
		c.OCRAttempts = DefaultOCRAttempts
	}
	if c.AIAttempts <= 0 {
		c.AIAttempts = DefaultAIAttempts
	}
	return c
}
