package models

import (
	"strings"
	"time"
)

type AnswerResult struct {
	// Source image
	FileName  string `json:"fileName"`  // Base name of the capture image
	ImagePath string `json:"imagePath"` // Absolute path of the capture image

	// Question metadata read from the exam UI (may be empty)
	QuestionNumber string `json:"questionNumber"` // e.g. "12/50"
	QuestionID     string `json:"questionId"`     // e.g. "[163119]"

	// Answer content
	Question   string            `json:"question"`
	Options    map[string]string `json:"options,omitempty"` // Letter -> option text, one entry per letter
	Answer     string            `json:"answer"`            // Single letter A-D
	AnswerText string            `json:"answerText"`        // e.g. "B. 4"

	// Audit data
	RawAnswer string    `json:"rawAnswer"` // Verbatim AI response
	OcrText   string    `json:"ocrText"`   // Verbatim OCR output
	CreatedAt time.Time `json:"createdAt"` // UTC
}

// SetOption stores an option under its upper-cased letter so that "a" and "A"
// share a single entry.
func (r *AnswerResult) SetOption(key, value string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return
	}
	if r.Options == nil {
		r.Options = make(map[string]string)
	}
	r.Options[key] = value
}

// Option looks up an option letter case-insensitively.
func (r *AnswerResult) Option(key string) (string, bool) {
	if r.Options == nil {
		return "", false
	}
	v, ok := r.Options[strings.ToUpper(strings.TrimSpace(key))]
	return v, ok
}

// NormalizeOptions re-keys options loaded from disk or edited by hand.
func (r *AnswerResult) NormalizeOptions() {
	if len(r.Options) == 0 {
		r.Options = nil
		return
	}
	opts := r.Options
	r.Options = nil
	for k, v := range opts {
		r.SetOption(k, v)
	}
}

// HasAnswer reports whether the result carries a usable question and answer.
func (r *AnswerResult) HasAnswer() bool {
	return strings.TrimSpace(r.Question) != "" &&
		len(r.Options) > 0 &&
		strings.TrimSpace(r.Answer) != ""
}

// Strip drops the AI derived content, keeping metadata and the raw texts.
func (r *AnswerResult) Strip() {
	r.Question = ""
	r.Options = nil
	r.Answer = ""
	r.AnswerText = ""
}

// OcrRecord is the hand-off between the OCR stage and the answer stage.
type OcrRecord struct {
	FileName      string    `json:"fileName"`
	ImagePath     string    `json:"imagePath"`
	OcrText       string    `json:"ocrText"`
	LowConfidence bool      `json:"lowConfidence"` // No reliable question structure after all OCR attempts
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// QuestionMeta identifies a question inside the exam UI. Both fields are optional.
type QuestionMeta struct {
	Number string // "12/50"
	ID     string // "[163119]"
}

func (m QuestionMeta) Empty() bool {
	return m.Number == "" && m.ID == ""
}
