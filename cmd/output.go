package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"quizsnap/pkg/models"
)

// formatResult renders a result the way it is shown on the console.
func formatResult(r models.AnswerResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("=== %s ===\n", r.FileName))
	if r.QuestionNumber != "" || r.QuestionID != "" {
		b.WriteString(strings.TrimSpace(r.QuestionNumber+" "+r.QuestionID) + "\n")
	}
	if r.Question == "" {
		b.WriteString("No question recognised\n")
		return b.String()
	}
	b.WriteString(r.Question + "\n")

	letters := make([]string, 0, len(r.Options))
	for k := range r.Options {
		letters = append(letters, k)
	}
	sort.Strings(letters)
	for _, k := range letters {
		b.WriteString(fmt.Sprintf("  %s. %s\n", k, r.Options[k]))
	}

	switch {
	case r.AnswerText != "":
		b.WriteString("Answer: " + r.AnswerText + "\n")
	case r.Answer != "":
		b.WriteString("Answer: " + r.Answer + "\n")
	default:
		b.WriteString("Answer: -\n")
	}
	return b.String()
}

// marshalResults renders results as indented JSON or console text.
func marshalResults(results []models.AnswerResult, jsonOutput bool) ([]byte, error) {
	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to create JSON output: %w", err)
		}
		return append(data, '\n'), nil
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(formatResult(r))
	}
	return []byte(b.String()), nil
}

// writeOutput writes data to outputPath, or stdout when it is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			log.Error().Err(err).Msg("Failed to write to stdout")
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Output written to file")
	return nil
}
