// Package heuristics classifies and trims OCR text taken from exam screenshots.
//
// Everything here is pure string processing: deciding whether a capture looks
// like a multiple-choice question, pulling the question number and id shown by
// the exam UI, cutting the question block out of the surrounding UI chrome,
// scoring how well an AI answer overlaps its OCR source, and patching a fixed
// set of known OCR misreads.
package heuristics

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"quizsnap/pkg/models"
)

// MinQuestionLength is the text length from which a capture with either a
// question mark or option lines is considered a question.
const MinQuestionLength = 20

var (
	answerOptionPattern = regexp.MustCompile(`^[A-Da-d][.):]\s*\S+`)
	questionNumberRe    = regexp.MustCompile(`\b(\d{1,3}\s*[:：/]\s*\d{1,3})\b`)
	questionIDRe        = regexp.MustCompile(`\[\s*(\d{3,})\s*\]`)
)

// splitLines splits on CR and LF, trims each line and drops the empty ones.
func splitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' })
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// IsOptionLine reports whether a line starts with a letter immediately
// followed by '.', ')' or ':'.
func IsOptionLine(line string) bool {
	line = strings.TrimSpace(line)
	first, size := utf8.DecodeRuneInString(line)
	if first == utf8.RuneError || !unicode.IsLetter(first) {
		return false
	}
	if len(line) <= size {
		return false
	}
	switch line[size] {
	case '.', ')', ':':
		return true
	}
	return false
}

// LooksLikeQuestion reports whether OCR text resembles a multiple-choice
// question: any two of a question mark, two option lines and a minimum length.
func LooksLikeQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	hasQuestionMark := strings.Contains(text, "?")

	optionCount := 0
	for _, line := range splitLines(text) {
		if IsOptionLine(line) {
			optionCount++
		}
	}
	hasOptions := optionCount >= 2
	hasMinLength := utf8.RuneCountInString(text) >= MinQuestionLength

	return (hasQuestionMark && hasOptions) || (hasOptions && hasMinLength) || (hasQuestionMark && hasMinLength)
}

// HasEnoughOptions is the hard gate in front of the AI: at least two lines in
// the form "A. text", "b) text" or "C: text".
func HasEnoughOptions(text string) bool {
	count := 0
	for _, line := range splitLines(text) {
		if answerOptionPattern.MatchString(line) {
			count++
			if count >= 2 {
				return true
			}
		}
	}
	return false
}

// ExtractMeta pulls the question number ("12/50") and id ("[163119]") shown
// by the exam UI. Missing values are left empty.
func ExtractMeta(text string) models.QuestionMeta {
	var meta models.QuestionMeta
	if strings.TrimSpace(text) == "" {
		return meta
	}
	if m := questionNumberRe.FindStringSubmatch(text); m != nil {
		meta.Number = strings.Join(strings.Fields(m[1]), "")
	}
	if m := questionIDRe.FindStringSubmatch(text); m != nil {
		meta.ID = "[" + m[1] + "]"
	}
	return meta
}
