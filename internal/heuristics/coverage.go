package heuristics

import (
	"strings"
	"unicode"
)

// isWordRune matches the characters of a regexp \w class, Unicode aware so
// that Vietnamese text tokenizes as words.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || r == '_'
}

// Tokens lower-cases text and splits it on runs of non-word characters.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !isWordRune(r) })
}

// CoverageRatio is the number of question and option tokens that also occur in
// the OCR text, divided by the number of OCR tokens. It is 0 when either side
// has no tokens.
func CoverageRatio(ocrText, question string, options map[string]string) float64 {
	ocrTokens := Tokens(ocrText)
	if len(ocrTokens) == 0 {
		return 0
	}

	parts := make([]string, 0, len(options)+1)
	if strings.TrimSpace(question) != "" {
		parts = append(parts, question)
	}
	for _, v := range options {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}
	extracted := Tokens(strings.Join(parts, " "))
	if len(extracted) == 0 {
		return 0
	}

	ocrSet := make(map[string]struct{}, len(ocrTokens))
	for _, t := range ocrTokens {
		ocrSet[t] = struct{}{}
	}
	overlap := 0
	for _, t := range extracted {
		if _, ok := ocrSet[t]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(ocrTokens))
}
