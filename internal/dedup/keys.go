package dedup

import (
	"sort"
	"strings"
	"unicode/utf8"

	"quizsnap/internal/heuristics"
	"quizsnap/pkg/models"
)

// ContentKey identifies a result by its question, sorted options and answer:
// "question|A:x|B:y|answerText", with line breaks and whitespace runs
// collapsed to single spaces.
func ContentKey(r models.AnswerResult) string {
	parts := []string{strings.TrimSpace(r.Question)}

	keys := make([]string, 0, len(r.Options))
	for k := range r.Options {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})
	for _, k := range keys {
		parts = append(parts, strings.TrimSpace(k+":"+r.Options[k]))
	}

	answer := r.AnswerText
	if strings.TrimSpace(answer) == "" {
		answer = r.Answer
	}
	parts = append(parts, strings.TrimSpace(answer))

	return collapseSpaces(strings.Join(parts, "|"))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// similarityTokens normalises OCR text and keeps the distinct tokens longer
// than one character.
func similarityTokens(text string) tokenSet {
	set := make(tokenSet)
	for _, t := range heuristics.Tokens(collapseSpaces(text)) {
		if utf8.RuneCountInString(t) > 1 {
			set[t] = struct{}{}
		}
	}
	return set
}

// Jaccard returns the token Jaccard similarity of two OCR texts.
func Jaccard(a, b string) float64 {
	return jaccard(similarityTokens(a), similarityTokens(b))
}

func jaccard(a, b tokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
