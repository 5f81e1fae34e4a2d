package heuristics

import (
	"regexp"
	"strings"
	"unicode"
)

// linesBeforeFirstOption is how much of the text above the first option is
// kept as the question stem.
const linesBeforeFirstOption = 3

var (
	numericLineRe = regexp.MustCompile(`^[0-9\s]+$`)
	numberListRe  = regexp.MustCompile(`^(\d+\s+){3,}\d+$`)

	// UI chrome of the exam client, matched on the lower-cased line.
	noiseContains = []string{
		"tôi muốn hoàn thành bài kiểm tra",
		"thời lượng:",
		"thời gian còn lại",
		"tổng điểm:",
		"phông chữ:",
		"kích thước:",
		"kế tiếp",
		"nhiều lựa chọn",
	}
	noisePrefixes = []string{
		"tôi muốn hoàn thành",
		"hoàn thành",
		"máy:",
		"student:",
		"máy chủ:",
		"font:",
		"size:",
	}
)

func isNoiseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}

	lower := strings.ToLower(trimmed)
	if lower == "trả lời" {
		return true
	}
	for _, s := range noiseContains {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}

	return numericLineRe.MatchString(trimmed) || numberListRe.MatchString(lower)
}

// ExtractQuestionBlock returns the lines from a few lines above the first
// option through the last option, after dropping exam UI chrome. Without
// option lines the filtered text is returned; if filtering removes every line
// the original text is returned unchanged.
func ExtractQuestionBlock(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' })
	filtered := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRightFunc(l, unicode.IsSpace)
		if !isNoiseLine(l) {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 0 {
		return text
	}

	first, last := -1, -1
	for i, l := range filtered {
		if IsOptionLine(l) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return strings.Join(filtered, "\n")
	}

	start := first - linesBeforeFirstOption
	if start < 0 {
		start = 0
	}
	return strings.Join(filtered[start:last+1], "\n")
}
