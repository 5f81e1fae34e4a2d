package answer

import (
	"regexp"
	"strings"
)

var (
	ocrOptionLineRe = regexp.MustCompile(`^([A-Da-d])[.)]?\s+(.+)$`)
	headLetterRe    = regexp.MustCompile(`(?i)^([A-D])[.)]?\s+`)
)

// RecoverFromOCR rebuilds the question and options from the OCR lines when the
// AI reply lacks either of them. What the OCR yields replaces the parsed
// question and options; the answer letter is only taken from the reply when
// the parse found none. It reports whether anything was recovered.
func RecoverFromOCR(p *Parsed, ocrText, aiReply string) bool {
	if p.Complete() || strings.TrimSpace(ocrText) == "" || strings.TrimSpace(aiReply) == "" {
		return false
	}

	question, options := questionFromOCR(ocrText)
	if question == "" && len(options) == 0 {
		return false
	}

	if question != "" {
		p.Question = question
	}
	if len(options) > 0 {
		p.Options = options
	}
	if p.Answer == "" {
		p.Answer = answerLetter(aiReply)
		p.AnswerText = ""
	}
	if p.AnswerText == "" && p.Answer != "" {
		if text, ok := p.Options[p.Answer]; ok {
			p.AnswerText = p.Answer + ". " + text
		}
	}
	return true
}

func answerLetter(reply string) string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ""
	}
	if m := bareLetterRe.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	if m := headLetterRe.FindStringSubmatch(reply); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// questionFromOCR takes the option lines (with their wrapped continuation
// lines) and, as the question, the first line containing '?' above them or
// else all lines above them joined.
func questionFromOCR(ocrText string) (string, map[string]string) {
	lines := trimmedLines(ocrText)

	first := -1
	for i, l := range lines {
		if ocrOptionLineRe.MatchString(l) {
			first = i
			break
		}
	}
	if first < 0 {
		return "", nil
	}

	var question string
	before := lines[:first]
	for _, l := range before {
		if strings.Contains(l, "?") {
			question = l
			break
		}
	}
	if question == "" && len(before) > 0 {
		question = strings.Join(before, " ")
	}

	options := make(map[string]string)
	for i := first; i < len(lines); i++ {
		m := ocrOptionLineRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		for i+1 < len(lines) && !ocrOptionLineRe.MatchString(lines[i+1]) {
			i++
			value += " " + lines[i]
		}
		options[strings.ToUpper(m[1])] = value
	}
	return question, options
}
