// Package answer turns free-form AI replies into structured answers.
//
// The AI is asked for a JSON object but frequently wraps it in prose, returns
// plain "Câu hỏi: / Trả lời:" text, or only names the chosen letter. Parse
// handles all three; RecoverFromOCR fills the gaps from the OCR text itself.
package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"quizsnap/pkg/models"
)

// Parsed is the structured content extracted from one AI reply.
type Parsed struct {
	QuestionNumber string
	QuestionID     string
	Question       string
	Options        map[string]string
	Answer         string
	AnswerText     string
}

// Empty reports whether nothing usable was extracted.
func (p Parsed) Empty() bool {
	return strings.TrimSpace(p.Question) == "" &&
		len(p.Options) == 0 &&
		strings.TrimSpace(p.Answer) == "" &&
		strings.TrimSpace(p.AnswerText) == ""
}

// Complete reports whether both a question and options are present.
func (p Parsed) Complete() bool {
	return strings.TrimSpace(p.Question) != "" && len(p.Options) > 0
}

// Apply copies the parsed content into a result. Question metadata is only
// copied when present so that values read from the OCR text are kept.
func (p Parsed) Apply(r *models.AnswerResult) {
	if p.QuestionNumber != "" {
		r.QuestionNumber = p.QuestionNumber
	}
	if p.QuestionID != "" {
		r.QuestionID = p.QuestionID
	}
	r.Question = p.Question
	r.Options = nil
	for k, v := range p.Options {
		r.SetOption(k, v)
	}
	r.Answer = p.Answer
	r.AnswerText = p.AnswerText
}

type wireAnswer struct {
	QuestionNumber json.RawMessage `json:"questionNumber"`
	QuestionID     json.RawMessage `json:"questionId"`
	Question       json.RawMessage `json:"question"`
	Options        json.RawMessage `json:"options"`
	Answer         json.RawMessage `json:"answer"`
	AnswerText     json.RawMessage `json:"answerText"`
}

var (
	plainQuestionRe = regexp.MustCompile(`(?i)^C(â|a)u h(o|ỏ)i[:\-]\s*(.+)$`)
	plainAnswerRe   = regexp.MustCompile(`(?i)^Tr(ả|a) l(ờ|o)i[:\-]\s*([A-D])\.?\s*(.*)$`)
	plainOptionRe   = regexp.MustCompile(`^([A-Da-d])[.)]?\s+(.*)$`)
	leadingLetterRe = regexp.MustCompile(`(?i)^([A-D])\b`)
	bareLetterRe    = regexp.MustCompile(`\b([A-D])\b`)
	optionEntryRe   = regexp.MustCompile(`^([A-Da-d])[.):]\s*(.*)$`)
)

// Parse extracts a structured answer from an AI reply. The first balanced JSON
// object is decoded; when there is none, it does not decode, or it carries no
// usable field, plain-text patterns are used instead.
func Parse(raw string) Parsed {
	if obj, ok := FindJSONObject(raw); ok {
		if p, err := decodeObject(obj); err == nil && !p.Empty() {
			return normalize(p)
		}
	}
	return normalize(parsePlainText(raw))
}

// FindJSONObject returns the first balanced {...} object in s. Braces inside
// string literals are ignored.
func FindJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeObject(obj string) (Parsed, error) {
	var w wireAnswer
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return Parsed{}, err
	}

	p := Parsed{
		QuestionNumber: rawString(w.QuestionNumber),
		QuestionID:     rawString(w.QuestionID),
		Question:       rawString(w.Question),
		Answer:         rawString(w.Answer),
		AnswerText:     rawString(w.AnswerText),
	}
	p.Options = rawOptions(w.Options)
	return p, nil
}

// rawString accepts strings, numbers and null.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// rawOptions accepts {"A": "..."} objects and ["A. ...", ...] arrays.
func rawOptions(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if len(obj) == 0 {
			return nil
		}
		out := make(map[string]string, len(obj))
		for k, v := range obj {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				out[k] = rawString(v)
			}
		}
		return out
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make(map[string]string, len(list))
		for _, item := range list {
			if m := optionEntryRe.FindStringSubmatch(strings.TrimSpace(item)); m != nil {
				out[strings.ToUpper(m[1])] = strings.TrimSpace(m[2])
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func parsePlainText(text string) Parsed {
	var p Parsed
	lines := trimmedLines(text)
	if len(lines) == 0 {
		return p
	}

	for _, line := range lines {
		if m := plainQuestionRe.FindStringSubmatch(line); m != nil {
			p.Question = strings.TrimSpace(m[3])
			continue
		}
		if m := plainAnswerRe.FindStringSubmatch(line); m != nil {
			p.Answer = strings.ToUpper(strings.TrimSpace(m[3]))
			p.AnswerText = strings.Trim(strings.TrimSpace(p.Answer+". "+strings.TrimSpace(m[4])), ".")
		}
	}

	if p.Question == "" {
		p.Question = lines[0]
		for _, l := range lines {
			if strings.Contains(l, "?") {
				p.Question = l
				break
			}
		}
	}

	for _, line := range lines {
		if m := plainOptionRe.FindStringSubmatch(line); m != nil {
			if p.Options == nil {
				p.Options = make(map[string]string)
			}
			p.Options[strings.ToUpper(m[1])] = strings.TrimSpace(m[2])
		}
	}

	if p.Answer == "" && p.AnswerText != "" {
		if m := leadingLetterRe.FindStringSubmatch(p.AnswerText); m != nil {
			p.Answer = strings.ToUpper(m[1])
		}
	}
	if p.Answer == "" {
		if m := bareLetterRe.FindStringSubmatch(text); m != nil {
			p.Answer = m[1]
		}
	}
	return p
}

// normalize reduces the answer to its letter and derives whichever of
// answer / answerText is missing.
func normalize(p Parsed) Parsed {
	if m := leadingLetterRe.FindStringSubmatch(strings.TrimSpace(p.Answer)); m != nil {
		p.Answer = strings.ToUpper(m[1])
	}
	if p.Answer == "" && p.AnswerText != "" {
		if m := leadingLetterRe.FindStringSubmatch(strings.TrimSpace(p.AnswerText)); m != nil {
			p.Answer = strings.ToUpper(m[1])
		}
	}
	if p.AnswerText == "" && p.Answer != "" {
		if text, ok := p.Options[p.Answer]; ok && text != "" {
			p.AnswerText = p.Answer + ". " + text
		}
	}
	return p
}

func trimmedLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' })
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
