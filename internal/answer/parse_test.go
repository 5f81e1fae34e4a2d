package answer

import (
	"strings"
	"testing"
)

func TestFindJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain object", `{"a":1}`, `{"a":1}`, true},
		{"prose around", "Here you go:\n{\"a\":{\"b\":2}}\nThanks", `{"a":{"b":2}}`, true},
		{"brace inside string", `x {"q":"use } and {","a":"B"} y`, `{"q":"use } and {","a":"B"}`, true},
		{"escaped quote", `{"q":"say \"}\" now"}`, `{"q":"say \"}\" now"}`, true},
		{"unbalanced", `{"a":{"b":1}`, "", false},
		{"no object", "B. 4", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindJSONObject(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("FindJSONObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	raw := "```json\n" + `{"questionNumber":"3/50","questionId":null,"question":"What is 2+2?",` +
		`"options":{"a":"3","B":"4","C":"5","D":"6"},"answer":"B","answerText":"B. 4"}` + "\n```"

	p := Parse(raw)
	if p.Question != "What is 2+2?" {
		t.Fatalf("question = %q", p.Question)
	}
	if p.Answer != "B" || p.AnswerText != "B. 4" {
		t.Fatalf("answer = %q / %q", p.Answer, p.AnswerText)
	}
	if p.QuestionNumber != "3/50" || p.QuestionID != "" {
		t.Fatalf("meta = %q / %q", p.QuestionNumber, p.QuestionID)
	}
	if p.Options["A"] != "3" || len(p.Options) != 4 {
		t.Fatalf("options = %v", p.Options)
	}
}

func TestParseDerivesMissingAnswerFields(t *testing.T) {
	p := Parse(`{"question":"Pick","options":["A. one","B) two"],"answer":"b. two"}`)
	if p.Answer != "B" {
		t.Fatalf("answer = %q, want B", p.Answer)
	}
	if p.AnswerText != "B. two" {
		t.Fatalf("answerText = %q", p.AnswerText)
	}

	p = Parse(`{"question":"Pick","answerText":"C. three"}`)
	if p.Answer != "C" {
		t.Fatalf("answer from answerText = %q", p.Answer)
	}
}

func TestParsePlainTextFallback(t *testing.T) {
	raw := strings.Join([]string{
		"Câu hỏi: The PageModel in Razor Pages is best described as:",
		"A. A class that handles requests",
		"B. A database entity",
		"Trả lời: A. A class that handles requests",
	}, "\n")

	p := Parse(raw)
	if p.Question != "The PageModel in Razor Pages is best described as:" {
		t.Fatalf("question = %q", p.Question)
	}
	if p.Answer != "A" || p.AnswerText != "A. A class that handles requests" {
		t.Fatalf("answer = %q / %q", p.Answer, p.AnswerText)
	}
	if len(p.Options) != 2 || p.Options["B"] != "A database entity" {
		t.Fatalf("options = %v", p.Options)
	}
}

func TestParseInvalidJSONFallsBack(t *testing.T) {
	p := Parse("{not json} Is it true?\nThe answer is C")
	if p.Question != "{not json} Is it true?" {
		t.Fatalf("question = %q", p.Question)
	}
	if p.Answer != "C" {
		t.Fatalf("answer = %q", p.Answer)
	}
}

func TestParseEmptyJSONFallsBack(t *testing.T) {
	p := Parse(`{"foo":"bar"}` + "\nTrả lời: D")
	if p.Answer != "D" {
		t.Fatalf("answer = %q, want D", p.Answer)
	}
}

func TestRecoverFromOCR(t *testing.T) {
	ocr := strings.Join([]string{
		"Multiple choices 7/50",
		"Which keyword declares a constant?",
		"A. var",
		"B. const",
		"C. let it",
		"be mutable",
		"D. static",
	}, "\n")

	reply := "Đáp án đúng là B"
	p := Parse(reply)
	if !RecoverFromOCR(&p, ocr, reply) {
		t.Fatal("expected recovery")
	}
	if p.Question != "Which keyword declares a constant?" {
		t.Fatalf("question = %q", p.Question)
	}
	if p.Options["C"] != "let it be mutable" {
		t.Fatalf("continuation line not absorbed: %v", p.Options)
	}
	if p.Answer != "B" || p.AnswerText != "B. const" {
		t.Fatalf("answer = %q / %q", p.Answer, p.AnswerText)
	}
}

func TestRecoverFromOCRKeepsParsedAnswer(t *testing.T) {
	p := Parsed{Question: "Edited", Answer: "B"}
	if !RecoverFromOCR(&p, "Intro line\nA. yes\nB. no", "A") {
		t.Fatal("expected recovery")
	}
	if p.Question != "Intro line" {
		t.Fatalf("question = %q", p.Question)
	}
	if p.Answer != "B" || p.AnswerText != "B. no" {
		t.Fatalf("answer = %q / %q", p.Answer, p.AnswerText)
	}
}

func TestRecoverFromOCRWithoutOptions(t *testing.T) {
	p := Parsed{Answer: "A"}
	if RecoverFromOCR(&p, "just some words", "A") {
		t.Fatal("nothing to recover without option lines")
	}
}

func TestBuildRequest(t *testing.T) {
	block := "Q?\nA. x\nB. y"
	full := "Timer 10:00\n" + block

	first := BuildRequest(block, full, 1)
	if !strings.HasPrefix(first, block) || !strings.Contains(first, rawOCRHeader+full) {
		t.Fatalf("first attempt = %q", first)
	}
	if strings.Contains(first, strictReminder) {
		t.Fatal("first attempt must not carry the reminder")
	}

	second := BuildRequest(block, block, 2)
	if strings.Contains(second, rawOCRHeader) {
		t.Fatal("raw OCR appended although identical to the block")
	}
	if !strings.HasSuffix(second, strictReminder) {
		t.Fatalf("second attempt = %q", second)
	}

	if got := BuildRequest("", full, 1); got != full {
		t.Fatalf("empty block should fall back to OCR, got %q", got)
	}
}
