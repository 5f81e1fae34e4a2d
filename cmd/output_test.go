package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"quizsnap/pkg/models"
)

func TestFormatResult(t *testing.T) {
	r := models.AnswerResult{
		FileName:       "q1.png",
		QuestionNumber: "1/50",
		QuestionID:     "[1001]",
		Question:       "What is 2+2?",
		Answer:         "B",
		AnswerText:     "B. 4",
	}
	r.SetOption("b", "4")
	r.SetOption("a", "3")

	got := formatResult(r)
	want := "=== q1.png ===\n1/50 [1001]\nWhat is 2+2?\n  A. 3\n  B. 4\nAnswer: B. 4\n"
	if got != want {
		t.Fatalf("formatResult =\n%s\nwant\n%s", got, want)
	}

	blank := formatResult(models.AnswerResult{FileName: "x.png"})
	if !strings.Contains(blank, "No question recognised") {
		t.Fatalf("blank result = %q", blank)
	}
}

func TestMarshalResultsJSON(t *testing.T) {
	data, err := marshalResults([]models.AnswerResult{{FileName: "q1.png", Answer: "C"}}, true)
	if err != nil {
		t.Fatal(err)
	}
	var back []models.AnswerResult
	if err := json.Unmarshal(data, &back); err != nil || len(back) != 1 || back[0].Answer != "C" {
		t.Fatalf("json output %s (%v)", data, err)
	}
}
