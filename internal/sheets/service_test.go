package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"quizsnap/pkg/models"
)

type fakeSheetsAPI struct {
	mu           sync.Mutex
	gets         int
	batchUpdates int
	headers      [][]interface{}
	rows         [][]interface{}
	inputOption  string
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&vr)
		f.rows = append(f.rows, vr.Values...)
		f.inputOption = r.URL.Query().Get("valueInputOption")
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		f.batchUpdates++
		w.Write([]byte(`{"replies":[{"addSheet":{"properties":{"sheetId":7,"title":"Answers"}}}]}`))
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&vr)
		f.headers = vr.Values
		w.Write([]byte(`{}`))
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		w.Write([]byte(`{"range":"Answers!A1:K1"}`))
	case r.Method == http.MethodGet:
		f.gets++
		w.Write([]byte(`{"spreadsheetId":"abc123","sheets":[{"properties":{"sheetId":0,"title":"Sheet1"}}]}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestService(t *testing.T, api http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	s, err := newService(context.Background(),
		Config{SheetURL: "https://docs.google.com/spreadsheets/d/abc123/edit#gid=0"},
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAppendResults(t *testing.T) {
	api := &fakeSheetsAPI{}
	s := newTestService(t, api)

	r := models.AnswerResult{
		FileName:       "q1.png",
		QuestionNumber: "1/50",
		QuestionID:     "[1001]",
		Question:       "What is 2+2?",
		Answer:         "B",
		AnswerText:     "B. 4",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	r.SetOption("A", "3")
	r.SetOption("b", "4")

	ctx := context.Background()
	if err := s.AppendResults(ctx, []models.AnswerResult{r}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendResults(ctx, []models.AnswerResult{r}); err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.gets != 1 {
		t.Fatalf("spreadsheet fetched %d times, want 1", api.gets)
	}
	if api.batchUpdates != 2 {
		t.Fatalf("batch updates = %d, want add sheet + format", api.batchUpdates)
	}
	if len(api.headers) != 1 || len(api.headers[0]) != len(headers) {
		t.Fatalf("headers = %v", api.headers)
	}
	if len(api.rows) != 2 || api.inputOption != "USER_ENTERED" {
		t.Fatalf("rows = %v, option %q", api.rows, api.inputOption)
	}
	row := api.rows[0]
	if row[1] != "q1.png" || row[4] != "What is 2+2?" || row[6] != "4" || row[8] != "" || row[9] != "B" {
		t.Fatalf("row = %v", row)
	}
}

func TestAppendNothing(t *testing.T) {
	api := &fakeSheetsAPI{}
	s := newTestService(t, api)
	if err := s.AppendResults(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if api.gets != 0 {
		t.Fatal("empty append must not touch the API")
	}
}

func TestExtractSpreadsheetID(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://docs.google.com/spreadsheets/d/1AbC-d_E/edit#gid=0", "1AbC-d_E", false},
		{"https://example.com/sheet", "", true},
	}
	for _, tt := range tests {
		got, err := extractSpreadsheetID(tt.url)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSheetURL) {
				t.Errorf("extractSpreadsheetID(%q) err = %v", tt.url, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("extractSpreadsheetID(%q) = %q, %v", tt.url, got, err)
		}
	}
}

func TestNewSheetsServiceRequiresURL(t *testing.T) {
	if _, err := NewSheetsService(context.Background(), Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

type recordingAppender struct {
	mu   sync.Mutex
	rows []string
}

func (a *recordingAppender) AppendResults(_ context.Context, results []models.AnswerResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		a.rows = append(a.rows, r.FileName)
	}
	return nil
}

func (a *recordingAppender) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

func TestExporterForwardsAnsweredResults(t *testing.T) {
	app := &recordingAppender{}
	e := NewExporter(app)

	e.Subscriber(models.AnswerResult{FileName: "blank.png"})
	e.Subscriber(models.AnswerResult{FileName: "q1.png", Question: "What?"})
	e.Subscriber(models.AnswerResult{FileName: "q2.png", Question: "Why?"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for app.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	app.mu.Lock()
	defer app.mu.Unlock()
	if strings.Join(app.rows, ",") != "q1.png,q2.png" {
		t.Fatalf("exported %v", app.rows)
	}
}
