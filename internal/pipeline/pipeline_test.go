package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"quizsnap/internal/dedup"
	"quizsnap/internal/ocr"
	"quizsnap/internal/store"
	"quizsnap/pkg/models"
)

const (
	q1Text = "Multiple choices 1/50\n[1001]\nWhat is 2+2?\nA. 3\nB. 4\nC. 5\nD. 6"
	q1JSON = `{"question":"What is 2+2?","options":{"A":"3","B":"4","C":"5","D":"6"},"answer":"B"}`

	q2Text = "Multiple choices 2/50\n[1002]\nWhich planet is the largest?\nA. Mars\nB. Jupiter\nC. Venus\nD. Earth"
	q2JSON = `{"question":"Which planet is the largest?","options":{"A":"Mars","B":"Jupiter","C":"Venus","D":"Earth"},"answer":"B"}`
)

type fakeOCR struct {
	mu    sync.Mutex
	texts map[string]string // by file name
	err   error
	calls int
}

func (f *fakeOCR) ExtractText(_ context.Context, imagePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.texts[filepath.Base(imagePath)]
	if !ok {
		return "", errors.New("no text for " + imagePath)
	}
	return text, nil
}

// fakeAI answers with the reply registered for the first matching marker in
// the request.
type fakeAI struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
	calls   int
}

func (f *fakeAI) GetAnswer(_ context.Context, request string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for marker, reply := range f.replies {
		if strings.Contains(request, marker) {
			return reply, nil
		}
	}
	return "", nil
}

func (f *fakeAI) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	p          *Pipeline
	store      *store.Store
	captureDir string
	videoDir   string
	ocr        *fakeOCR
	ai         *fakeAI
	log        *syncBuffer

	mu       sync.Mutex
	outcomes map[string]Outcome
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		captureDir: filepath.Join(root, "Captures"),
		videoDir:   filepath.Join(root, "VideoCaptures"),
		ocr:        &fakeOCR{texts: map[string]string{}},
		ai:         &fakeAI{replies: map[string]string{}},
		log:        &syncBuffer{},
		outcomes:   map[string]Outcome{},
	}
	if err := os.MkdirAll(h.captureDir, 0o755); err != nil {
		t.Fatal(err)
	}

	st, err := store.New(filepath.Join(root, "Outputs"), h.videoDir)
	if err != nil {
		t.Fatal(err)
	}
	h.store = st

	h.p, err = New(cfg, Deps{
		Store:         st,
		Dedup:         dedup.New(dedup.Config{}, st),
		OCR:           h.ocr,
		AI:            h.ai,
		ProcessingLog: h.log,
		Observer: func(path string, o Outcome) {
			h.mu.Lock()
			h.outcomes[filepath.Base(path)] = o
			h.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.p.Wait()
	})
}

// image writes a capture file and registers its OCR text.
func (h *harness) image(t *testing.T, name, content, text string) string {
	t.Helper()
	path := filepath.Join(h.captureDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	h.ocr.mu.Lock()
	h.ocr.texts[name] = text
	h.ocr.mu.Unlock()
	return path
}

func (h *harness) process(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if !h.p.Submit(p) {
			t.Fatalf("Submit(%s) refused", filepath.Base(p))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.p.WaitIdle(ctx); err != nil {
		t.Fatalf("pipeline did not drain: %v", err)
	}
}

func (h *harness) outcome(name string) Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.outcomes[name]
	if !ok {
		return -1
	}
	return o
}

func readResult(t *testing.T, path string) models.AnswerResult {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var r models.AnswerResult
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	return r
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestEndToEndAndDuplicateImage(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = q1JSON
	h.start(t)

	var published []models.AnswerResult
	var pubMu sync.Mutex
	h.p.Bus().Subscribe(func(r models.AnswerResult) {
		pubMu.Lock()
		published = append(published, r)
		pubMu.Unlock()
	})

	q1 := h.image(t, "q1.png", "png-bytes-1", q1Text)
	h.process(t, q1)

	if o := h.outcome("q1.png"); o != OutcomeAnswered {
		t.Fatalf("q1 outcome = %v", o)
	}
	r := readResult(t, h.store.ResultPath(q1))
	if r.Question != "What is 2+2?" || r.Answer != "B" || r.AnswerText != "B. 4" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.QuestionNumber != "1/50" || r.QuestionID != "[1001]" {
		t.Fatalf("meta = %q %q", r.QuestionNumber, r.QuestionID)
	}
	if r.RawAnswer != q1JSON || r.OcrText != q1Text || r.CreatedAt.IsZero() {
		t.Fatalf("audit fields not kept: %+v", r)
	}
	if !h.store.HasMarker(q1) || !exists(h.store.OcrPath(q1)) {
		t.Fatal("marker and OCR record must be kept for answered images")
	}

	dup := h.image(t, "q1_copy.png", "png-bytes-1", q1Text)
	h.process(t, dup)

	if o := h.outcome("q1_copy.png"); o != OutcomeDuplicateImage {
		t.Fatalf("copy outcome = %v", o)
	}
	if exists(dup) || exists(h.store.ResultPath(dup)) || h.store.HasMarker(dup) {
		t.Fatal("duplicate image and its artifacts must be removed")
	}
	if n := h.ai.callCount(); n != 1 {
		t.Fatalf("AI called %d times, want 1", n)
	}

	pubMu.Lock()
	defer pubMu.Unlock()
	if len(published) != 1 || published[0].FileName != "q1.png" {
		t.Fatalf("published = %+v", published)
	}
	if !strings.Contains(h.log.String(), "Answer saved") {
		t.Fatal("processing log did not receive pipeline events")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	path := h.image(t, "q1.png", "bytes", q1Text)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.p.Submit(path) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted %d submissions, want 1", accepted)
	}
	if !h.store.HasMarker(path) {
		t.Fatal("marker not written on submit")
	}
}

func TestSubmitDisabled(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: false})
	path := h.image(t, "q1.png", "bytes", q1Text)
	if h.p.Submit(path) {
		t.Fatal("submission accepted with auto-answer off")
	}
	if h.store.HasMarker(path) {
		t.Fatal("marker written with auto-answer off")
	}
}

func TestDisabledWhileQueued(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	path := h.image(t, "q1.png", "bytes", q1Text)
	if !h.p.Submit(path) {
		t.Fatal("Submit refused")
	}
	h.p.SetAutoAnswer(false)
	h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.p.WaitIdle(ctx); err != nil {
		t.Fatal(err)
	}
	if o := h.outcome("q1.png"); o != OutcomeDisabled {
		t.Fatalf("outcome = %v", o)
	}
	if h.store.HasMarker(path) || h.ocr.calls != 0 {
		t.Fatal("disabled image must be released without OCR")
	}
}

func TestHardGateSkipsAI(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.start(t)
	const text = "Loading exam, please wait"
	path := h.image(t, "blank.png", "bytes", text)
	h.process(t, path)

	if o := h.outcome("blank.png"); o != OutcomeNoStructure {
		t.Fatalf("outcome = %v", o)
	}
	if n := h.ai.callCount(); n != 0 {
		t.Fatalf("AI called %d times", n)
	}
	r := readResult(t, h.store.ResultPath(path))
	if r.Question != "" || r.Answer != "" || r.OcrText != text || r.CreatedAt.IsZero() {
		t.Fatalf("unexpected result %+v", r)
	}
	if h.ocr.calls != DefaultOCRAttempts {
		t.Fatalf("OCR ran %d times, want %d", h.ocr.calls, DefaultOCRAttempts)
	}
}

func TestLowCoverageAnswerIsStripped(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	const reply = `{"question":"Capital of France?","options":{"A":"Paris","B":"Rome"},"answer":"A"}`
	h.ai.replies["What is 2+2?"] = reply
	h.start(t)

	path := h.image(t, "q1.png", "bytes", q1Text)
	h.process(t, path)

	if n := h.ai.callCount(); n != DefaultAIAttempts {
		t.Fatalf("AI called %d times, want %d", n, DefaultAIAttempts)
	}
	r := readResult(t, h.store.ResultPath(path))
	if r.Question != "" || len(r.Options) != 0 || r.Answer != "" || r.AnswerText != "" {
		t.Fatalf("untrustworthy content kept: %+v", r)
	}
	if r.RawAnswer != reply || r.QuestionID != "[1001]" {
		t.Fatalf("raw answer and metadata must survive stripping: %+v", r)
	}
}

func TestDuplicateTextAndMeta(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = q1JSON
	h.ai.replies["Which planet"] = q2JSON
	h.start(t)

	q1 := h.image(t, "q1.png", "first", q1Text)
	h.process(t, q1)

	sameText := h.image(t, "q1_again.png", "second", q1Text)
	sameMeta := h.image(t, "q1_scrolled.png", "third", strings.Replace(q2Text, "2/50\n[1002]", "1/50\n[1001]", 1))
	h.process(t, sameText, sameMeta)

	if o := h.outcome("q1_again.png"); o != OutcomeDuplicateText {
		t.Fatalf("same text outcome = %v", o)
	}
	if o := h.outcome("q1_scrolled.png"); o != OutcomeDuplicateMeta {
		t.Fatalf("same meta outcome = %v", o)
	}
	for _, p := range []string{sameText, sameMeta} {
		if exists(p) || exists(h.store.OcrPath(p)) || h.store.HasMarker(p) || exists(h.store.ResultPath(p)) {
			t.Fatalf("artifacts of %s not removed", filepath.Base(p))
		}
	}

	q2 := h.image(t, "q2.png", "fourth", q2Text)
	h.process(t, q2)
	if o := h.outcome("q2.png"); o != OutcomeAnswered {
		t.Fatalf("q2 outcome = %v", o)
	}
}

func TestOCRFailureFallsBackToMock(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ocr.err = errors.New("tesseract not installed")
	h.ai.replies["PageModel"] = `{"question":"The PageModel in Razor Pages is best described as:",` +
		`"options":{"A":"A combination of Controller and ViewModel","B":"A database entity"},"answer":"A"}`
	h.start(t)

	path := h.image(t, "shot.png", "bytes", "")
	h.process(t, path)

	r := readResult(t, h.store.ResultPath(path))
	if r.OcrText != ocr.MockText(path) {
		t.Fatalf("OCR text = %q", r.OcrText)
	}
	if r.Answer != "A" {
		t.Fatalf("answer = %q", r.Answer)
	}
	if n := strings.Count(h.log.String(), "using mock OCR text"); n != 1 {
		t.Fatalf("mock warning logged %d times, want 1", n)
	}
}

func TestAIErrorAllowsResubmit(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = q1JSON
	h.ai.setErr(errors.New("both providers down"))
	h.start(t)

	path := h.image(t, "q1.png", "bytes", q1Text)
	h.process(t, path)

	if o := h.outcome("q1.png"); o != OutcomeFailed {
		t.Fatalf("outcome = %v", o)
	}
	if h.store.HasMarker(path) || !exists(path) {
		t.Fatal("failed image must keep its file and lose its marker")
	}

	h.ai.setErr(nil)
	h.process(t, path)
	if o := h.outcome("q1.png"); o != OutcomeAnswered {
		t.Fatalf("retry outcome = %v", o)
	}
}

func TestVideoFrameIsMoved(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = q1JSON
	h.start(t)

	name := store.VideoFramePrefix + "20260101_120000_000001.png"
	path := h.image(t, name, "frame", q1Text)
	h.process(t, path)

	moved := filepath.Join(h.videoDir, name)
	if exists(path) || !exists(moved) {
		t.Fatal("video frame not moved")
	}
	r := readResult(t, h.store.ResultPath(path))
	if r.ImagePath != moved {
		t.Fatalf("result image path = %q, want %q", r.ImagePath, moved)
	}
}

func TestRecoverClearsOrphanMarkers(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	orphan := h.image(t, "orphan.png", "a", q1Text)
	done := h.image(t, "done.png", "b", q1Text)
	for _, p := range []string{orphan, done} {
		if err := h.store.WriteMarker(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.store.SaveResult(models.AnswerResult{FileName: "done.png", ImagePath: done}); err != nil {
		t.Fatal(err)
	}

	if h.p.Submit(orphan) {
		t.Fatal("image with a marker must not be accepted")
	}
	n, err := h.p.Recover()
	if err != nil || n != 1 {
		t.Fatalf("Recover() = %d, %v", n, err)
	}
	if !h.store.HasMarker(done) {
		t.Fatal("marker with a result was removed")
	}
	if !h.p.Submit(orphan) {
		t.Fatal("recovered image must be accepted again")
	}
}

func TestAnswerImage(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = "B"

	path := h.image(t, "single.png", "bytes", "What ic 2+2?\nA. 3\nB. 4")
	r, err := h.p.AnswerImage(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Question != "What is 2+2?" || r.Answer != "B" || r.AnswerText != "B. 4" {
		t.Fatalf("unexpected result %+v", r)
	}
	if !exists(h.store.ResultPath(path)) {
		t.Fatal("result not saved")
	}

	if _, err := h.p.AnswerImage(context.Background(), filepath.Join(h.captureDir, "missing.png")); !errors.Is(err, ocr.ErrImageNotFound) {
		t.Fatalf("err = %v, want ErrImageNotFound", err)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("New without deps must fail")
	}
}

func TestBus(t *testing.T) {
	b := NewBus()
	var got []string
	unsubA := b.Subscribe(func(r models.AnswerResult) { got = append(got, "a:"+r.FileName) })
	b.Subscribe(func(r models.AnswerResult) { got = append(got, "b:"+r.FileName) })

	b.Publish(models.AnswerResult{FileName: "1"})
	unsubA()
	unsubA()
	b.Publish(models.AnswerResult{FileName: "2"})

	if strings.Join(got, ",") != "a:1,b:1,b:2" {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := newQueue[int]()
	q.push(1)
	q.push(2)

	ctx, cancel := context.WithCancel(context.Background())
	for _, want := range []int{1, 2} {
		if v, ok := q.pop(ctx); !ok || v != want {
			t.Fatalf("pop = %d, %v", v, ok)
		}
	}
	cancel()
	if _, ok := q.pop(ctx); ok {
		t.Fatal("pop on an empty queue must stop on cancellation")
	}
}

func TestSecondaryOCRReplacesIncompleteText(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = q1JSON
	secondary := &fakeOCR{texts: map[string]string{"q1.png": q1Text}}
	h.p.secondary = secondary
	h.start(t)

	q1 := h.image(t, "q1.png", "png-bytes-1", "smudged header only")
	h.process(t, q1)

	if o := h.outcome("q1.png"); o != OutcomeAnswered {
		t.Fatalf("outcome = %v", o)
	}
	if h.ocr.calls != DefaultOCRAttempts || secondary.calls != 1 {
		t.Fatalf("primary calls %d, secondary calls %d", h.ocr.calls, secondary.calls)
	}
	if r := readResult(t, h.store.ResultPath(q1)); r.OcrText != q1Text || r.Answer != "B" {
		t.Fatalf("result %+v", r)
	}
}

// restart replaces the pipeline with a fresh one over the same output
// directory, as a new process would.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	p, err := New(Config{AutoAnswer: true}, Deps{
		Store:         h.store,
		Dedup:         dedup.New(dedup.Config{}, h.store),
		OCR:           h.ocr,
		AI:            h.ai,
		ProcessingLog: h.log,
		Observer: func(path string, o Outcome) {
			h.mu.Lock()
			h.outcomes[filepath.Base(path)] = o
			h.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.p = p
	h.start(t)
}

func TestLoadingCaptureDoesNotBlockLaterRun(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["What is 2+2?"] = q1JSON
	h.start(t)

	loading := h.image(t, "q1_loading.png", "loading-bytes", "Multiple choices 1/50\n[1001]\nLoading question, please wait")
	h.process(t, loading)

	if o := h.outcome("q1_loading.png"); o != OutcomeNoStructure {
		t.Fatalf("loading outcome = %v", o)
	}
	if r := readResult(t, h.store.ResultPath(loading)); r.QuestionNumber != "" || r.QuestionID != "" {
		t.Fatalf("skipped result must not carry meta: %q %q", r.QuestionNumber, r.QuestionID)
	}

	h.restart(t)
	q1 := h.image(t, "q1.png", "real-bytes", q1Text)
	h.process(t, q1)

	if o := h.outcome("q1.png"); o != OutcomeAnswered {
		t.Fatalf("q1 outcome after restart = %v", o)
	}
	if !exists(q1) || h.ai.callCount() != 1 {
		t.Fatalf("image kept %v, AI calls %d", exists(q1), h.ai.callCount())
	}
	if r := readResult(t, h.store.ResultPath(q1)); r.Answer != "B" || r.QuestionID != "[1001]" {
		t.Fatalf("result %+v", r)
	}
}

func TestDuplicateContentIsDeleted(t *testing.T) {
	h := newHarness(t, Config{AutoAnswer: true})
	h.ai.replies["2+2"] = q1JSON
	h.start(t)

	first := h.image(t, "a.png", "bytes-a", "What is 2+2?\nA. 3\nB. 4\nC. 5\nD. 6")
	h.process(t, first)

	second := h.image(t, "b.png", "bytes-b", "Quick check, what is 2+2 again?\nA. 3\nB. 4\nC. 5\nD. 6")
	h.process(t, second)

	if o := h.outcome("a.png"); o != OutcomeAnswered {
		t.Fatalf("first outcome = %v", o)
	}
	if o := h.outcome("b.png"); o != OutcomeDuplicateContent {
		t.Fatalf("second outcome = %v", o)
	}
	if exists(second) || exists(h.store.ResultPath(second)) || h.store.HasMarker(second) {
		t.Fatal("image, result and marker of the duplicate must be removed")
	}
	if !exists(h.store.ResultPath(first)) {
		t.Fatal("first result must be kept")
	}
}
