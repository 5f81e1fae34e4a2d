// Package pipeline turns capture images into answered questions.
//
// Submitted images pass through two workers connected by an unbounded queue.
// Stage 1 drops byte-identical images and runs OCR with retries, a mock
// fallback and an optional secondary engine. Stage 2 drops near-identical
// texts and already answered questions, asks the AI and validates the reply
// against the OCR text before the result is written and published.
//
// Each stage processes one image at a time; the two stages overlap.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"quizsnap/internal/answer"
	"quizsnap/internal/dedup"
	"quizsnap/internal/heuristics"
	"quizsnap/internal/logger"
	"quizsnap/internal/ocr"
	"quizsnap/internal/store"
	"quizsnap/pkg/models"
)

// Preprocessor prepares an image for OCR. It returns the path to read and
// whether a new file was written.
type Preprocessor interface {
	Preprocess(imagePath string) (string, bool)
}

// Answerer asks the AI about an OCR text.
type Answerer interface {
	GetAnswer(ctx context.Context, ocrText string) (string, error)
}

// Deps are the collaborators of a Pipeline. Store, Dedup, OCR and AI are
// required.
type Deps struct {
	Store        *store.Store
	Dedup        *dedup.Engine
	OCR          ocr.Service
	Secondary    ocr.Service // optional
	Preprocessor Preprocessor
	AI           Answerer
	Bus          *Bus

	// ProcessingLog receives a copy of every pipeline log line.
	ProcessingLog io.Writer

	// Observer is told the outcome of every submitted image.
	Observer func(imagePath string, outcome Outcome)
}

// Pipeline is the two-stage capture processor.
type Pipeline struct {
	cfg        Config
	autoAnswer atomic.Bool

	store     *store.Store
	dedup     *dedup.Engine
	ocr       ocr.Service
	secondary ocr.Service
	pre       Preprocessor
	ai        Answerer
	bus       *Bus
	observer  func(string, Outcome)
	log       zerolog.Logger
	now       func() time.Time

	mockOnce sync.Once

	processingMu sync.Mutex
	processing   map[string]struct{}

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	ocrQueue    *queue[string]
	answerQueue *queue[models.OcrRecord]
	wg          sync.WaitGroup
}

// New validates deps and creates a stopped pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	const op = "pipeline.New"

	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%s: store is required", op)
	case deps.Dedup == nil:
		return nil, fmt.Errorf("%s: dedup engine is required", op)
	case deps.OCR == nil:
		return nil, fmt.Errorf("%s: OCR service is required", op)
	case deps.AI == nil:
		return nil, fmt.Errorf("%s: AI client is required", op)
	}

	bus := deps.Bus
	if bus == nil {
		bus = NewBus()
	}

	p := &Pipeline{
		cfg:         cfg.withDefaults(),
		store:       deps.Store,
		dedup:       deps.Dedup,
		ocr:         deps.OCR,
		secondary:   deps.Secondary,
		pre:         deps.Preprocessor,
		ai:          deps.AI,
		bus:         bus,
		observer:    deps.Observer,
		log:         logger.Tee(logger.WithComponent("pipeline"), deps.ProcessingLog),
		now:         time.Now,
		processing:  make(map[string]struct{}),
		ocrQueue:    newQueue[string](),
		answerQueue: newQueue[models.OcrRecord](),
	}
	p.autoAnswer.Store(cfg.AutoAnswer)
	return p, nil
}

// Bus returns the bus results are published on.
func (p *Pipeline) Bus() *Bus { return p.bus }

// Store returns the result store.
func (p *Pipeline) Store() *store.Store { return p.store }

// AutoAnswer reports whether submissions are accepted.
func (p *Pipeline) AutoAnswer() bool { return p.autoAnswer.Load() }

// SetAutoAnswer switches processing on or off. Images already queued when it
// is switched off are dropped by Stage 1.
func (p *Pipeline) SetAutoAnswer(on bool) { p.autoAnswer.Store(on) }

// Submit queues an image. It returns false when auto-answer is off, the path
// is already being processed or a marker from an earlier run exists.
func (p *Pipeline) Submit(imagePath string) bool {
	if !p.autoAnswer.Load() {
		return false
	}

	abs, err := filepath.Abs(imagePath)
	if err != nil {
		p.log.Error().Err(err).Str("path", imagePath).Msg("Cannot resolve image path")
		return false
	}

	p.processingMu.Lock()
	if _, busy := p.processing[abs]; busy || p.store.HasMarker(abs) {
		p.processingMu.Unlock()
		return false
	}
	if err := p.store.WriteMarker(abs); err != nil {
		p.processingMu.Unlock()
		p.log.Error().Err(err).Str("file", filepath.Base(abs)).Msg("Failed to write processing marker")
		return false
	}
	p.processing[abs] = struct{}{}
	p.processingMu.Unlock()

	p.pendingMu.Lock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	p.pendingMu.Unlock()

	p.ocrQueue.push(abs)
	p.log.Info().Str("file", filepath.Base(abs)).Msg("Queued for OCR")
	return true
}

// Start launches both stage workers. They stop when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.ocrWorker(ctx)
	go p.answerWorker(ctx)
}

// Wait blocks until both workers have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// WaitIdle blocks until every submitted image reached an outcome.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	for {
		p.pendingMu.Lock()
		if p.pending == 0 {
			p.pendingMu.Unlock()
			return nil
		}
		idle := p.idle
		p.pendingMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Recover removes processing markers left behind by an interrupted run so
// that their images can be submitted again.
func (p *Pipeline) Recover() (int, error) {
	n, err := p.store.ClearStaleMarkers(p.cfg.StaleMarkerAge, p.now())
	if err != nil {
		return n, fmt.Errorf("pipeline.Recover: %w", err)
	}
	if n > 0 {
		p.log.Info().Int("markers", n).Msg("Cleared stale processing markers")
	}
	return n, nil
}

func (p *Pipeline) ocrWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		path, ok := p.ocrQueue.pop(ctx)
		if !ok {
			return
		}
		outcome, done, err := p.recognize(ctx, path)
		switch {
		case err != nil && ctx.Err() != nil:
			p.finish(path, OutcomeCancelled)
		case err != nil:
			p.log.Error().Err(err).Str("file", filepath.Base(path)).Msg("OCR stage failed")
			p.dedup.Forget(path, "", models.QuestionMeta{})
			p.rollback(path)
			p.finish(path, OutcomeFailed)
		case done:
			p.finish(path, outcome)
		}
	}
}

func (p *Pipeline) answerWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		rec, ok := p.answerQueue.pop(ctx)
		if !ok {
			return
		}
		outcome, err := p.answerRecord(ctx, rec)
		switch {
		case err != nil && ctx.Err() != nil:
			p.finish(rec.ImagePath, OutcomeCancelled)
		case err != nil:
			p.log.Error().Err(err).Str("file", rec.FileName).Msg("Answer stage failed")
			p.rollback(rec.ImagePath)
			p.finish(rec.ImagePath, OutcomeFailed)
		default:
			p.finish(rec.ImagePath, outcome)
		}
	}
}

// recognize runs Stage 1. done is false when the record was handed to Stage 2.
func (p *Pipeline) recognize(ctx context.Context, path string) (outcome Outcome, done bool, err error) {
	name := filepath.Base(path)

	if !p.autoAnswer.Load() {
		p.rollback(path)
		return OutcomeDisabled, true, nil
	}

	seen, err := p.dedup.SeenImage(path)
	if err != nil {
		return OutcomeFailed, true, err
	}
	if seen {
		p.log.Info().Str("file", name).Msg("Duplicate image, deleted")
		p.store.RemoveImage(path)
		p.rollback(path)
		return OutcomeDuplicateImage, true, nil
	}

	text, likely, err := p.readText(ctx, path)
	if err != nil {
		return OutcomeFailed, true, err
	}

	rec := models.OcrRecord{
		FileName:      name,
		ImagePath:     path,
		OcrText:       text,
		LowConfidence: !likely,
		EnqueuedAt:    p.now().UTC(),
	}
	if err := p.store.SaveOcr(rec); err != nil {
		return OutcomeFailed, true, err
	}

	p.answerQueue.push(rec)
	p.log.Info().Str("file", name).Bool("low_confidence", rec.LowConfidence).Msg("OCR done, queued for answer")
	return 0, false, nil
}

// readText runs the OCR attempts and, when the text still does not look like
// a complete question, the secondary engine.
func (p *Pipeline) readText(ctx context.Context, path string) (string, bool, error) {
	name := filepath.Base(path)

	var text string
	likely := false
	for attempt := 1; attempt <= p.cfg.OCRAttempts; attempt++ {
		t, err := p.extract(ctx, p.ocr, path)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			p.mockOnce.Do(func() {
				p.log.Warn().Err(err).Msg("OCR engine failed, using mock OCR text")
			})
			t = ocr.MockText(path)
		}
		text = t
		likely = looksComplete(text)
		if likely {
			break
		}
		p.log.Debug().Str("file", name).Int("attempt", attempt).Msg("OCR text does not look like a question")
	}

	if !likely && p.secondary != nil {
		t, err := p.secondary.ExtractText(ctx, path)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", false, ctx.Err()
		case err != nil:
			p.log.Warn().Err(err).Str("file", name).Msg("Secondary OCR failed")
		case strings.TrimSpace(t) != "":
			text = t
			likely = looksComplete(text)
			p.log.Info().Str("file", name).Bool("likely", likely).Msg("Using secondary OCR text")
		}
	}
	return text, likely, nil
}

func (p *Pipeline) extract(ctx context.Context, svc ocr.Service, path string) (string, error) {
	src := path
	if p.pre != nil {
		if out, ok := p.pre.Preprocess(path); ok && out != path {
			src = out
			defer os.Remove(out)
		}
	}
	return svc.ExtractText(ctx, src)
}

func looksComplete(text string) bool {
	return heuristics.LooksLikeQuestion(text) && heuristics.HasEnoughOptions(text)
}

// answerRecord runs Stage 2. On failure the dedup ledgers are rolled back
// together with the marker.
func (p *Pipeline) answerRecord(ctx context.Context, rec models.OcrRecord) (outcome Outcome, err error) {
	path := rec.ImagePath
	name := rec.FileName

	var (
		comparedText string
		meta         models.QuestionMeta
		result       models.AnswerResult
		contentSeen  bool
	)
	defer func() {
		if err == nil || ctx.Err() != nil {
			return
		}
		p.dedup.Forget(path, comparedText, meta)
		if contentSeen {
			p.dedup.ForgetContent(result)
		}
	}()

	if !rec.LowConfidence {
		comparedText = rec.OcrText
		if similar, score := p.dedup.SimilarText(rec.OcrText); similar {
			p.log.Info().Str("file", name).Float64("similarity", score).Msg("Duplicate OCR text, deleted")
			p.discard(path)
			return OutcomeDuplicateText, nil
		}
	}

	meta = heuristics.ExtractMeta(rec.OcrText)
	if p.dedup.SeenMeta(meta) {
		p.log.Info().Str("file", name).Str("number", meta.Number).Str("id", meta.ID).Msg("Question already answered, deleted")
		p.discard(path)
		return OutcomeDuplicateMeta, nil
	}
	p.dedup.RememberMeta(meta)

	if !heuristics.HasEnoughOptions(rec.OcrText) {
		// Meta stays empty on disk so a later run still answers the question
		// once it has finished loading.
		result = models.AnswerResult{
			FileName:  name,
			ImagePath: path,
			OcrText:   rec.OcrText,
			CreatedAt: p.now().UTC(),
		}
		if err := p.store.SaveResult(result); err != nil {
			return OutcomeFailed, err
		}
		p.log.Info().Str("file", name).Msg("No answer options found, AI skipped")
		p.bus.Publish(result)
		return OutcomeNoStructure, nil
	}

	block := heuristics.ExtractQuestionBlock(rec.OcrText)
	coverageSource := block
	if strings.TrimSpace(coverageSource) == "" {
		coverageSource = rec.OcrText
	}

	coverage := 0.0
	for attempt := 1; attempt <= p.cfg.AIAttempts; attempt++ {
		reply, err := p.ai.GetAnswer(ctx, answer.BuildRequest(block, rec.OcrText, attempt))
		if err != nil {
			return OutcomeFailed, fmt.Errorf("ask AI: %w", err)
		}

		parsed := answer.Parse(reply)
		if parsed.QuestionNumber == "" {
			parsed.QuestionNumber = meta.Number
		}
		if parsed.QuestionID == "" {
			parsed.QuestionID = meta.ID
		}
		answer.RecoverFromOCR(&parsed, rec.OcrText, reply)

		result = models.AnswerResult{
			FileName:  name,
			ImagePath: path,
			RawAnswer: reply,
			OcrText:   rec.OcrText,
			CreatedAt: p.now().UTC(),
		}
		parsed.Apply(&result)

		coverage = heuristics.CoverageRatio(coverageSource, result.Question, result.Options)
		if strings.TrimSpace(result.Question) != "" && strings.TrimSpace(result.Answer) != "" &&
			coverage >= p.cfg.CoverageThreshold {
			break
		}
		p.log.Debug().Str("file", name).Int("attempt", attempt).Float64("coverage", coverage).Msg("AI answer rejected")
	}

	if strings.TrimSpace(result.Question) == "" || coverage < p.cfg.CoverageThreshold {
		p.log.Warn().Str("file", name).Float64("coverage", coverage).Msg("Answer does not match the OCR text, content dropped")
		result.Strip()
	}

	contentSeen = true
	if p.dedup.SeenContent(result) {
		p.log.Info().Str("file", name).Msg("Duplicate question content, deleted")
		p.store.RemoveResult(path)
		p.discard(path)
		return OutcomeDuplicateContent, nil
	}

	if err := p.store.SaveResult(result); err != nil {
		return OutcomeFailed, err
	}
	if err := p.store.WriteMarker(path); err != nil {
		return OutcomeFailed, err
	}
	if err := p.store.MoveToVideoDir(&result); err != nil {
		p.log.Warn().Err(err).Str("file", name).Msg("Failed to move video frame")
	}

	p.log.Info().Str("file", name).Str("answer", result.Answer).Float64("coverage", coverage).Msg("Answer saved")
	p.bus.Publish(result)
	return OutcomeAnswered, nil
}

// discard deletes the image and its pipeline artifacts after a dedup hit.
func (p *Pipeline) discard(path string) {
	p.store.RemoveImage(path)
	p.store.RemoveOcr(path)
	p.rollback(path)
}

// rollback releases a path so that it can be submitted again.
func (p *Pipeline) rollback(path string) {
	p.store.RemoveMarker(path)
	p.processingMu.Lock()
	delete(p.processing, path)
	p.processingMu.Unlock()
}

func (p *Pipeline) finish(path string, outcome Outcome) {
	if outcome != OutcomeCancelled {
		p.processingMu.Lock()
		delete(p.processing, path)
		p.processingMu.Unlock()
	}
	if p.observer != nil {
		p.observer(path, outcome)
	}

	p.pendingMu.Lock()
	p.pending--
	if p.pending == 0 && p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
	p.pendingMu.Unlock()
}

// AnswerImage answers a single image without the dedup gates.
func (p *Pipeline) AnswerImage(ctx context.Context, imagePath string) (*models.AnswerResult, error) {
	const op = "AnswerImage"

	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	name := filepath.Base(abs)
	if _, err := os.Stat(abs); err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrImageNotFound, abs)
	}

	text, err := p.extract(ctx, p.ocr, abs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn().Err(err).Str("file", name).Msg("OCR engine failed, using mock OCR text")
		text = ocr.MockText(abs)
	}
	text = heuristics.FixCommonOcrErrors(text)

	reply, err := p.ai.GetAnswer(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s: ask AI: %w", op, err)
	}

	parsed := answer.Parse(reply)
	meta := heuristics.ExtractMeta(text)
	if parsed.QuestionNumber == "" {
		parsed.QuestionNumber = meta.Number
	}
	if parsed.QuestionID == "" {
		parsed.QuestionID = meta.ID
	}
	answer.RecoverFromOCR(&parsed, text, reply)

	result := models.AnswerResult{
		FileName:  name,
		ImagePath: abs,
		RawAnswer: reply,
		OcrText:   text,
		CreatedAt: p.now().UTC(),
	}
	parsed.Apply(&result)

	if err := p.store.SaveResult(result); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.log.Info().Str("file", name).Str("answer", result.Answer).Msg("Answer saved")
	p.bus.Publish(result)
	return &result, nil
}
