// Package dedup implements the four duplicate filters of the capture pipeline.
//
// Each gate keeps its own in-memory ledger for the lifetime of an Engine. The
// metadata and content gates additionally compare against the results already
// written to disk so that a restart does not reprocess questions that were
// resolved by an earlier run. Disk reads are not cached.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
	"quizsnap/pkg/models"
)

// DefaultSimilarityThreshold is the token Jaccard similarity from which two
// OCR texts are considered the same question.
const DefaultSimilarityThreshold = 0.97

// History gives read access to the results persisted by earlier runs.
type History interface {
	Results() ([]models.AnswerResult, error)
}

// Config holds the tunable parameters of the engine.
type Config struct {
	SimilarityThreshold float64 // Default: 0.97
}

// Engine owns the dedup ledgers. It is safe for concurrent use.
type Engine struct {
	similarityThreshold float64
	history             History
	log                 zerolog.Logger

	hashMu sync.Mutex
	hashes map[string]struct{}

	textMu sync.Mutex
	texts  []tokenSet

	metaMu  sync.Mutex
	ids     map[string]struct{}
	numbers map[string]struct{}

	contentMu sync.Mutex
	contents  map[string]struct{}
}

type tokenSet map[string]struct{}

// New creates an engine. history may be nil when no results exist on disk.
func New(config Config, history History) *Engine {
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return &Engine{
		similarityThreshold: config.SimilarityThreshold,
		history:             history,
		log:                 logger.WithComponent("dedup"),
		hashes:              make(map[string]struct{}),
		ids:                 make(map[string]struct{}),
		numbers:             make(map[string]struct{}),
		contents:            make(map[string]struct{}),
	}
}

// HashFile returns the hex SHA-256 of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SeenImage records the image's content hash and reports whether identical
// bytes were already seen by this engine. A hashing error is returned with
// false so that callers can proceed with the image.
func (e *Engine) SeenImage(path string) (bool, error) {
	hash, err := HashFile(path)
	if err != nil {
		return false, fmt.Errorf("hash image %s: %w", path, err)
	}

	e.hashMu.Lock()
	defer e.hashMu.Unlock()
	if _, ok := e.hashes[hash]; ok {
		return true, nil
	}
	e.hashes[hash] = struct{}{}
	return false, nil
}

// SimilarText compares text with every OCR text retained so far and reports
// whether one of them reaches the similarity threshold, along with the best
// score. The text is retained either way.
func (e *Engine) SimilarText(text string) (bool, float64) {
	current := similarityTokens(text)

	e.textMu.Lock()
	defer e.textMu.Unlock()

	best := 0.0
	for _, prior := range e.texts {
		if s := jaccard(current, prior); s > best {
			best = s
		}
	}
	e.texts = append(e.texts, current)
	return best >= e.similarityThreshold, best
}

// SeenMeta reports whether the question id or number was remembered in this
// run or appears in a result on disk. Empty values never match.
func (e *Engine) SeenMeta(meta models.QuestionMeta) bool {
	if meta.Empty() {
		return false
	}
	id := strings.ToLower(meta.ID)
	number := strings.ToLower(meta.Number)

	e.metaMu.Lock()
	_, idSeen := e.ids[id]
	_, numberSeen := e.numbers[number]
	e.metaMu.Unlock()
	if (id != "" && idSeen) || (number != "" && numberSeen) {
		return true
	}

	for _, r := range e.diskResults() {
		if id != "" && strings.EqualFold(strings.TrimSpace(r.QuestionID), id) {
			return true
		}
		if number != "" && strings.EqualFold(strings.TrimSpace(r.QuestionNumber), number) {
			return true
		}
	}
	return false
}

// RememberMeta stores whichever of id and number is present.
func (e *Engine) RememberMeta(meta models.QuestionMeta) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	if meta.ID != "" {
		e.ids[strings.ToLower(meta.ID)] = struct{}{}
	}
	if meta.Number != "" {
		e.numbers[strings.ToLower(meta.Number)] = struct{}{}
	}
}

// SeenContent reports whether a result with the same content key was seen in
// this run or is already on disk. Results on disk with the same file name as
// r are its own earlier partial output and are ignored. Results without a
// question carry no content and never match. A new key is remembered.
func (e *Engine) SeenContent(r models.AnswerResult) bool {
	if strings.TrimSpace(r.Question) == "" {
		return false
	}
	key := ContentKey(r)
	folded := strings.ToLower(key)

	e.contentMu.Lock()
	_, seen := e.contents[folded]
	e.contentMu.Unlock()
	if seen {
		return true
	}

	for _, existing := range e.diskResults() {
		if existing.FileName == r.FileName {
			continue
		}
		if strings.EqualFold(ContentKey(existing), key) {
			return true
		}
	}

	e.contentMu.Lock()
	e.contents[folded] = struct{}{}
	e.contentMu.Unlock()
	return false
}

func (e *Engine) diskResults() []models.AnswerResult {
	if e.history == nil {
		return nil
	}
	results, err := e.history.Results()
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read existing results, skipping disk check")
	}
	return results
}

// Forget drops what the gates recorded for an image whose processing failed,
// so that a resubmission is not taken for a duplicate of itself. Empty
// arguments are skipped.
func (e *Engine) Forget(imagePath, ocrText string, meta models.QuestionMeta) {
	if imagePath != "" {
		if hash, err := HashFile(imagePath); err == nil {
			e.hashMu.Lock()
			delete(e.hashes, hash)
			e.hashMu.Unlock()
		}
	}

	if strings.TrimSpace(ocrText) != "" {
		current := similarityTokens(ocrText)
		e.textMu.Lock()
		for i := len(e.texts) - 1; i >= 0; i-- {
			if sameTokens(e.texts[i], current) {
				e.texts = append(e.texts[:i], e.texts[i+1:]...)
				break
			}
		}
		e.textMu.Unlock()
	}

	e.metaMu.Lock()
	if meta.ID != "" {
		delete(e.ids, strings.ToLower(meta.ID))
	}
	if meta.Number != "" {
		delete(e.numbers, strings.ToLower(meta.Number))
	}
	e.metaMu.Unlock()
}

// ForgetContent drops the content key of r.
func (e *Engine) ForgetContent(r models.AnswerResult) {
	if strings.TrimSpace(r.Question) == "" {
		return
	}
	e.contentMu.Lock()
	delete(e.contents, strings.ToLower(ContentKey(r)))
	e.contentMu.Unlock()
}

func sameTokens(a, b tokenSet) bool {
	if len(a) != len(b) {
		return false
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}
