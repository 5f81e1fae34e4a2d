package sheets

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
	"quizsnap/pkg/models"
)

const (
	exportQueueSize = 256
	exportTimeout   = 30 * time.Second
)

// Appender writes results to a spreadsheet.
type Appender interface {
	AppendResults(ctx context.Context, results []models.AnswerResult) error
}

// Exporter forwards published results to a spreadsheet from its own
// goroutine so that subscribers never wait on the network.
type Exporter struct {
	appender Appender
	queue    chan models.AnswerResult
	log      zerolog.Logger
}

func NewExporter(appender Appender) *Exporter {
	return &Exporter{
		appender: appender,
		queue:    make(chan models.AnswerResult, exportQueueSize),
		log:      logger.WithComponent("sheets"),
	}
}

// Subscriber queues a result for export. Results without a question are
// skipped; when the queue is full the result is dropped with a warning.
func (e *Exporter) Subscriber(r models.AnswerResult) {
	if r.Question == "" {
		return
	}
	select {
	case e.queue <- r:
	default:
		e.log.Warn().Str("file", r.FileName).Msg("Export queue full, result not exported")
	}
}

// Run exports queued results until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-e.queue:
			batch := []models.AnswerResult{r}
		drain:
			for len(batch) < exportQueueSize {
				select {
				case next := <-e.queue:
					batch = append(batch, next)
				default:
					break drain
				}
			}

			callCtx, cancel := context.WithTimeout(ctx, exportTimeout)
			if err := e.appender.AppendResults(callCtx, batch); err != nil {
				e.log.Error().Err(err).Int("rows", len(batch)).Msg("Failed to export answers")
			}
			cancel()
		}
	}
}
