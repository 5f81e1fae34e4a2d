package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const processingStampLayout = "2006-01-02 15:04:05"

// ProcessingLog appends human readable pipeline events to
// processing_<yyyyMMdd>.log in a directory, switching files at midnight.
// Lines look like "[2006-01-02 15:04:05] message key=value".
type ProcessingLog struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File

	console zerolog.ConsoleWriter
}

// NewProcessingLog creates the directory if needed. Files are opened lazily.
func NewProcessingLog(dir string) (*ProcessingLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create processing log directory: %w", err)
	}
	p := &ProcessingLog{dir: dir, now: time.Now}
	p.console = zerolog.ConsoleWriter{
		Out:        fileWriter{p},
		NoColor:    true,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(any) string {
			return "[" + p.now().Format(processingStampLayout) + "]"
		},
		FieldsExclude: []string{zerolog.CallerFieldName},
	}
	return p, nil
}

// Write implements io.Writer for zerolog JSON events.
func (p *ProcessingLog) Write(b []byte) (int, error) {
	return p.console.Write(b)
}

// Path returns the file events are written to today.
func (p *ProcessingLog) Path() string {
	return filepath.Join(p.dir, "processing_"+p.now().Format("20060102")+".log")
}

// Close closes the current file.
func (p *ProcessingLog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	p.day = ""
	return err
}

func (p *ProcessingLog) writeLine(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	day := p.now().Format("20060102")
	if p.file == nil || p.day != day {
		if p.file != nil {
			p.file.Close()
		}
		f, err := os.OpenFile(p.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			p.file = nil
			return 0, err
		}
		p.file, p.day = f, day
	}
	return p.file.Write(b)
}

type fileWriter struct{ p *ProcessingLog }

func (w fileWriter) Write(b []byte) (int, error) { return w.p.writeLine(b) }

var _ io.WriteCloser = (*ProcessingLog)(nil)
