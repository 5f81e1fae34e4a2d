package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"quizsnap/internal/logger"
)

// DefaultCommandTemplate runs tesseract and prints the text on stdout.
const DefaultCommandTemplate = `tesseract "{input}" stdout`

// CommandService runs an external OCR program built from a command template.
// The placeholder {input} is replaced by the image path and the command is
// executed through the platform shell.
type CommandService struct {
	template string
	log      zerolog.Logger
}

// NewCommandService creates the service. An empty template selects
// DefaultCommandTemplate.
func NewCommandService(template string) *CommandService {
	if strings.TrimSpace(template) == "" {
		template = DefaultCommandTemplate
	}
	return &CommandService{
		template: template,
		log:      logger.WithComponent("ocr-command"),
	}
}

// ExtractText runs the command and returns its trimmed standard output.
func (s *CommandService) ExtractText(ctx context.Context, imagePath string) (string, error) {
	const op = "CommandService.ExtractText"

	if err := checkImage(op, imagePath); err != nil {
		return "", err
	}

	line := strings.ReplaceAll(s.template, "{input}", imagePath)
	cmd := shellCommand(ctx, line)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.log.Debug().Str("command", line).Msg("Running OCR command")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", WrapOCRError(op, ctx.Err(), "OCR command interrupted")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("failed to start OCR command: %v", err))
	}

	return strings.TrimSpace(stdout.String()), nil
}

func shellCommand(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "sh", "-c", line)
}
