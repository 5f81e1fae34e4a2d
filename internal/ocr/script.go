package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ScriptService runs a PaddleOCR wrapper script:
//
//	<python> <script> <image> --lang <lang> --use-angle-cls 1|0
//
// The script prints {"text": "..."}; any other output is used as plain text.
type ScriptService struct {
	python      string
	script      string
	lang        string
	useAngleCls bool
}

func NewScriptService(python, script, lang string, useAngleCls bool) *ScriptService {
	if python == "" {
		python = "python"
	}
	if script == "" {
		script = "paddle_ocr_cli.py"
	}
	if lang == "" {
		lang = "en"
	}
	return &ScriptService{python: python, script: script, lang: lang, useAngleCls: useAngleCls}
}

func (s *ScriptService) args(imagePath string) []string {
	angle := "0"
	if s.useAngleCls {
		angle = "1"
	}
	return []string{s.script, imagePath, "--lang", s.lang, "--use-angle-cls", angle}
}

// ExtractText runs the script and decodes its output.
func (s *ScriptService) ExtractText(ctx context.Context, imagePath string) (string, error) {
	const op = "ScriptService.ExtractText"

	if err := checkImage(op, imagePath); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, s.python, s.args(imagePath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", WrapOCRError(op, ctx.Err(), "OCR script interrupted")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("failed to start %s: %v", s.python, err))
	}

	return decodeScriptOutput(stdout.String()), nil
}

func decodeScriptOutput(out string) string {
	out = strings.TrimSpace(out)
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return out
	}
	return strings.TrimSpace(payload.Text)
}
