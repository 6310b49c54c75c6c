package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandRunner executes an external tool to completion. Tests substitute a
// fake; production uses ExecRunner.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	// RunOutput captures stdout for tools whose result is printed, such as
	// pdfinfo.
	RunOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner shells out and forwards tool chatter to the logger line by line.
type ExecRunner struct {
	logger *slog.Logger
}

func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = newLogWriter(r.logger, name, "stdout")
	cmd.Stderr = newLogWriter(r.logger, name, "stderr")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (r *ExecRunner) RunOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type logWriter struct {
	logger *slog.Logger
	tool   string
	stream string
}

func newLogWriter(logger *slog.Logger, tool, stream string) *logWriter {
	return &logWriter{logger: logger, tool: tool, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("tool output", "tool", w.tool, "stream", w.stream, "line", string(line))
	}
	return total, nil
}
