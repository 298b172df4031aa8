package transcription

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

// maxLineBytes bounds a single line of engine output.
const maxLineBytes = 1 << 20

// Invocation describes one run of the external transcription engine.
type Invocation struct {
	Executable string
	Script     string
	InputRef   string
	OutputDir  string
	JobID      uuid.UUID
	Params     models.Parameters
}

// Callbacks receive progress from a running engine. Nil fields are ignored.
type Callbacks struct {
	OnMilestone func(Milestone)
	OnLine      func(string)
}

// Runner supervises one engine process to completion.
// A nonzero exit is reported through exitCode with a nil error; err is reserved
// for faults while spawning, reading or waiting.
type Runner interface {
	Run(ctx context.Context, inv Invocation, cb Callbacks) (exitCode int, err error)
}

// BuildArgs returns the engine argument vector, executable first:
//
//	<exe> <script> <input> <outputDir> <jobId> [--model M] [--language L] [--task T]
//
// Empty parameters are omitted and a language of "auto" (any case) is left to the engine.
func BuildArgs(inv Invocation) []string {
	args := []string{inv.Executable, inv.Script, inv.InputRef, inv.OutputDir, inv.JobID.String()}
	if inv.Params.Model != "" {
		args = append(args, "--model", inv.Params.Model)
	}
	if lang := inv.Params.Language; lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "--language", lang)
	}
	if inv.Params.Task != "" {
		args = append(args, "--task", inv.Params.Task)
	}
	return args
}

// ExecRunner runs the engine with os/exec, reading stdout and stderr as one stream.
type ExecRunner struct {
	logger    *slog.Logger
	newParser func() MilestoneParser
}

// NewExecRunner creates an ExecRunner that logs engine output to logger and
// derives milestones with a fresh parser from newParser for every run.
func NewExecRunner(logger *slog.Logger, newParser func() MilestoneParser) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if newParser == nil {
		newParser = NewLineHeuristic
	}
	return &ExecRunner{logger: logger, newParser: newParser}
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation, cb Callbacks) (int, error) {
	argv := BuildArgs(inv)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("create output pipe: %w", err)
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return 0, fmt.Errorf("start engine: %w", err)
	}
	// Only the child holds the write end now, so EOF means it (and anything it spawned) exited.
	pw.Close()

	log := r.logger.With("job_id", inv.JobID)
	log.Info("engine started", "pid", cmd.Process.Pid, "args", argv[1:])
	if cb.OnMilestone != nil {
		cb.OnMilestone(MilestoneLoading)
	}

	parser := r.newParser()
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug("engine output", "line", line)
		if cb.OnLine != nil {
			cb.OnLine(line)
		}
		if m, ok := parser.Parse(line); ok && cb.OnMilestone != nil {
			cb.OnMilestone(m)
		}
	}
	readErr := scanner.Err()
	if readErr != nil {
		// Keep the pipe drained so the engine does not block on a full buffer.
		_, _ = io.Copy(io.Discard, pr)
	}

	waitErr := cmd.Wait()
	if readErr != nil {
		return 0, fmt.Errorf("read engine output: %w", readErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Info("engine exited", "exit_code", exitErr.ExitCode())
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("wait for engine: %w", waitErr)
	}

	log.Info("engine exited", "exit_code", 0)
	return 0, nil
}

// scanLines is bufio.ScanLines that also treats a lone '\r' as a line end,
// since progress bars rewrite the current line with carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if !atEOF {
			// Need one more byte to tell "\r" from "\r\n".
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ Runner = (*ExecRunner)(nil)
