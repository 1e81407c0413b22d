// Package runner executes candidate builder programs in an isolated child
// process with a hard wall-clock timeout.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"slidesmith/internal/candidate"
)

const (
	// DefaultTimeout bounds one execution attempt.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxOutputBytes caps captured stdout/stderr per stream.
	DefaultMaxOutputBytes = 1 << 20

	// TimeoutMarker is the synthetic diagnostic recorded instead of raw
	// process-kill output when an attempt exceeds the time budget.
	TimeoutMarker = "execution exceeded time budget"

	builderFileName = "builder.py"
)

// Request describes one execution attempt. Scratch must be a caller-provided
// directory; the runner writes only inside it and never cleans it up. The
// orchestrator owns that lifecycle.
type Request struct {
	Candidate candidate.Candidate
	HTMLPath  string
	OutPath   string
	Scratch   string
}

// Result captures the outcome of running one candidate.
type Result struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	TimedOut     bool
	Truncated    bool
	ArtifactSize int64
	Duration     time.Duration
}

// Succeeded implements the success predicate: exit status zero AND the
// declared artifact exists with non-zero size. A timed-out run never
// succeeds even if a partial artifact is present.
func (r Result) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0 && r.ArtifactSize > 0
}

// Diagnostic renders the execution output for the repair transcript. On
// timeout it returns the synthetic marker rather than kill noise.
func (r Result) Diagnostic() string {
	if r.TimedOut {
		return fmt.Sprintf("%s (%s)", TimeoutMarker, r.Duration.Round(time.Second))
	}
	return fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", r.Stdout, r.Stderr)
}

// Runner launches candidates via an external interpreter. The zero value is
// not usable; construct with New.
type Runner struct {
	interpreter    string
	timeout        time.Duration
	maxOutputBytes int64
	logger         *zap.Logger
}

// New creates a runner. Empty interpreter defaults to python3; a
// non-positive timeout defaults to DefaultTimeout.
func New(interpreter string, timeout time.Duration, logger *zap.Logger) *Runner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		interpreter:    interpreter,
		timeout:        timeout,
		maxOutputBytes: DefaultMaxOutputBytes,
		logger:         logger,
	}
}

// Run writes the candidate into the scratch directory and executes it as
// `<interpreter> builder.py --html <in> --out <out>`. The error return is
// reserved for orchestrator-side faults (scratch not writable, interpreter
// missing); a candidate that runs and fails is reported via Result.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	builderPath := filepath.Join(req.Scratch, builderFileName)
	if err := os.WriteFile(builderPath, []byte(req.Candidate.Source), 0o644); err != nil {
		return Result{}, fmt.Errorf("write candidate: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.interpreter, builderPath, "--html", req.HTMLPath, "--out", req.OutPath)
	cmd.Dir = req.Scratch

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: r.maxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: r.maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Debug("running candidate",
		zap.String("provenance", req.Candidate.Provenance),
		zap.String("interpreter", r.interpreter),
		zap.Duration("timeout", r.timeout))

	start := time.Now()
	err := cmd.Run()

	result := Result{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("candidate timed out",
			zap.String("provenance", req.Candidate.Provenance),
			zap.Duration("timeout", r.timeout))
		return result, nil
	case err == nil:
		result.ExitCode = 0
	default:
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			// Interpreter could not be started at all.
			return result, fmt.Errorf("launch candidate: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	// A timed-out run never reaches here, so the artifact stat is only
	// performed on runs that finished on their own.
	if info, statErr := os.Stat(req.OutPath); statErr == nil {
		result.ArtifactSize = info.Size()
	}

	r.logger.Debug("candidate finished",
		zap.Int("exit_code", result.ExitCode),
		zap.Int64("artifact_size", result.ArtifactSize),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// limitedWriter caps total bytes written, discarding the overflow while
// reporting full writes so the child never sees a short-write error.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	if remaining := lw.max - lw.written; int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
