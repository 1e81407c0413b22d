// Package session drives the generate -> execute -> diagnose -> repair loop
// that converts one HTML document into a validated PPTX artifact.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slidesmith/internal/candidate"
	"slidesmith/internal/oracle"
	"slidesmith/internal/runner"
	"slidesmith/internal/sink"
	"slidesmith/internal/snapshot"
	"slidesmith/internal/usage"
)

// State identifies where in the loop a session is.
type State int

const (
	StateInit State = iota
	StateSynthesizing
	StateExecuting
	StateRepairing
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSynthesizing:
		return "synthesizing"
	case StateExecuting:
		return "executing"
	case StateRepairing:
		return "repairing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Executor runs one candidate; satisfied by *runner.Runner.
type Executor interface {
	Run(ctx context.Context, req runner.Request) (runner.Result, error)
}

// Options configures one conversion session.
type Options struct {
	// MaxRetries bounds execution attempts. Defaults to 5.
	MaxRetries int
	// ViewportWidth/Height for the reference snapshot.
	ViewportWidth  int
	ViewportHeight int
	// SaveBuilderScripts persists each attempt's candidate next to the
	// input document. Purely observational; never read back.
	SaveBuilderScripts bool
	// SaveSnapshot persists the reference snapshot next to the input.
	SaveSnapshot bool
}

// Session owns one end-to-end conversion: at most MaxRetries sequential
// (candidate, execution result) pairs, the usage totals across all oracle
// calls, and a terminal outcome. Sessions for different documents are
// independent and may run concurrently.
type Session struct {
	id        string
	oracle    oracle.Client
	snapshots snapshot.Provider
	executor  Executor
	sink      sink.Sink
	logger    *zap.Logger
	opts      Options

	state             State
	totals            usage.Totals
	lastCandidatePath string
}

// New creates a session. The logger is the session's explicit sink; pass a
// per-run logger rather than anything process-global.
func New(o oracle.Client, snapshots snapshot.Provider, executor Executor, artifactSink sink.Sink, logger *zap.Logger, opts Options) *Session {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = snapshot.DefaultWidth
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = snapshot.DefaultHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		oracle:    o,
		snapshots: snapshots,
		executor:  executor,
		sink:      artifactSink,
		logger:    logger.With(zap.String("session_id", id)),
		opts:      opts,
	}
}

// State returns the session's current loop state.
func (s *Session) State() State { return s.state }

// Usage returns the accumulated oracle usage. Meaningful once Convert has
// returned.
func (s *Session) Usage() usage.Totals { return s.totals }

// Convert runs the full loop for one document and returns the final
// artifact location. Only ErrInputNotFound, *OracleUnavailableError,
// *ExhaustedError and orchestrator-side faults escape; execution failures
// and degraded repairs are absorbed into the loop.
func (s *Session) Convert(ctx context.Context, htmlPath string) (string, error) {
	s.state = StateInit

	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return "", fmt.Errorf("resolve input path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrInputNotFound, htmlPath)
		}
		return "", fmt.Errorf("stat input: %w", err)
	}
	htmlBytes, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	s.logger.Info("conversion session started",
		zap.String("input", abs),
		zap.Int("html_chars", len(htmlBytes)),
		zap.Int("max_retries", s.opts.MaxRetries))

	png, err := s.snapshots.Capture(ctx, abs, s.opts.ViewportWidth, s.opts.ViewportHeight)
	if err != nil {
		s.state = StateFailed
		return "", fmt.Errorf("capture reference snapshot: %w", err)
	}
	if s.opts.SaveSnapshot {
		path := debugPath(abs, "_snapshot.png")
		if werr := os.WriteFile(path, png, 0o644); werr != nil {
			s.logger.Warn("failed to save snapshot", zap.Error(werr))
		} else {
			s.logger.Info("saved reference snapshot", zap.String("path", path))
		}
	}

	s.state = StateSynthesizing
	raw, rec, err := s.oracle.Synthesize(ctx, string(htmlBytes), png)
	s.totals.Add(rec)
	if err != nil {
		s.state = StateFailed
		s.logUsage()
		return "", &OracleUnavailableError{Err: err}
	}
	cand := s.extract(raw, 0)

	var lastResult runner.Result
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		s.state = StateExecuting
		s.logger.Info("executing candidate",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", s.opts.MaxRetries),
			zap.String("provenance", cand.Provenance))

		if s.opts.SaveBuilderScripts {
			s.saveCandidate(abs, attempt, cand)
		}

		result, location, err := s.runAttempt(ctx, cand, abs)
		if err != nil {
			s.state = StateFailed
			s.logUsage()
			return "", err
		}
		if result.Succeeded() {
			s.state = StateSucceeded
			s.logger.Info("conversion succeeded",
				zap.Int("attempt", attempt),
				zap.String("location", location))
			s.logUsage()
			return location, nil
		}

		lastResult = result
		s.logger.Warn("candidate execution failed",
			zap.Int("attempt", attempt),
			zap.Int("exit_code", result.ExitCode),
			zap.Bool("timed_out", result.TimedOut),
			zap.Int64("artifact_size", result.ArtifactSize))

		if attempt == s.opts.MaxRetries {
			break
		}

		s.state = StateRepairing
		repaired, rec := s.oracle.Repair(ctx, cand, transcript(cand, result))
		s.totals.Add(rec)
		next := s.extract(repaired, attempt)
		if next.Source == cand.Source {
			// Degraded or no-op repair: keep the prior candidate so its
			// provenance keeps naming the attempt that actually produced it.
			s.logger.Warn("repair produced no change, re-executing prior candidate",
				zap.Int("attempt", attempt))
		} else {
			cand = next
		}
	}

	s.state = StateFailed
	s.logger.Error("retry budget exhausted", zap.Int("attempts", s.opts.MaxRetries))
	s.logUsage()
	return "", &ExhaustedError{
		Attempts:          s.opts.MaxRetries,
		LastDiagnostic:    lastResult.Diagnostic(),
		LastCandidatePath: s.lastCandidatePath,
	}
}

// runAttempt executes one candidate inside a scratch directory that is
// removed on every exit path. On success the artifact is handed to the
// sink before the scratch is released.
func (s *Session) runAttempt(ctx context.Context, cand candidate.Candidate, htmlPath string) (runner.Result, string, error) {
	scratch, err := os.MkdirTemp("", "slidesmith-")
	if err != nil {
		return runner.Result{}, "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	outPath := filepath.Join(scratch, "out.pptx")
	result, err := s.executor.Run(ctx, runner.Request{
		Candidate: cand,
		HTMLPath:  htmlPath,
		OutPath:   outPath,
		Scratch:   scratch,
	})
	if err != nil {
		return result, "", fmt.Errorf("execute candidate: %w", err)
	}
	if !result.Succeeded() {
		return result, "", nil
	}

	location, err := s.sink.Store(ctx, outPath)
	if err != nil {
		return result, "", fmt.Errorf("finalize artifact: %w", err)
	}
	return result, location, nil
}

// extract pulls the candidate program out of a raw oracle response.
// priorAttempt 0 marks the initial generation.
func (s *Session) extract(raw string, priorAttempt int) candidate.Candidate {
	code, err := candidate.Extract(raw)
	if errors.Is(err, candidate.ErrNoCodeBlock) {
		s.logger.Warn("no code block in oracle response, using full response as candidate")
	}

	var cand candidate.Candidate
	if priorAttempt == 0 {
		cand = candidate.Initial(code)
	} else {
		cand = candidate.RepairOf(code, priorAttempt)
	}
	if !cand.LooksRunnable() {
		s.logger.Warn("candidate does not look like a complete script",
			zap.String("provenance", cand.Provenance))
	}
	return cand
}

func (s *Session) saveCandidate(inputPath string, attempt int, cand candidate.Candidate) {
	path := debugPath(inputPath, fmt.Sprintf("_builder_attempt_%d.py", attempt))
	if err := os.WriteFile(path, []byte(cand.Source), 0o644); err != nil {
		s.logger.Warn("failed to save builder script", zap.Error(err))
		return
	}
	s.lastCandidatePath = path
	s.logger.Info("saved builder script", zap.Int("attempt", attempt), zap.String("path", path))
}

func (s *Session) logUsage() {
	s.logger.Info("oracle usage summary",
		zap.Int("calls", s.totals.Calls),
		zap.Int64("input", s.totals.Input),
		zap.Int64("output", s.totals.Output),
		zap.Float64("estimated_cost_usd", s.totals.EstimatedCost()))
}

// transcript renders the diagnostic handed to the oracle on repair: the
// provenance-tagged failure summary plus the complete execution output.
func transcript(cand candidate.Candidate, result runner.Result) string {
	return fmt.Sprintf("[candidate %s] exit status %d\n\n%s",
		cand.Provenance, result.ExitCode, result.Diagnostic())
}

// debugPath derives a sibling path from the input document name.
func debugPath(inputPath, suffix string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(inputPath), stem+suffix)
}
