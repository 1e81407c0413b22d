package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"slidesmith/internal/candidate"
	"slidesmith/internal/runner"
	"slidesmith/internal/usage"
)

func TestMain(m *testing.M) {
	// The opencensus worker is started by a dependency's package init,
	// not by code under test, so it is not a leak.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// --- fakes -----------------------------------------------------------------

type fakeOracle struct {
	synthResp string
	synthRec  usage.Record
	synthErr  error

	repairResps []string
	repairRecs  []usage.Record
	degrade     bool // simulate the degrade-on-repair-failure contract

	synthCalls      int
	repairCalls     int
	lastTranscripts []string
}

func (f *fakeOracle) Synthesize(context.Context, string, []byte) (string, usage.Record, error) {
	f.synthCalls++
	if f.synthErr != nil {
		return "", usage.Record{}, f.synthErr
	}
	return f.synthResp, f.synthRec, nil
}

func (f *fakeOracle) Repair(_ context.Context, prior candidate.Candidate, transcript string) (string, usage.Record) {
	f.lastTranscripts = append(f.lastTranscripts, transcript)
	idx := f.repairCalls
	f.repairCalls++
	if f.degrade || idx >= len(f.repairResps) {
		return prior.Source, usage.Record{}
	}
	return f.repairResps[idx], f.repairRecs[idx]
}

type fakeSnapshots struct {
	calls int
	err   error
}

func (f *fakeSnapshots) Capture(context.Context, string, int, int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png-bytes"), nil
}

type fakeExecutor struct {
	results  []runner.Result
	requests []runner.Request
}

func (f *fakeExecutor) Run(_ context.Context, req runner.Request) (runner.Result, error) {
	f.requests = append(f.requests, req)
	if len(f.results) == 0 {
		return runner.Result{}, errors.New("unexpected extra execution")
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

type fakeSink struct {
	stored []string
	err    error
}

func (f *fakeSink) Store(_ context.Context, artifactPath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, artifactPath)
	return "/final/out.pptx", nil
}

// assertScratchRemoved checks every attempt's scratch directory is gone.
func assertScratchRemoved(t *testing.T, ex *fakeExecutor) {
	t.Helper()
	for _, req := range ex.requests {
		assert.NoDirExists(t, req.Scratch)
	}
}

// --- helpers ---------------------------------------------------------------

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.html")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>hi</body></html>"), 0o644))
	return path
}

func passResult() runner.Result {
	return runner.Result{ExitCode: 0, ArtifactSize: 2048}
}

func failResult(exit int, stderr string) runner.Result {
	return runner.Result{ExitCode: exit, Stderr: stderr}
}

func fenced(code string) string {
	return "```python\n" + code + "\n```"
}

const initialScript = "def main():\n    build()\n\nif __name__ == '__main__':\n    main()"

func newTestSession(o *fakeOracle, ex *fakeExecutor, opts Options) (*Session, *fakeSink) {
	sk := &fakeSink{}
	return New(o, &fakeSnapshots{}, ex, sk, nil, opts), sk
}

// --- scenarios -------------------------------------------------------------

func TestConvertSucceedsFirstAttempt(t *testing.T) {
	o := &fakeOracle{synthResp: fenced(initialScript), synthRec: usage.Record{Input: 100, Output: 50}}
	ex := &fakeExecutor{results: []runner.Result{passResult()}}
	s, sk := newTestSession(o, ex, Options{})

	loc, err := s.Convert(context.Background(), writeInput(t))
	require.NoError(t, err)

	assert.Equal(t, "/final/out.pptx", loc)
	assert.Equal(t, StateSucceeded, s.State())
	assert.Len(t, ex.requests, 1)
	assert.Equal(t, 1, o.synthCalls)
	assert.Equal(t, 0, o.repairCalls)
	assert.Len(t, sk.stored, 1)
	assert.Equal(t, initialScript, ex.requests[0].Candidate.Source)
	assert.Equal(t, "initial", ex.requests[0].Candidate.Provenance)
	assertScratchRemoved(t, ex)
}

func TestConvertRepairSucceedsSecondAttempt(t *testing.T) {
	repaired := "def main():\n    build_fixed()\n\nmain()"
	o := &fakeOracle{
		synthResp:   fenced(initialScript),
		synthRec:    usage.Record{Input: 100, Output: 50},
		repairResps: []string{fenced(repaired)},
		repairRecs:  []usage.Record{{Input: 30, Output: 20}},
	}
	ex := &fakeExecutor{results: []runner.Result{
		failResult(2, "AttributeError: 'NoneType' object has no attribute 'fore_color'"),
		passResult(),
	}}
	s, _ := newTestSession(o, ex, Options{})

	loc, err := s.Convert(context.Background(), writeInput(t))
	require.NoError(t, err)
	assert.Equal(t, "/final/out.pptx", loc)

	require.Len(t, ex.requests, 2)
	assert.Equal(t, repaired, ex.requests[1].Candidate.Source)
	assert.Equal(t, "repair-of-attempt-1", ex.requests[1].Candidate.Provenance)

	// attempt 1's stderr appears verbatim in the repair transcript
	require.Len(t, o.lastTranscripts, 1)
	assert.Contains(t, o.lastTranscripts[0], "AttributeError: 'NoneType' object has no attribute 'fore_color'")
	assert.Contains(t, o.lastTranscripts[0], "exit status 2")
}

func TestConvertExhaustsRetries(t *testing.T) {
	o := &fakeOracle{
		synthResp:   fenced(initialScript),
		repairResps: []string{fenced("attempt2()"), fenced("attempt3()")},
		repairRecs:  []usage.Record{{Input: 1, Output: 1}, {Input: 1, Output: 1}},
	}
	ex := &fakeExecutor{results: []runner.Result{
		failResult(1, "err1"), failResult(1, "err2"), failResult(1, "err3"),
	}}
	s, sk := newTestSession(o, ex, Options{MaxRetries: 3})

	_, err := s.Convert(context.Background(), writeInput(t))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Contains(t, exhausted.LastDiagnostic, "err3")
	assert.Equal(t, StateFailed, s.State())
	assert.Len(t, ex.requests, 3)
	assert.Equal(t, 2, o.repairCalls, "no repair after the final attempt")
	assert.Empty(t, sk.stored)
	assertScratchRemoved(t, ex)
}

func TestConvertSinkFailureCleansScratch(t *testing.T) {
	o := &fakeOracle{synthResp: fenced(initialScript)}
	ex := &fakeExecutor{results: []runner.Result{passResult()}}
	sk := &fakeSink{err: errors.New("disk full")}
	s := New(o, &fakeSnapshots{}, ex, sk, nil, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))
	require.ErrorContains(t, err, "finalize artifact")
	require.Len(t, ex.requests, 1)
	assertScratchRemoved(t, ex)
}

func TestConvertTimeoutUsesSyntheticDiagnostic(t *testing.T) {
	o := &fakeOracle{synthResp: fenced(initialScript)}
	ex := &fakeExecutor{results: []runner.Result{
		{ExitCode: -1, TimedOut: true},
		passResult(),
	}}
	s, _ := newTestSession(o, ex, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))
	require.NoError(t, err)

	require.Len(t, o.lastTranscripts, 1)
	assert.Contains(t, o.lastTranscripts[0], runner.TimeoutMarker)
	assert.NotContains(t, o.lastTranscripts[0], "STDERR")
}

func TestConvertInputNotFound(t *testing.T) {
	o := &fakeOracle{synthResp: fenced(initialScript)}
	snaps := &fakeSnapshots{}
	ex := &fakeExecutor{}
	s := New(o, snaps, ex, &fakeSink{}, nil, Options{})

	_, err := s.Convert(context.Background(), filepath.Join(t.TempDir(), "missing.html"))

	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.Equal(t, 0, o.synthCalls, "no oracle calls before input validation")
	assert.Equal(t, 0, snaps.calls)
	assert.Empty(t, ex.requests)
}

func TestConvertEmptyArtifactIsFailure(t *testing.T) {
	o := &fakeOracle{
		synthResp:   fenced(initialScript),
		repairResps: []string{fenced("fixed()")},
		repairRecs:  []usage.Record{{}},
	}
	// exit 0 but zero-byte artifact: "ran but produced nothing" is not success
	ex := &fakeExecutor{results: []runner.Result{
		{ExitCode: 0, ArtifactSize: 0},
		passResult(),
	}}
	s, _ := newTestSession(o, ex, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))
	require.NoError(t, err)
	assert.Len(t, ex.requests, 2)
	assert.Equal(t, 1, o.repairCalls)
}

func TestConvertOracleUnavailable(t *testing.T) {
	o := &fakeOracle{synthErr: errors.New("quota exceeded")}
	ex := &fakeExecutor{}
	s, _ := newTestSession(o, ex, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))

	var unavailable *OracleUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Empty(t, ex.requests, "no attempts consumed when synthesis fails")
}

func TestConvertDegradedRepairReexecutesPriorCandidate(t *testing.T) {
	o := &fakeOracle{
		synthResp: fenced(initialScript),
		synthRec:  usage.Record{Input: 100, Output: 50},
		degrade:   true,
	}
	ex := &fakeExecutor{results: []runner.Result{
		failResult(1, "same failure"), failResult(1, "same failure"), failResult(1, "same failure"),
	}}
	s, _ := newTestSession(o, ex, Options{MaxRetries: 3})

	_, err := s.Convert(context.Background(), writeInput(t))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)

	// every attempt re-executed the unchanged candidate, and the
	// provenance still names the call that actually produced it
	require.Len(t, ex.requests, 3)
	for _, req := range ex.requests {
		assert.Equal(t, initialScript, req.Candidate.Source)
		assert.Equal(t, "initial", req.Candidate.Provenance)
	}

	// degraded repair calls still counted, with zero usage
	totals := s.Usage()
	assert.Equal(t, 3, totals.Calls) // 1 synthesis + 2 degraded repairs
	assert.Equal(t, int64(100), totals.Input)
	assert.Equal(t, int64(50), totals.Output)
}

func TestConvertUsageTotalsSumAllCalls(t *testing.T) {
	o := &fakeOracle{
		synthResp:   fenced(initialScript),
		synthRec:    usage.Record{Input: 100, Output: 200},
		repairResps: []string{fenced("a()"), fenced("b()")},
		repairRecs:  []usage.Record{{Input: 10, Output: 20}, {Input: 1, Output: 2}},
	}
	ex := &fakeExecutor{results: []runner.Result{
		failResult(1, "x"), failResult(1, "y"), passResult(),
	}}
	s, _ := newTestSession(o, ex, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))
	require.NoError(t, err)

	totals := s.Usage()
	assert.Equal(t, int64(111), totals.Input)
	assert.Equal(t, int64(222), totals.Output)
	assert.Equal(t, 3, totals.Calls)
}

func TestConvertUnfencedResponseStillExecutes(t *testing.T) {
	o := &fakeOracle{synthResp: "import sys\nprint('raw script')"}
	ex := &fakeExecutor{results: []runner.Result{passResult()}}
	s, _ := newTestSession(o, ex, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))
	require.NoError(t, err)
	require.Len(t, ex.requests, 1)
	assert.Equal(t, "import sys\nprint('raw script')", ex.requests[0].Candidate.Source)
}

func TestConvertSavesBuilderScripts(t *testing.T) {
	o := &fakeOracle{
		synthResp:   fenced(initialScript),
		repairResps: []string{fenced("second()")},
		repairRecs:  []usage.Record{{}},
	}
	ex := &fakeExecutor{results: []runner.Result{
		failResult(1, "x"), failResult(1, "y"),
	}}
	s, _ := newTestSession(o, ex, Options{MaxRetries: 2, SaveBuilderScripts: true})

	input := writeInput(t)
	_, err := s.Convert(context.Background(), input)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)

	dir := filepath.Dir(input)
	for attempt := 1; attempt <= 2; attempt++ {
		path := filepath.Join(dir, fmt.Sprintf("deck_builder_attempt_%d.py", attempt))
		assert.FileExists(t, path)
	}
	assert.Equal(t, filepath.Join(dir, "deck_builder_attempt_2.py"), exhausted.LastCandidatePath)

	data, err2 := os.ReadFile(exhausted.LastCandidatePath)
	require.NoError(t, err2)
	assert.Equal(t, "second()", string(data))
}

func TestConvertSnapshotFailureIsFatal(t *testing.T) {
	o := &fakeOracle{synthResp: fenced(initialScript)}
	snaps := &fakeSnapshots{err: errors.New("chromium not found")}
	s := New(o, snaps, &fakeExecutor{}, &fakeSink{}, nil, Options{})

	_, err := s.Convert(context.Background(), writeInput(t))
	require.Error(t, err)
	assert.Equal(t, 0, o.synthCalls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "repairing", StateRepairing.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
}
