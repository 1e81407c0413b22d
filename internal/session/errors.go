package session

import (
	"errors"
	"fmt"
)

// ErrInputNotFound is returned before any attempt or oracle call is made
// when the input document does not exist.
var ErrInputNotFound = errors.New("input document not found")

// OracleUnavailableError is fatal: the one-shot synthesis call failed and
// the session has no candidate to iterate on. It is never retried
// internally.
type OracleUnavailableError struct {
	Err error
}

func (e *OracleUnavailableError) Error() string {
	return fmt.Sprintf("oracle unavailable: %v", e.Err)
}

func (e *OracleUnavailableError) Unwrap() error { return e.Err }

// ExhaustedError is the terminal failure after the retry budget is spent.
// It carries what an operator needs to reproduce the failure offline.
type ExhaustedError struct {
	Attempts          int
	LastDiagnostic    string
	LastCandidatePath string
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("conversion failed after %d attempts", e.Attempts)
	if e.LastCandidatePath != "" {
		msg += fmt.Sprintf(" (last candidate saved at %s)", e.LastCandidatePath)
	}
	return msg
}
