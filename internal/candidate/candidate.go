// Package candidate models generated builder programs and extracts them
// from raw oracle responses.
package candidate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCodeBlock reports that the oracle response contained no fenced code
// block. Extract still returns the whole trimmed response as a usable
// fallback; callers should log the condition and carry on.
var ErrNoCodeBlock = errors.New("no fenced code block in oracle response")

// Candidate is one generated builder program awaiting validation by
// execution. It is immutable; each repair supersedes it with a new value.
type Candidate struct {
	Source     string
	Provenance string
}

// Initial tags a candidate as the product of the one-shot synthesis call.
func Initial(source string) Candidate {
	return Candidate{Source: source, Provenance: "initial"}
}

// RepairOf tags a candidate as the repair of a given failed attempt.
func RepairOf(source string, attempt int) Candidate {
	return Candidate{Source: source, Provenance: fmt.Sprintf("repair-of-attempt-%d", attempt)}
}

// LooksRunnable is a cheap sanity signal, not a gate: a script with neither
// a main function nor a __main__ guard is probably a fragment.
func (c Candidate) LooksRunnable() bool {
	return strings.Contains(c.Source, "def main(") || strings.Contains(c.Source, "__main__")
}

// Extract returns the contents of the first fenced code block in text.
// Accepted fences are ```python, ```py and a bare ```. When no block is
// found it returns the whole trimmed response together with ErrNoCodeBlock
// so the caller can still attempt execution.
func Extract(text string) (string, error) {
	for _, fence := range []string{"```python\n", "```python\r\n", "```py\n", "```\n"} {
		idx := strings.Index(text, fence)
		if idx == -1 {
			continue
		}
		start := idx + len(fence)
		end := strings.Index(text[start:], "```")
		if end == -1 {
			continue
		}
		return strings.TrimSpace(text[start : start+end]), nil
	}
	return strings.TrimSpace(text), ErrNoCodeBlock
}
