// Package usage accumulates per-call oracle usage for cost reporting.
package usage

// Pricing per 1k units, matching the published Gemini Pro rates.
// Update these if the model pricing changes.
const (
	costPer1kInput  = 0.00125
	costPer1kOutput = 0.010
)

// Record is the usage reported by a single oracle call.
// Degraded calls report a zero Record.
type Record struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// IsZero reports whether the record carries no usage.
func (r Record) IsZero() bool {
	return r.Input == 0 && r.Output == 0
}

// Totals is the running sum over one conversion session. It only grows;
// it is owned by the session and read once at session end.
type Totals struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Calls  int   `json:"calls"`
}

// Add folds a per-call record into the totals. Zero-usage records from
// degraded calls still count as calls.
func (t *Totals) Add(r Record) {
	t.Input += int64(r.Input)
	t.Output += int64(r.Output)
	t.Calls++
}

// EstimatedCost returns the estimated spend in USD. Image input is not
// included in the estimate.
func (t Totals) EstimatedCost() float64 {
	return float64(t.Input)/1000*costPer1kInput + float64(t.Output)/1000*costPer1kOutput
}
