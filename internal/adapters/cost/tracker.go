package cost

import "sync"

// Tracker accumulates token usage across concurrent workers
type Tracker struct {
	table Table

	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
}

// NewTracker creates a tracker priced by table
func NewTracker(table Table) *Tracker {
	return &Tracker{table: table}
}

// AddUsage adds one call's token counts
func (t *Tracker) AddUsage(inputTokens, outputTokens int) {
	t.mu.Lock()
	t.inputTokens += int64(inputTokens)
	t.outputTokens += int64(outputTokens)
	t.mu.Unlock()
}

// Totals returns the accumulated input and output token counts
func (t *Tracker) Totals() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTokens, t.outputTokens
}

// Cost returns the accumulated cost for model, discounted in batch mode
func (t *Tracker) Cost(model string, batch bool) float64 {
	in, out := t.Totals()
	return t.table.Estimate(model, in, out, batch)
}

// Estimate prices a single call without recording it
func (t *Tracker) Estimate(model string, inputTokens, outputTokens int, batch bool) float64 {
	return t.table.Estimate(model, int64(inputTokens), int64(outputTokens), batch)
}

// Reset zeroes the counters
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.inputTokens = 0
	t.outputTokens = 0
	t.mu.Unlock()
}

// Table returns the pricing table in use
func (t *Tracker) Table() Table {
	return t.table
}
