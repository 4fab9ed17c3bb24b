package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/devbush/docscribe/internal/domain"
)

const recentLines = 10

// renderProgressBar draws a fixed-width bar with an arrow head
// current=0, total=10, width=10 → [          ]
// current=3, total=10, width=10 → [==>       ]
// current=5, total=10, width=10 → [=====>    ]
// current=10, total=10, width=10 → [==========]
func renderProgressBar(current, total, width int) string {
	switch {
	case total <= 0 || current <= 0:
		return "[" + strings.Repeat(" ", width) + "]"
	case current >= total:
		return "[" + strings.Repeat("=", width) + "]"
	}

	ratio := float64(current) / float64(total)
	head := min(max(int(ratio*float64(width)+0.5), 1), width)

	// From the halfway mark the head sits after the filled part
	equals := head - 1
	if ratio >= 0.5 {
		equals = head
	}
	equals = min(max(equals, 0), width-1)

	return "[" + strings.Repeat("=", equals) + ">" + strings.Repeat(" ", width-equals-1) + "]"
}

type failure struct {
	id  string
	err string
}

// BatchProgress renders a running count of processed documents with the
// most recent results underneath
type BatchProgress struct {
	out   io.Writer
	quiet bool

	mu         sync.Mutex
	total      int
	done       int
	successful int
	failed     int
	skipped    int
	cost       float64
	eta        float64
	recent     []string
	failures   []failure
	drawn      int
}

// NewBatchProgress creates a progress display. alreadyDone counts documents
// recorded by an earlier run of the same session.
func NewBatchProgress(out io.Writer, total, alreadyDone int, quiet bool) *BatchProgress {
	return &BatchProgress{
		out:   out,
		quiet: quiet,
		total: max(total, 0),
		done:  max(alreadyDone, 0),
	}
}

// AddResult records one document. st may be nil on the batch-API path.
func (bp *BatchProgress) AddResult(res domain.DocumentResult, st *domain.ProcessingState) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.done++
	bp.cost += res.Cost
	if st != nil {
		bp.done = st.Processed
		bp.cost = st.CostSoFar
		bp.eta = st.EstimatedTimeRemaining
	}

	var line string
	switch res.Outcome {
	case domain.OutcomeSuccess:
		bp.successful++
		line = fmt.Sprintf("✓ %s (%.1fs, confidence %.2f)", res.DocumentID, res.Duration.Seconds(), res.Confidence)
		if len(res.Issues) > 0 {
			line += " [review]"
		}
	case domain.OutcomeSkipped:
		bp.skipped++
		line = fmt.Sprintf("- %s [exists]", res.DocumentID)
	default:
		bp.failed++
		bp.failures = append(bp.failures, failure{id: res.DocumentID, err: res.Error})
		line = fmt.Sprintf("✗ %s: %s", res.DocumentID, res.Error)
	}

	bp.recent = append(bp.recent, line)
	if len(bp.recent) > recentLines {
		bp.recent = bp.recent[len(bp.recent)-recentLines:]
	}
	bp.render()
}

func (bp *BatchProgress) render() {
	if bp.quiet {
		return
	}
	if bp.drawn > 0 {
		fmt.Fprintf(bp.out, "\033[%dA\033[J", bp.drawn)
	}

	percent := 0
	if bp.total > 0 {
		percent = bp.done * 100 / bp.total
	}
	header := fmt.Sprintf("Processing %d/%d documents %s %d%%  %s",
		bp.done, bp.total, renderProgressBar(bp.done, bp.total, 20), percent, FormatCost(bp.cost))
	if bp.eta > 0 {
		header += "  ETA " + FormatMinutes(bp.eta)
	}
	fmt.Fprintln(bp.out, header)
	for _, line := range bp.recent {
		fmt.Fprintln(bp.out, line)
	}
	bp.drawn = 1 + len(bp.recent)
}

// Complete prints the final tally and every failure
func (bp *BatchProgress) Complete(finished bool) {
	if bp.quiet {
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	fmt.Fprintln(bp.out)
	title := "Run complete"
	if !finished {
		title = "Run stopped"
	}
	fmt.Fprintln(bp.out, TitleStyle.Render(title))
	fmt.Fprintf(bp.out, "  %s  %s  %s  cost %s\n",
		SuccessStyle.Render(fmt.Sprintf("%d succeeded", bp.successful)),
		ErrorStyle.Render(fmt.Sprintf("%d failed", bp.failed)),
		MutedStyle.Render(fmt.Sprintf("%d skipped", bp.skipped)),
		FormatCost(bp.cost))

	if len(bp.failures) > 0 {
		fmt.Fprintln(bp.out, "\nFailures:")
		for _, f := range bp.failures {
			fmt.Fprintf(bp.out, "  ✗ %s: %s\n", f.id, f.err)
		}
	}
}

// Counts returns the successful, failed and skipped totals seen so far
func (bp *BatchProgress) Counts() (successful, failed, skipped int) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.successful, bp.failed, bp.skipped
}
