package ports

import (
	"context"
	"time"

	"github.com/devbush/docscribe/internal/domain"
)

// RateLimiter paces provider calls against request and token budgets.
type RateLimiter interface {
	// WaitTokens blocks until a request of the given token estimate fits the budget.
	WaitTokens(ctx context.Context, tokens int) error

	// RecordUsage corrects the latest reservation with the actual token count.
	RecordUsage(actual int)
}

// UsageTracker accumulates token usage and converts it to dollars.
type UsageTracker interface {
	AddUsage(inputTokens, outputTokens int)
	Cost(model string, batch bool) float64
	Estimate(model string, inputTokens, outputTokens int, batch bool) float64
}

// SessionStore persists the progress of the current processing session.
type SessionStore interface {
	// Update applies a delta and returns the new state.
	Update(delta domain.StateDelta) (*domain.ProcessingState, error)

	// CreateCheckpoint snapshots the active session.
	CreateCheckpoint() (string, error)

	// State returns the current state, or nil when there is no session.
	State() (*domain.ProcessingState, error)
}

// Recorder receives operational measurements. Implementations must accept
// calls on a nil receiver.
type Recorder interface {
	DocumentProcessed(outcome domain.Outcome)
	ProviderCall(provider string, err error, duration time.Duration)
	Retry(err error)
	Tokens(usage domain.Usage)
	SetCost(dollars float64)
	ValidationIssue(kind string)
}
