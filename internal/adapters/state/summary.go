package state

import (
	"fmt"
	"strings"
	"time"
)

// Summary is a human-oriented view of the session progress
type Summary struct {
	SessionID          string
	TotalDocuments     int
	Processed          int
	Successful         int
	Failed             int
	Skipped            int
	Remaining          int
	SuccessRate        float64 // percent
	CostSoFar          float64
	AverageConfidence  float64
	LowConfidenceCount int
	BatchesCompleted   int
	ProcessingSpeed    float64 // documents per minute
	ETA                time.Duration
	Elapsed            time.Duration
}

// Summary returns the current session summary, or nil when there is no session
func (m *Manager) Summary() (*Summary, error) {
	st, err := m.State()
	if err != nil || st == nil {
		return nil, err
	}

	return &Summary{
		SessionID:          st.SessionID,
		TotalDocuments:     st.TotalDocuments,
		Processed:          st.Processed,
		Successful:         st.Successful,
		Failed:             st.Failed,
		Skipped:            st.Skipped,
		Remaining:          st.Remaining,
		SuccessRate:        st.SuccessRate(),
		CostSoFar:          st.CostSoFar,
		AverageConfidence:  st.AverageConfidence,
		LowConfidenceCount: st.LowConfidenceCount,
		BatchesCompleted:   st.BatchesCompleted,
		ProcessingSpeed:    st.ProcessingSpeed,
		ETA:                time.Duration(st.EstimatedTimeRemaining * float64(time.Minute)),
		Elapsed:            st.LastUpdated.Sub(st.StartTime),
	}, nil
}

// String renders the summary as an aligned text block
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:        %s\n", s.SessionID)
	fmt.Fprintf(&b, "Progress:       %d/%d (%d remaining)\n", s.Processed, s.TotalDocuments, s.Remaining)
	fmt.Fprintf(&b, "Successful:     %d\n", s.Successful)
	fmt.Fprintf(&b, "Failed:         %d\n", s.Failed)
	fmt.Fprintf(&b, "Skipped:        %d\n", s.Skipped)
	fmt.Fprintf(&b, "Success rate:   %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "Cost so far:    $%.2f\n", s.CostSoFar)
	fmt.Fprintf(&b, "Avg confidence: %.2f (%d low)\n", s.AverageConfidence, s.LowConfidenceCount)
	fmt.Fprintf(&b, "Speed:          %.1f docs/min\n", s.ProcessingSpeed)
	fmt.Fprintf(&b, "ETA:            %s", s.ETA.Round(time.Second))
	return b.String()
}
