package domain

import "time"

// SessionIDFormat is the timestamp layout used for session ids
const SessionIDFormat = "20060102_150405"

// LowConfidenceDoc records a document that needs manual review
type LowConfidenceDoc struct {
	DocumentID string  `json:"document_id"`
	Confidence float64 `json:"confidence"`
}

// ProcessingState is the resumable progress of one processing session
type ProcessingState struct {
	SessionID     string    `json:"session_id"`
	PromptVersion string    `json:"prompt_version"`
	BatchSize     int       `json:"batch_size"`
	StartTime     time.Time `json:"start_time"`
	LastUpdated   time.Time `json:"last_updated"`

	TotalDocuments int `json:"total_documents"`
	Processed      int `json:"processed"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	Remaining      int `json:"remaining"`

	CostSoFar          float64   `json:"cost_so_far"`
	AverageConfidence  float64   `json:"average_confidence"`
	ConfidenceScores   []float64 `json:"confidence_scores"`
	LowConfidenceCount int       `json:"low_confidence_count"`
	BatchesCompleted   int       `json:"batches_completed"`

	ProcessingSpeed        float64 `json:"processing_speed"`
	EstimatedTimeRemaining float64 `json:"estimated_time_remaining_minutes"`

	FailedDocuments        []string           `json:"failed_documents"`
	LowConfidenceDocuments []LowConfidenceDoc `json:"low_confidence_documents"`
}

// StateDelta is one incremental change to the processing state
type StateDelta struct {
	Processed        int
	Successful       int
	Failed           int
	Skipped          int
	Cost             float64
	Confidence       *float64
	FailedDocument   string
	LowConfidence    *LowConfidenceDoc
	BatchesCompleted int
}

// IsComplete reports whether every document has been processed
func (s *ProcessingState) IsComplete() bool {
	return s.Remaining <= 0
}

// SuccessRate returns successful/processed as a percentage
func (s *ProcessingState) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Processed) * 100
}

// Clone returns a deep copy of the state
func (s *ProcessingState) Clone() *ProcessingState {
	c := *s
	c.ConfidenceScores = append([]float64(nil), s.ConfidenceScores...)
	c.FailedDocuments = append([]string(nil), s.FailedDocuments...)
	c.LowConfidenceDocuments = append([]LowConfidenceDoc(nil), s.LowConfidenceDocuments...)
	return &c
}
