package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the provider-side status of a batch job
type JobStatus string

const (
	JobValidating JobStatus = "validating"
	JobInProgress JobStatus = "in_progress"
	JobFinalizing JobStatus = "finalizing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobExpired    JobStatus = "expired"
	JobCancelling JobStatus = "cancelling"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the job will not change status again
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobExpired, JobCancelled:
		return true
	}
	return false
}

// RequestCounts holds per-status request counts of a batch job
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchJob is the locally tracked metadata of a submitted batch job
type BatchJob struct {
	ID            string        `json:"id"`
	InputFileID   string        `json:"input_file_id"`
	InputFile     string        `json:"input_file"`
	Status        JobStatus     `json:"status"`
	Model         string        `json:"model"`
	RequestCount  int           `json:"request_count"`
	RequestCounts RequestCounts `json:"request_counts"`
	OutputFileID  string        `json:"output_file_id,omitempty"`
	ErrorFileID   string        `json:"error_file_id,omitempty"`
	RawOutputPath string        `json:"raw_output_path,omitempty"`
	Processed     bool          `json:"processed"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job reached a terminal status
func (j *BatchJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// BatchRequest is one document serialized for a batch job
type BatchRequest struct {
	CustomID   string
	SourcePath string
	Model      string
	Payload    []byte // one JSONL line, without the trailing newline
}

// BatchResult is one line of a downloaded batch output file
type BatchResult struct {
	CustomID   string
	StatusCode int
	Body       json.RawMessage
	Error      *ProviderError
}

// Failed reports whether the provider returned an error for this request
func (r *BatchResult) Failed() bool {
	return r.Error != nil || r.StatusCode != 200
}
