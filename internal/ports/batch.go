package ports

import (
	"context"
	"io"

	"github.com/devbush/docscribe/internal/domain"
)

// BatchProvider handles the provider's asynchronous bulk job API.
type BatchProvider interface {
	// Request encoding

	// EncodeRequest serializes one document into a single JSONL line.
	EncodeRequest(req TranscribeRequest) (*domain.BatchRequest, error)

	// DecodeResult parses one line of a downloaded output file.
	DecodeResult(line []byte) (*domain.BatchResult, error)

	// DecodeCompletion parses the response body of a successful result.
	DecodeCompletion(result *domain.BatchResult) (*Completion, error)

	// Job lifecycle

	// UploadFile uploads a prepared JSONL file and returns its file ID.
	UploadFile(ctx context.Context, name string, data []byte) (string, error)

	// CreateJob starts a batch job over an uploaded file.
	CreateJob(ctx context.Context, inputFileID string, metadata map[string]string) (*domain.BatchJob, error)

	// GetJob fetches the current status of a job.
	GetJob(ctx context.Context, jobID string) (*domain.BatchJob, error)

	// CancelJob requests cancellation of a running job.
	CancelJob(ctx context.Context, jobID string) (*domain.BatchJob, error)

	// DownloadFile streams the content of an output or error file.
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// JobStore persists batch job metadata for crash recovery.
type JobStore interface {
	// List returns all tracked jobs, oldest first.
	List() ([]domain.BatchJob, error)

	// Get returns a job by ID, or domain.ErrJobNotFound.
	Get(id string) (*domain.BatchJob, error)

	// Upsert inserts or replaces a job record.
	Upsert(job *domain.BatchJob) error
}
