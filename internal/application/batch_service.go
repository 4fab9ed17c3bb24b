package application

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/devbush/docscribe/internal/adapters/fsutil"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/logging"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// BatchConfig configures the batch-API path
type BatchConfig struct {
	Dir                string // where JSONL inputs and raw outputs are kept
	MaxRequestsPerFile int
	Resume             bool
	PollInterval       time.Duration
	Timeout            time.Duration
	RunID              string // attached to submitted jobs as metadata
}

// RunOptions controls RunAll
type RunOptions struct {
	DryRun   bool
	Observer func(res domain.DocumentResult)
}

// BatchRunSummary aggregates a RunAll call
type BatchRunSummary struct {
	Files      []string
	Jobs       []string
	Successful int
	Failed     int
	Skipped    int
	Cost       float64
}

// BatchService drives the provider's asynchronous batch API: prepare JSONL,
// upload, submit, poll, download and split results into output files.
type BatchService struct {
	fs         afero.Fs
	provider   ports.BatchProvider
	jobs       ports.JobStore
	loader     ports.DocumentLoader
	outputs    ports.OutputStore
	transcribe *TranscribeService
	cfg        BatchConfig
	log        logrus.FieldLogger
	metrics    ports.Recorder
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	onPoll     func(job *domain.BatchJob)
}

// NewBatchService creates a batch-API orchestrator. transcribe supplies the
// prompt and the shared response checks.
func NewBatchService(
	fs afero.Fs,
	provider ports.BatchProvider,
	jobs ports.JobStore,
	loader ports.DocumentLoader,
	outputs ports.OutputStore,
	transcribe *TranscribeService,
	cfg BatchConfig,
	log logrus.FieldLogger,
	metrics ports.Recorder,
) *BatchService {
	if cfg.MaxRequestsPerFile < 1 {
		cfg.MaxRequestsPerFile = 50000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 24 * time.Hour
	}
	if log == nil {
		log = logging.Discard()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &BatchService{
		fs:         fs,
		provider:   provider,
		jobs:       jobs,
		loader:     loader,
		outputs:    outputs,
		transcribe: transcribe,
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// SetPollObserver registers a callback for every successful status refresh
func (s *BatchService) SetPollObserver(fn func(job *domain.BatchJob)) {
	s.onPoll = fn
}

// PrepareBatch writes one JSONL request per document into files of at most
// MaxRequestsPerFile lines and returns their paths. Documents that cannot be
// loaded or encoded are logged and left out.
func (s *BatchService) PrepareBatch(ctx context.Context, docs []domain.Document) ([]string, error) {
	if s.cfg.Resume {
		docs = s.withoutOutputs(docs)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	stamp := s.now().Format(domain.SessionIDFormat)
	var files []string
	for offset, n := 0, 1; offset < len(docs); offset, n = offset+s.cfg.MaxRequestsPerFile, n+1 {
		chunk := docs[offset:min(offset+s.cfg.MaxRequestsPerFile, len(docs))]
		path := filepath.Join(s.cfg.Dir, fmt.Sprintf("batch_input_%s_%d.jsonl", stamp, n))

		written, err := s.writeInput(ctx, path, chunk)
		if err != nil {
			return files, fmt.Errorf("failed to write %s: %w", path, err)
		}
		if written == 0 {
			_ = s.fs.Remove(path)
			continue
		}
		s.log.WithFields(logrus.Fields{"file": path, "requests": written}).Info("prepared batch input")
		files = append(files, path)
	}
	return files, nil
}

func (s *BatchService) withoutOutputs(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if s.outputs.Exists(doc.ID) {
			continue
		}
		out = append(out, doc)
	}
	if skipped := len(docs) - len(out); skipped > 0 {
		s.log.WithField("skipped", skipped).Info("leaving out documents that already have output")
	}
	return out
}

func (s *BatchService) writeInput(ctx context.Context, path string, docs []domain.Document) (int, error) {
	prompt := s.transcribe.opts.Prompt
	written := 0
	err := fsutil.WriteAtomic(s.fs, path, 0644, func(w io.Writer) error {
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			log := s.log.WithField("document_id", doc.ID)

			loaded, err := s.loader.Load(ctx, doc)
			if err != nil {
				log.WithError(err).Warn("skipping document")
				continue
			}
			req, err := s.provider.EncodeRequest(ports.TranscribeRequest{Document: doc, Content: loaded, Prompt: prompt})
			if err != nil {
				log.WithError(err).Warn("skipping document")
				continue
			}
			if _, err := w.Write(append(req.Payload, '\n')); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	return written, err
}

// SubmitBatch uploads a prepared file, creates a job over it and records the job
func (s *BatchService) SubmitBatch(ctx context.Context, file string) (*domain.BatchJob, error) {
	data, err := afero.ReadFile(s.fs, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch input: %w", err)
	}
	name := filepath.Base(file)

	fileID, err := s.provider.UploadFile(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	job, err := s.provider.CreateJob(ctx, fileID, map[string]string{
		"source_file": name,
		"run_id":      s.cfg.RunID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch job for %s: %w", name, err)
	}

	now := s.now()
	job.InputFile = file
	job.RequestCount = bytes.Count(data, []byte{'\n'})
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := s.jobs.Upsert(job); err != nil {
		return nil, fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"file":     name,
		"requests": job.RequestCount,
	}).Info("batch job submitted")
	return job, nil
}

// JobStatus fetches the provider's view of a job and records it
func (s *BatchService) JobStatus(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	job, err := s.provider.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.record(job)
}

// CancelBatch asks the provider to cancel a job
func (s *BatchService) CancelBatch(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	job, err := s.provider.CancelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.WithField("job_id", jobID).Info("batch job cancellation requested")
	return s.record(job)
}

// ListJobs returns the locally tracked jobs, oldest first
func (s *BatchService) ListJobs() ([]domain.BatchJob, error) {
	return s.jobs.List()
}

// record merges fresh provider data into the tracked job and saves it
func (s *BatchService) record(fresh *domain.BatchJob) (*domain.BatchJob, error) {
	now := s.now()
	job := *fresh
	if prev, err := s.jobs.Get(fresh.ID); err == nil {
		job.InputFile = prev.InputFile
		job.RequestCount = prev.RequestCount
		job.RawOutputPath = prev.RawOutputPath
		job.Processed = prev.Processed
		job.CompletedAt = prev.CompletedAt
		if job.Model == "" {
			job.Model = prev.Model
		}
		if !prev.CreatedAt.IsZero() {
			job.CreatedAt = prev.CreatedAt
		}
	}
	if job.IsTerminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	job.UpdatedAt = now

	if err := s.jobs.Upsert(&job); err != nil {
		return nil, fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return &job, nil
}

// PollUntilComplete refreshes the job every interval until it reaches a
// terminal status. It returns domain.ErrPollTimeout with the last known job
// when timeout elapses first. Zero values use the configured defaults.
func (s *BatchService) PollUntilComplete(ctx context.Context, jobID string, interval, timeout time.Duration) (*domain.BatchJob, error) {
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	log := s.log.WithField("job_id", jobID)
	deadline := s.now().Add(timeout)

	var last *domain.BatchJob
	for {
		job, err := s.JobStatus(ctx, jobID)
		switch {
		case err == nil:
			last = job
			if s.onPoll != nil {
				s.onPoll(job)
			}
			if job.IsTerminal() {
				log.WithField("status", job.Status).Info("batch job finished")
				return job, nil
			}
			log.WithFields(logrus.Fields{
				"status":    job.Status,
				"completed": job.RequestCounts.Completed,
				"failed":    job.RequestCounts.Failed,
				"total":     job.RequestCounts.Total,
			}).Info("batch job in progress")
		case errors.Is(err, domain.ErrJobNotFound) || ctx.Err() != nil:
			return last, err
		default:
			log.WithError(err).Warn("failed to poll batch job")
		}

		if !s.now().Before(deadline) {
			return last, fmt.Errorf("%w: %s after %s", domain.ErrPollTimeout, jobID, timeout)
		}
		if err := s.sleep(ctx, interval); err != nil {
			return last, err
		}
	}
}

// RetrieveResults downloads the job's output, keeps a zstd-compressed copy in
// the batch directory and yields one parsed result per line. Lines that cannot
// be parsed are logged and skipped. The error file, if any, is yielded after
// the output file.
func (s *BatchService) RetrieveResults(ctx context.Context, jobID string, yield func(*domain.BatchResult) error) error {
	job, err := s.JobStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OutputFileID == "" && job.ErrorFileID == "" {
		return fmt.Errorf("batch job %s has no output yet (status %s)", jobID, job.Status)
	}

	if job.OutputFileID != "" {
		path := filepath.Join(s.cfg.Dir, jobID+"_output.jsonl.zst")
		if err := s.archive(ctx, job.OutputFileID, path); err != nil {
			return err
		}
		job.RawOutputPath = path
		if err := s.jobs.Upsert(job); err != nil {
			return fmt.Errorf("failed to record job %s: %w", jobID, err)
		}
		if err := s.stream(ctx, path, yield); err != nil {
			return err
		}
	}

	if job.ErrorFileID != "" {
		path := filepath.Join(s.cfg.Dir, jobID+"_errors.jsonl.zst")
		if err := s.archive(ctx, job.ErrorFileID, path); err != nil {
			return err
		}
		return s.stream(ctx, path, yield)
	}
	return nil
}

// archive downloads fileID into a zstd file at path unless it is already there
func (s *BatchService) archive(ctx context.Context, fileID, path string) error {
	if ok, _ := afero.Exists(s.fs, path); ok {
		return nil
	}

	rc, err := s.provider.DownloadFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", fileID, err)
	}
	defer rc.Close()

	err = fsutil.WriteAtomic(s.fs, path, 0644, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if _, err := io.Copy(enc, rc); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", path, err)
	}
	s.log.WithField("path", path).Debug("stored raw batch output")
	return nil
}

func (s *BatchService) stream(ctx context.Context, path string, yield func(*domain.BatchResult) error) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			result, err := s.provider.DecodeResult(line)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"file": path, "line": lineNo}).Warn("skipping unreadable result line")
			} else if err := yield(result); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read %s: %w", path, readErr)
		}
	}
}

// ProcessResult turns one batch result into an output file. A document that
// already has output is skipped. The returned error explains a failure.
func (s *BatchService) ProcessResult(ctx context.Context, result *domain.BatchResult) (domain.DocumentResult, error) {
	id := result.CustomID
	if s.outputs.Exists(id) {
		return domain.DocumentResult{DocumentID: id, Outcome: domain.OutcomeSkipped}, nil
	}

	completion, err := s.provider.DecodeCompletion(result)
	if err != nil {
		return domain.DocumentResult{DocumentID: id, Outcome: domain.OutcomeFailed, Attempts: 1, Error: err.Error()}, err
	}
	res, err := s.transcribe.ProcessBatchResult(ctx, id, completion)
	return *res, err
}

// RunAll prepares, submits, polls and retrieves every document in one go.
// With DryRun it stops after writing the input files.
func (s *BatchService) RunAll(ctx context.Context, docs []domain.Document, opts RunOptions) (*BatchRunSummary, error) {
	sum := &BatchRunSummary{}

	files, err := s.PrepareBatch(ctx, docs)
	sum.Files = files
	if err != nil || opts.DryRun || len(files) == 0 {
		return sum, err
	}

	var submitted []*domain.BatchJob
	for _, file := range files {
		job, err := s.SubmitBatch(ctx, file)
		if err != nil {
			return sum, err
		}
		submitted = append(submitted, job)
		sum.Jobs = append(sum.Jobs, job.ID)
	}

	for _, job := range submitted {
		if err := s.collect(ctx, job.ID, sum, opts.Observer); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// collect waits for a job and processes all of its results
func (s *BatchService) collect(ctx context.Context, jobID string, sum *BatchRunSummary, observe func(domain.DocumentResult)) error {
	job, err := s.PollUntilComplete(ctx, jobID, 0, 0)
	if err != nil {
		return err
	}
	if job.Status != domain.JobCompleted && job.OutputFileID == "" {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "status": job.Status}).Warn("batch job ended without output")
		return nil
	}

	return s.processResults(ctx, jobID, sum, observe)
}

// CollectResults processes every result of a finished job into output files
// and marks the job processed. Documents with existing output are skipped.
func (s *BatchService) CollectResults(ctx context.Context, jobID string, observe func(domain.DocumentResult)) (*BatchRunSummary, error) {
	sum := &BatchRunSummary{Jobs: []string{jobID}}
	err := s.processResults(ctx, jobID, sum, observe)
	return sum, err
}

func (s *BatchService) processResults(ctx context.Context, jobID string, sum *BatchRunSummary, observe func(domain.DocumentResult)) error {
	log := s.log.WithField("job_id", jobID)
	err := s.RetrieveResults(ctx, jobID, func(r *domain.BatchResult) error {
		res, err := s.ProcessResult(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).WithField("document_id", r.CustomID).Warn("batch result failed")
		}
		switch res.Outcome {
		case domain.OutcomeSuccess:
			sum.Successful++
		case domain.OutcomeSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
		sum.Cost += res.Cost
		s.metrics.DocumentProcessed(res.Outcome)
		if observe != nil {
			observe(res)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.markProcessed(jobID)
}

func (s *BatchService) markProcessed(jobID string) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}
	job.Processed = true
	job.UpdatedAt = s.now()
	return s.jobs.Upsert(job)
}
