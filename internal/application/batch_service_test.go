package application

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devbush/docscribe/internal/adapters/jobs"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

type fakeLine struct {
	CustomID string `json:"custom_id"`
	Status   int    `json:"status"`
	Content  string `json:"content,omitempty"`
}

// fakeBatchProvider completes each job on its second poll. Documents listed in
// failIDs come back with a 500 status.
type fakeBatchProvider struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	jobs     map[string]*domain.BatchJob
	files    map[string]string
	polls    map[string]int
	failIDs  map[string]bool
	neverEnd bool
	seq      int
}

func newFakeBatchProvider(failIDs ...string) *fakeBatchProvider {
	f := &fakeBatchProvider{
		uploads: map[string][]byte{},
		jobs:    map[string]*domain.BatchJob{},
		files:   map[string]string{},
		polls:   map[string]int{},
		failIDs: map[string]bool{},
	}
	for _, id := range failIDs {
		f.failIDs[id] = true
	}
	return f
}

func (f *fakeBatchProvider) EncodeRequest(req ports.TranscribeRequest) (*domain.BatchRequest, error) {
	payload, _ := json.Marshal(map[string]any{"custom_id": req.Document.ID, "pages": req.Content.Pages})
	return &domain.BatchRequest{CustomID: req.Document.ID, SourcePath: req.Document.Path, Payload: payload}, nil
}

func (f *fakeBatchProvider) DecodeResult(line []byte) (*domain.BatchResult, error) {
	var l fakeLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResponseParse, err)
	}
	r := &domain.BatchResult{CustomID: l.CustomID, StatusCode: l.Status, Body: json.RawMessage(l.Content)}
	if l.Status != 200 {
		r.Error = &domain.ProviderError{Kind: domain.KindAPI, StatusCode: l.Status, Message: "server error"}
	}
	return r, nil
}

func (f *fakeBatchProvider) DecodeCompletion(r *domain.BatchResult) (*ports.Completion, error) {
	if r.Failed() {
		return nil, r.Error
	}
	return completion(string(r.Body)), nil
}

func (f *fakeBatchProvider) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("file-%d", f.seq)
	f.uploads[id] = data
	return id, nil
}

func (f *fakeBatchProvider) CreateJob(ctx context.Context, inputFileID string, metadata map[string]string) (*domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	job := &domain.BatchJob{ID: fmt.Sprintf("batch-%d", f.seq), InputFileID: inputFileID, Status: domain.JobValidating, Model: "test-model"}
	f.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (f *fakeBatchProvider) GetJob(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	f.polls[jobID]++
	if f.neverEnd || f.polls[jobID] < 2 || job.IsTerminal() {
		if !job.IsTerminal() {
			job.Status = domain.JobInProgress
		}
		return cloneJob(job), nil
	}

	var out strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(f.uploads[job.InputFileID]))
	for sc.Scan() {
		var req struct {
			CustomID string `json:"custom_id"`
		}
		_ = json.Unmarshal(sc.Bytes(), &req)
		line := fakeLine{CustomID: req.CustomID, Status: 200, Content: validContent(req.CustomID, 0.9)}
		if f.failIDs[req.CustomID] {
			line = fakeLine{CustomID: req.CustomID, Status: 500}
		}
		b, _ := json.Marshal(line)
		out.Write(b)
		out.WriteByte('\n')
	}
	out.WriteString("not a result line\n")

	job.Status = domain.JobCompleted
	job.OutputFileID = "out-" + jobID
	f.files[job.OutputFileID] = out.String()
	return cloneJob(job), nil
}

func (f *fakeBatchProvider) CancelJob(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	job.Status = domain.JobCancelling
	return cloneJob(job), nil
}

func (f *fakeBatchProvider) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(strings.NewReader(f.files[fileID])), nil
}

func cloneJob(j *domain.BatchJob) *domain.BatchJob {
	c := *j
	return &c
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return ctx.Err()
}

type batchFixture struct {
	svc      *BatchService
	fs       afero.Fs
	provider *fakeBatchProvider
	outputs  *fakeOutputs
	jobs     *jobs.Store
	clock    *fakeClock
}

func newBatchFixture(t *testing.T, maxPerFile int, provider *fakeBatchProvider, existing ...string) *batchFixture {
	t.Helper()
	f := &batchFixture{
		fs:       afero.NewMemMapFs(),
		provider: provider,
		outputs:  newFakeOutputs(existing...),
		clock:    &fakeClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
	}
	f.jobs = jobs.NewStore(f.fs, "/work/batch_jobs.json")
	loader := &fakeLoader{pages: 1}
	transcribe := NewTranscribeService(loader, &scriptedTranscriber{steps: []scriptStep{{err: errors.New("realtime not used")}}},
		f.outputs, &fakeLimiter{}, &fakeCosts{}, nil, nil, nil,
		TranscribeOptions{Prompt: ports.Prompt{System: "s", User: "u"}})

	f.svc = NewBatchService(f.fs, provider, f.jobs, loader, f.outputs, transcribe, BatchConfig{
		Dir:                "/work/batches",
		MaxRequestsPerFile: maxPerFile,
		Resume:             true,
		PollInterval:       time.Minute,
		Timeout:            time.Hour,
		RunID:              "run-1",
	}, nil, nil)
	f.svc.now = f.clock.now
	f.svc.sleep = f.clock.sleep
	return f
}

func countLines(t *testing.T, fs afero.Fs, path string) int {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return bytes.Count(data, []byte{'\n'})
}

func TestBatchService_PrepareBatchChunks(t *testing.T) {
	tests := []struct {
		name      string
		docs      int
		max       int
		existing  []string
		wantLines []int
	}{
		{"exact multiple", 4, 2, nil, []int{2, 2}},
		{"remainder spills", 5, 2, nil, []int{2, 2, 1}},
		{"single file", 3, 50000, nil, []int{3}},
		{"existing outputs left out", 5, 2, []string{"doc-0001"}, []int{2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBatchFixture(t, tt.max, newFakeBatchProvider(), tt.existing...)

			files, err := f.svc.PrepareBatch(context.Background(), makeDocs(tt.docs))
			if err != nil {
				t.Fatalf("PrepareBatch() error = %v", err)
			}
			if len(files) != len(tt.wantLines) {
				t.Fatalf("files = %v, want %d", files, len(tt.wantLines))
			}
			for i, path := range files {
				if want := fmt.Sprintf("/work/batches/batch_input_20260314_093000_%d.jsonl", i+1); path != want {
					t.Errorf("file %d = %s, want %s", i, path, want)
				}
				if got := countLines(t, f.fs, path); got != tt.wantLines[i] {
					t.Errorf("%s has %d lines, want %d", path, got, tt.wantLines[i])
				}
			}
		})
	}
}

func TestBatchService_SubmitBatch(t *testing.T) {
	f := newBatchFixture(t, 10, newFakeBatchProvider())
	files, _ := f.svc.PrepareBatch(context.Background(), makeDocs(3))

	job, err := f.svc.SubmitBatch(context.Background(), files[0])
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if job.RequestCount != 3 || job.InputFile != files[0] || job.CreatedAt.IsZero() {
		t.Errorf("job = %+v", job)
	}

	stored, err := f.jobs.Get(job.ID)
	if err != nil {
		t.Fatalf("job not recorded: %v", err)
	}
	if stored.InputFileID != job.InputFileID {
		t.Errorf("stored = %+v", stored)
	}
}

func TestBatchService_PollUntilComplete(t *testing.T) {
	f := newBatchFixture(t, 10, newFakeBatchProvider())
	files, _ := f.svc.PrepareBatch(context.Background(), makeDocs(2))
	job, _ := f.svc.SubmitBatch(context.Background(), files[0])

	done, err := f.svc.PollUntilComplete(context.Background(), job.ID, 0, 0)
	if err != nil {
		t.Fatalf("PollUntilComplete() error = %v", err)
	}
	if done.Status != domain.JobCompleted || done.CompletedAt == nil {
		t.Errorf("job = %+v, want completed with timestamp", done)
	}
	stored, _ := f.jobs.Get(job.ID)
	if stored.Status != domain.JobCompleted || stored.InputFile != files[0] {
		t.Errorf("stored job = %+v, want refreshed and merged", stored)
	}
}

func TestBatchService_PollTimeout(t *testing.T) {
	provider := newFakeBatchProvider()
	provider.neverEnd = true
	f := newBatchFixture(t, 10, provider)
	files, _ := f.svc.PrepareBatch(context.Background(), makeDocs(2))
	job, _ := f.svc.SubmitBatch(context.Background(), files[0])

	start := f.clock.t
	last, err := f.svc.PollUntilComplete(context.Background(), job.ID, 10*time.Minute, 30*time.Minute)
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("PollUntilComplete() error = %v, want ErrPollTimeout", err)
	}
	if last == nil || last.Status != domain.JobInProgress {
		t.Errorf("last = %+v, want in-progress job", last)
	}
	if elapsed := f.clock.t.Sub(start); elapsed != 30*time.Minute {
		t.Errorf("waited %v, want 30m", elapsed)
	}

	if _, err := f.svc.PollUntilComplete(context.Background(), "batch-missing", time.Minute, time.Hour); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("unknown job error = %v, want ErrJobNotFound", err)
	}
}

func TestBatchService_ProcessResult(t *testing.T) {
	f := newBatchFixture(t, 10, newFakeBatchProvider(), "doc-0001")
	ctx := context.Background()

	res, err := f.svc.ProcessResult(ctx, &domain.BatchResult{CustomID: "doc-0001", StatusCode: 200, Body: []byte(validContent("doc-0001", 0.9))})
	if err != nil || res.Outcome != domain.OutcomeSkipped {
		t.Errorf("existing output: %+v, %v, want skipped", res, err)
	}

	res, err = f.svc.ProcessResult(ctx, &domain.BatchResult{CustomID: "doc-0002", StatusCode: 500,
		Error: &domain.ProviderError{Kind: domain.KindAPI, StatusCode: 500}})
	if err == nil || res.Outcome != domain.OutcomeFailed {
		t.Errorf("provider failure: %+v, %v, want failed", res, err)
	}

	res, err = f.svc.ProcessResult(ctx, &domain.BatchResult{CustomID: "doc-0003", StatusCode: 200, Body: []byte("{not json")})
	if !errors.Is(err, domain.ErrResponseParse) || res.Outcome != domain.OutcomeFailed {
		t.Errorf("bad body: %+v, %v, want parse failure", res, err)
	}

	res, err = f.svc.ProcessResult(ctx, &domain.BatchResult{CustomID: "doc-0004", StatusCode: 200, Body: []byte(validContent("doc-0004", 0.9))})
	if err != nil || res.Outcome != domain.OutcomeSuccess || !f.outputs.Exists("doc-0004") {
		t.Errorf("good result: %+v, %v, want success", res, err)
	}
}

func TestBatchService_RunAll(t *testing.T) {
	provider := newFakeBatchProvider("doc-0003")
	f := newBatchFixture(t, 2, provider)

	var observed int
	sum, err := f.svc.RunAll(context.Background(), makeDocs(5), RunOptions{
		Observer: func(domain.DocumentResult) { observed++ },
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(sum.Files) != 3 || len(sum.Jobs) != 3 {
		t.Errorf("files = %d, jobs = %d, want 3 each", len(sum.Files), len(sum.Jobs))
	}
	if sum.Successful != 4 || sum.Failed != 1 || observed != 5 {
		t.Errorf("summary = %+v, observed = %d", sum, observed)
	}
	if sum.Cost <= 0 {
		t.Errorf("Cost = %v, want batch cost", sum.Cost)
	}

	tracked, _ := f.svc.ListJobs()
	if len(tracked) != 3 {
		t.Fatalf("tracked jobs = %d, want 3", len(tracked))
	}
	for _, job := range tracked {
		if !job.Processed || job.RawOutputPath == "" {
			t.Errorf("job %s processed=%v raw=%q", job.ID, job.Processed, job.RawOutputPath)
		}
	}

	// The raw copy is a zstd stream of the provider's output
	raw, err := f.fs.Open(tracked[0].RawOutputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	dec, err := zstd.NewReader(raw)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("raw output is not zstd: %v", err)
	}
	if !strings.Contains(string(data), `"custom_id":"doc-0000"`) {
		t.Errorf("raw output = %q", data)
	}

	// Retrieving again processes nothing new
	var again int
	err = f.svc.RetrieveResults(context.Background(), tracked[0].ID, func(r *domain.BatchResult) error {
		res, _ := f.svc.ProcessResult(context.Background(), r)
		if res.Outcome == domain.OutcomeSkipped {
			again++
		}
		return nil
	})
	if err != nil || again != 2 {
		t.Errorf("second retrieve skipped %d, err %v, want 2", again, err)
	}
}

func TestBatchService_RunAllDryRun(t *testing.T) {
	provider := newFakeBatchProvider()
	f := newBatchFixture(t, 2, provider)

	sum, err := f.svc.RunAll(context.Background(), makeDocs(3), RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(sum.Files) != 2 || len(sum.Jobs) != 0 || len(provider.uploads) != 0 {
		t.Errorf("dry run uploaded: files=%d jobs=%d uploads=%d", len(sum.Files), len(sum.Jobs), len(provider.uploads))
	}
}

func TestBatchService_CancelBatch(t *testing.T) {
	f := newBatchFixture(t, 10, newFakeBatchProvider())
	files, _ := f.svc.PrepareBatch(context.Background(), makeDocs(1))
	job, _ := f.svc.SubmitBatch(context.Background(), files[0])

	cancelled, err := f.svc.CancelBatch(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("CancelBatch() error = %v", err)
	}
	if cancelled.Status != domain.JobCancelling || cancelled.InputFile != files[0] {
		t.Errorf("cancelled = %+v", cancelled)
	}
	if _, err := f.svc.CancelBatch(context.Background(), "batch-nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("CancelBatch(unknown) error = %v", err)
	}
}

func TestBatchService_CollectResults(t *testing.T) {
	f := newBatchFixture(t, 10, newFakeBatchProvider())
	ctx := context.Background()
	files, _ := f.svc.PrepareBatch(ctx, makeDocs(3))
	job, _ := f.svc.SubmitBatch(ctx, files[0])

	var polled []domain.JobStatus
	f.svc.SetPollObserver(func(j *domain.BatchJob) { polled = append(polled, j.Status) })
	if _, err := f.svc.PollUntilComplete(ctx, job.ID, 0, 0); err != nil {
		t.Fatalf("PollUntilComplete() error = %v", err)
	}
	if len(polled) != 2 || polled[1] != domain.JobCompleted {
		t.Errorf("poll observer saw %v, want two refreshes ending in completed", polled)
	}

	sum, err := f.svc.CollectResults(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("CollectResults() error = %v", err)
	}
	if sum.Successful != 3 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 3 successful", sum)
	}
	if stored, _ := f.jobs.Get(job.ID); !stored.Processed {
		t.Error("job not marked processed")
	}

	sum, err = f.svc.CollectResults(ctx, job.ID, nil)
	if err != nil || sum.Skipped != 3 || sum.Successful != 0 {
		t.Errorf("second CollectResults() = %+v, %v, want all skipped", sum, err)
	}
}
