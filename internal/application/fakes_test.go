package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
)

type fakeLimiter struct {
	mu       sync.Mutex
	waits    int
	reserved []int
	recorded []int
}

func (f *fakeLimiter) WaitTokens(ctx context.Context, tokens int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	f.reserved = append(f.reserved, tokens)
	return nil
}

func (f *fakeLimiter) RecordUsage(actual int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, actual)
}

func (f *fakeLimiter) Waits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

type fakeOutputs struct {
	mu      sync.Mutex
	records map[string]map[string]any
	failErr error
}

func newFakeOutputs(existing ...string) *fakeOutputs {
	f := &fakeOutputs{records: make(map[string]map[string]any)}
	for _, id := range existing {
		f.records[id] = map[string]any{}
	}
	return f
}

func (f *fakeOutputs) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok
}

func (f *fakeOutputs) Write(id string, record map[string]any) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = record
	return nil
}

func (f *fakeOutputs) Path(id string) string { return "/out/" + id + ".json" }

func (f *fakeOutputs) Get(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

type fakeCosts struct {
	mu     sync.Mutex
	input  int
	output int
}

func (f *fakeCosts) AddUsage(in, out int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input += in
	f.output += out
}

// $1 per million input tokens, $2 per million output tokens, halved for batch
func (f *fakeCosts) Estimate(model string, in, out int, batch bool) float64 {
	c := float64(in)/1e6 + float64(out)*2/1e6
	if batch {
		c /= 2
	}
	return c
}

func (f *fakeCosts) Cost(model string, batch bool) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Estimate(model, f.input, f.output, batch)
}

type fakeLoader struct {
	pages int
	err   error
}

func (f *fakeLoader) Load(ctx context.Context, doc domain.Document) (*ports.LoadedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ports.LoadedDocument{Data: []byte("scan"), MIMEType: doc.MIMEType, Pages: f.pages}, nil
}

type scriptStep struct {
	completion *ports.Completion
	err        error
}

// scriptedTranscriber returns its steps in order and repeats the last one
type scriptedTranscriber struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, req ports.TranscribeRequest) (*ports.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	return step.completion, step.err
}

func (s *scriptedTranscriber) Name() string  { return "scripted" }
func (s *scriptedTranscriber) Model() string { return "test-model" }

func (s *scriptedTranscriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func validContent(id string, confidence float64) string {
	return fmt.Sprintf(`{
		"metadata": {"document_id": %q, "title": "Memorandum for the Record"},
		"original_text": "MEMORANDUM FOR THE RECORD",
		"reviewed_text": "Memorandum for the record",
		"confidence": {"overall": %v, "concerns": []}
	}`, id, confidence)
}

func completion(content string) *ports.Completion {
	return &ports.Completion{
		Content:      content,
		FinishReason: ports.FinishReasonStop,
		Usage:        domain.Usage{InputTokens: 1000, OutputTokens: 500},
		Model:        "test-model",
	}
}

func rateLimited() error {
	return &domain.ProviderError{Kind: domain.KindRateLimit, StatusCode: 429, Message: "slow down"}
}

func serverError() error {
	return &domain.ProviderError{Kind: domain.KindAPI, StatusCode: 503, Message: "overloaded"}
}
