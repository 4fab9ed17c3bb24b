package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devbush/docscribe/internal/adapters/state"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/spf13/afero"
)

func makeDocs(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.NewDocument(fmt.Sprintf("/scans/doc-%04d.pdf", i), 1024)
	}
	return docs
}

func newSession(t *testing.T, total int) *state.Manager {
	t.Helper()
	m := state.NewManager(afero.NewMemMapFs(), "/work/processing_state.json", state.Options{})
	if _, err := m.CreateNewSession(total, 50, "v1"); err != nil {
		t.Fatalf("CreateNewSession() error = %v", err)
	}
	return m
}

func succeedWith(confidence float64) ProcessFunc {
	return func(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error) {
		return &domain.DocumentResult{
			DocumentID:    doc.ID,
			Outcome:       domain.OutcomeSuccess,
			Confidence:    confidence,
			HasConfidence: true,
			Cost:          0.01,
		}, nil
	}
}

func testProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:              50,
		Workers:                4,
		CheckpointInterval:     100,
		LowConfidenceThreshold: 0.75,
		Resume:                 true,
		Estimate:               func(domain.Document) int { return 3000 },
	}
}

func TestProcessor_RunCheckpoints(t *testing.T) {
	sess := newSession(t, 250)
	limiter := &fakeLimiter{}
	p := NewProcessor(testProcessorConfig(), limiter, sess, newFakeOutputs(), succeedWith(0.9), nil, nil)

	var observed atomic.Int32
	p.SetObserver(func(res domain.DocumentResult, st *domain.ProcessingState) { observed.Add(1) })

	sum, err := p.Run(context.Background(), makeDocs(250))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sum.Completed || sum.Processed != 250 || sum.Successful != 250 || sum.Batches != 5 {
		t.Errorf("summary = %+v", sum)
	}
	if observed.Load() != 250 {
		t.Errorf("observer called %d times, want 250", observed.Load())
	}
	if limiter.Waits() != 250 || limiter.reserved[0] != 3000 {
		t.Errorf("limiter waits = %d, want 250 reservations of 3000", limiter.Waits())
	}

	cps, err := sess.Checkpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 || cps[0].Processed != 100 || cps[1].Processed != 200 {
		t.Errorf("checkpoints = %+v, want at 100 and 200", cps)
	}

	st, _ := sess.State()
	if st.Processed != 250 || st.Remaining != 0 || st.BatchesCompleted != 5 {
		t.Errorf("state processed=%d remaining=%d batches=%d", st.Processed, st.Remaining, st.BatchesCompleted)
	}
	if st.CostSoFar < 2.49 || st.CostSoFar > 2.51 {
		t.Errorf("CostSoFar = %v, want 2.50", st.CostSoFar)
	}
}

func TestProcessor_ResumeSkipsExistingOutputs(t *testing.T) {
	docs := makeDocs(10)
	outputs := newFakeOutputs(docs[0].ID, docs[3].ID, docs[7].ID)
	limiter := &fakeLimiter{}

	var calls atomic.Int32
	process := func(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error) {
		calls.Add(1)
		return succeedWith(0.9)(ctx, doc)
	}

	sess := newSession(t, 10)
	p := NewProcessor(testProcessorConfig(), limiter, sess, outputs, process, nil, nil)
	sum, err := p.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Skipped != 3 || sum.Successful != 7 || calls.Load() != 7 {
		t.Errorf("skipped=%d successful=%d calls=%d, want 3/7/7", sum.Skipped, sum.Successful, calls.Load())
	}
	if limiter.Waits() != 7 {
		t.Errorf("limiter waits = %d, want 7 (none for skipped)", limiter.Waits())
	}
	if sum.Cost < 0.069 || sum.Cost > 0.071 {
		t.Errorf("Cost = %v, want 0.07 (skipped documents are free)", sum.Cost)
	}

	// Without resume every document is processed again
	calls.Store(0)
	cfg := testProcessorConfig()
	cfg.Resume = false
	p = NewProcessor(cfg, &fakeLimiter{}, newSession(t, 10), outputs, process, nil, nil)
	if _, err := p.Run(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 10 {
		t.Errorf("calls without resume = %d, want 10", calls.Load())
	}
}

func TestProcessor_FailuresAndPanics(t *testing.T) {
	docs := makeDocs(6)
	process := func(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error) {
		switch doc.ID {
		case docs[1].ID:
			return &domain.DocumentResult{DocumentID: doc.ID, Outcome: domain.OutcomeFailed, Cost: 0.02},
				fmt.Errorf("%w: not json", domain.ErrResponseParse)
		case docs[2].ID:
			panic("nil map in callback")
		case docs[4].ID:
			return succeedWith(0.4)(ctx, doc)
		}
		return succeedWith(0.95)(ctx, doc)
	}

	sess := newSession(t, 6)
	p := NewProcessor(testProcessorConfig(), &fakeLimiter{}, sess, newFakeOutputs(), process, nil, nil)

	var failed []domain.DocumentResult
	p.SetObserver(func(res domain.DocumentResult, st *domain.ProcessingState) {
		if res.Outcome == domain.OutcomeFailed {
			failed = append(failed, res)
		}
	})

	sum, err := p.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Failed != 2 || sum.Successful != 4 || sum.LowConfidence != 1 || !sum.Completed {
		t.Errorf("summary = %+v", sum)
	}
	for _, res := range failed {
		if res.Error == "" {
			t.Errorf("failed result %s has no error message", res.DocumentID)
		}
	}

	st, _ := sess.State()
	want := map[string]bool{docs[1].Filename(): true, docs[2].Filename(): true}
	if len(st.FailedDocuments) != 2 || !want[st.FailedDocuments[0]] || !want[st.FailedDocuments[1]] {
		t.Errorf("FailedDocuments = %v", st.FailedDocuments)
	}
	if len(st.LowConfidenceDocuments) != 1 || st.LowConfidenceDocuments[0].DocumentID != docs[4].ID {
		t.Errorf("LowConfidenceDocuments = %v", st.LowConfidenceDocuments)
	}
	if st.Processed != 6 {
		t.Errorf("Processed = %d, want 6", st.Processed)
	}
}

func TestProcessor_Shutdown(t *testing.T) {
	docs := makeDocs(30)
	sess := newSession(t, 30)
	cfg := testProcessorConfig()
	cfg.BatchSize = 10
	cfg.Workers = 1

	var p *Processor
	var calls atomic.Int32
	process := func(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error) {
		calls.Add(1)
		// Let the dispatcher block on the busy worker slot first
		time.Sleep(20 * time.Millisecond)
		p.RequestShutdown()
		p.RequestShutdown()
		return succeedWith(0.9)(ctx, doc)
	}
	limiter := &fakeLimiter{}
	p = NewProcessor(cfg, limiter, sess, newFakeOutputs(), process, nil, nil)

	sum, err := p.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Completed {
		t.Error("Completed = true after shutdown")
	}
	if sum.Processed != 1 {
		t.Errorf("Processed = %d, want only the in-flight document", sum.Processed)
	}
	if calls.Load() != 1 || limiter.Waits() != 1 {
		t.Errorf("provider calls = %d, limiter waits = %d, want 1 each", calls.Load(), limiter.Waits())
	}
	if !p.ShutdownRequested() {
		t.Error("ShutdownRequested() = false")
	}

	st, _ := sess.State()
	if st.Processed != sum.Processed || st.Remaining != 30-sum.Processed {
		t.Errorf("state processed=%d remaining=%d, summary processed=%d", st.Processed, st.Remaining, sum.Processed)
	}
}

func TestProcessor_CancelledContextIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	process := func(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error) {
		cancel()
		return nil, ctx.Err()
	}

	sess := newSession(t, 5)
	p := NewProcessor(testProcessorConfig(), &fakeLimiter{}, sess, newFakeOutputs(), process, nil, nil)
	sum, err := p.Run(ctx, makeDocs(5))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Completed || sum.Failed != 0 {
		t.Errorf("summary = %+v, want incomplete with no failures", sum)
	}
}

func TestProcessor_StateErrorStopsRun(t *testing.T) {
	m := state.NewManager(afero.NewMemMapFs(), "/work/processing_state.json", state.Options{})
	p := NewProcessor(testProcessorConfig(), &fakeLimiter{}, m, newFakeOutputs(), succeedWith(0.9), nil, nil)

	sum, err := p.Run(context.Background(), makeDocs(120))
	if !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("Run() error = %v, want ErrNoSession", err)
	}
	if sum.Completed || sum.Processed != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestPendingDocuments(t *testing.T) {
	docs := makeDocs(5)
	outputs := newFakeOutputs(docs[0].ID)
	st := &domain.ProcessingState{FailedDocuments: []string{docs[2].Filename()}}

	got := PendingDocuments(docs, outputs, st)
	if len(got) != 3 || got[0].ID != docs[1].ID || got[1].ID != docs[3].ID || got[2].ID != docs[4].ID {
		t.Errorf("PendingDocuments() = %v", got)
	}
	if len(PendingDocuments(docs, outputs, nil)) != 4 {
		t.Error("nil state should only filter existing outputs")
	}
}
