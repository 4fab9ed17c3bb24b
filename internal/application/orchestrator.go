package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/logging"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProcessFunc handles one document. TranscribeService.Process is the default.
type ProcessFunc func(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error)

// Observer is notified on the draining goroutine after each result is recorded
type Observer func(res domain.DocumentResult, st *domain.ProcessingState)

// ProcessorConfig configures the worker-pool orchestrator
type ProcessorConfig struct {
	BatchSize              int
	Workers                int
	CheckpointInterval     int
	LowConfidenceThreshold float64
	Resume                 bool

	// Estimate returns the token reservation for a document before it is loaded
	Estimate func(domain.Document) int
}

// RunSummary aggregates the results of one Run
type RunSummary struct {
	Processed     int
	Successful    int
	Failed        int
	Skipped       int
	Cost          float64
	LowConfidence int
	Completed     bool
	Batches       int
	Duration      time.Duration
}

// Processor dispatches documents to a bounded pool of workers batch by batch.
// Results are drained on the calling goroutine, which is the only writer of
// session state.
type Processor struct {
	cfg      ProcessorConfig
	limiter  ports.RateLimiter
	state    ports.SessionStore
	outputs  ports.OutputStore
	process  ProcessFunc
	log      logrus.FieldLogger
	metrics  ports.Recorder
	observer Observer
	now      func() time.Time

	shutdown atomic.Bool
}

// NewProcessor creates a Processor
func NewProcessor(
	cfg ProcessorConfig,
	limiter ports.RateLimiter,
	state ports.SessionStore,
	outputs ports.OutputStore,
	process ProcessFunc,
	log logrus.FieldLogger,
	metrics ports.Recorder,
) *Processor {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Estimate == nil {
		cfg.Estimate = func(domain.Document) int { return 0 }
	}
	if log == nil {
		log = logging.Discard()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Processor{
		cfg:     cfg,
		limiter: limiter,
		state:   state,
		outputs: outputs,
		process: process,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetObserver registers a callback for every recorded result
func (p *Processor) SetObserver(fn Observer) {
	p.observer = fn
}

// RequestShutdown stops dispatching new documents. In-flight documents finish.
func (p *Processor) RequestShutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		p.log.Warn("shutdown already in progress, waiting for in-flight documents")
		return
	}
	p.log.Info("shutdown requested, finishing in-flight documents")
}

// ShutdownRequested reports whether RequestShutdown has been called
func (p *Processor) ShutdownRequested() bool {
	return p.shutdown.Load()
}

// WatchSignals calls RequestShutdown on SIGINT or SIGTERM until ctx is done
// or the returned stop function is called.
func (p *Processor) WatchSignals(ctx context.Context) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigs:
				p.log.WithField("signal", sig.String()).Info("received signal")
				p.RequestShutdown()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Run processes docs in batches of BatchSize. It returns early with
// Completed == false after a shutdown request or context cancellation.
// A state persistence error stops the run and is returned.
func (p *Processor) Run(ctx context.Context, docs []domain.Document) (*RunSummary, error) {
	start := p.now()
	sum := &RunSummary{Completed: true}

	for offset := 0; offset < len(docs); offset += p.cfg.BatchSize {
		if p.ShutdownRequested() || ctx.Err() != nil {
			sum.Completed = false
			break
		}

		batch := docs[offset:min(offset+p.cfg.BatchSize, len(docs))]
		log := p.log.WithFields(logrus.Fields{
			"batch": offset/p.cfg.BatchSize + 1,
			"size":  len(batch),
		})
		log.Debug("dispatching batch")

		finished, err := p.runBatch(ctx, batch, sum)
		if err != nil {
			sum.Completed = false
			sum.Duration = p.now().Sub(start)
			return sum, err
		}
		if !finished {
			sum.Completed = false
			break
		}
		sum.Batches++
		log.WithField("processed", sum.Processed).Info("batch complete")
	}

	sum.Duration = p.now().Sub(start)
	p.log.WithFields(logrus.Fields{
		"processed":  sum.Processed,
		"successful": sum.Successful,
		"failed":     sum.Failed,
		"skipped":    sum.Skipped,
		"cost":       fmt.Sprintf("%.4f", sum.Cost),
		"completed":  sum.Completed,
	}).Info("run finished")
	return sum, nil
}

type docOutcome struct {
	doc domain.Document
	res domain.DocumentResult
}

// runBatch reports whether every document of the batch was recorded
func (p *Processor) runBatch(ctx context.Context, batch []domain.Document, sum *RunSummary) (bool, error) {
	results := make(chan docOutcome)
	var abort atomic.Bool

	go func() {
		var g errgroup.Group
		g.SetLimit(p.cfg.Workers)
		for _, doc := range batch {
			if abort.Load() || p.ShutdownRequested() || ctx.Err() != nil {
				break
			}
			doc := doc
			g.Go(func() error {
				// g.Go blocks while every worker is busy, so the flags may
				// have changed since the check above
				if abort.Load() || p.ShutdownRequested() || ctx.Err() != nil {
					return nil
				}
				if res, ok := p.processOne(ctx, doc); ok {
					results <- docOutcome{doc: doc, res: res}
				}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	received := 0
	var updateErr error
	for out := range results {
		if updateErr != nil {
			continue
		}
		received++

		delta := p.delta(out)
		if received == len(batch) {
			delta.BatchesCompleted = 1
		}
		st, err := p.state.Update(delta)
		if err != nil {
			updateErr = fmt.Errorf("failed to record %s: %w", out.doc.ID, err)
			abort.Store(true)
			continue
		}

		p.tally(sum, delta)
		p.metrics.DocumentProcessed(out.res.Outcome)
		p.maybeCheckpoint(st)
		if p.observer != nil {
			p.observer(out.res, st)
		}
	}

	if updateErr != nil {
		return false, updateErr
	}
	return received == len(batch), nil
}

// processOne returns ok == false when the document was abandoned because the
// context ended. Such documents are not recorded.
func (p *Processor) processOne(ctx context.Context, doc domain.Document) (domain.DocumentResult, bool) {
	log := p.log.WithField("document_id", doc.ID)

	if p.cfg.Resume && p.outputs.Exists(doc.ID) {
		log.Debug("output exists, skipping")
		return domain.DocumentResult{DocumentID: doc.ID, Outcome: domain.OutcomeSkipped}, true
	}

	if err := p.limiter.WaitTokens(ctx, p.cfg.Estimate(doc)); err != nil {
		if ctx.Err() != nil {
			return domain.DocumentResult{}, false
		}
		return failedResult(doc, nil, err), true
	}

	res, err := p.invoke(ctx, doc)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return domain.DocumentResult{}, false
		}
		log.WithError(err).Warn("document failed")
		return failedResult(doc, res, err), true
	}
	if res == nil {
		return failedResult(doc, nil, errors.New("processor returned no result")), true
	}
	return *res, true
}

// invoke calls process and turns a panic into an error
func (p *Processor) invoke(ctx context.Context, doc domain.Document) (res *domain.DocumentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("panic while processing %s: %v", doc.Filename(), r)
		}
	}()
	return p.process(ctx, doc)
}

func failedResult(doc domain.Document, res *domain.DocumentResult, err error) domain.DocumentResult {
	out := domain.DocumentResult{DocumentID: doc.ID}
	if res != nil {
		out = *res
	}
	out.Outcome = domain.OutcomeFailed
	out.Error = err.Error()
	return out
}

func (p *Processor) delta(out docOutcome) domain.StateDelta {
	d := domain.StateDelta{Processed: 1, Cost: out.res.Cost}

	switch out.res.Outcome {
	case domain.OutcomeSuccess:
		d.Successful = 1
		if out.res.HasConfidence {
			c := out.res.Confidence
			d.Confidence = &c
			if c < p.cfg.LowConfidenceThreshold {
				d.LowConfidence = &domain.LowConfidenceDoc{DocumentID: out.res.DocumentID, Confidence: c}
			}
		}
	case domain.OutcomeSkipped:
		d.Skipped = 1
	default:
		d.Failed = 1
		d.FailedDocument = out.doc.Filename()
	}
	return d
}

func (p *Processor) tally(sum *RunSummary, d domain.StateDelta) {
	sum.Processed++
	sum.Successful += d.Successful
	sum.Failed += d.Failed
	sum.Skipped += d.Skipped
	sum.Cost += d.Cost
	if d.LowConfidence != nil {
		sum.LowConfidence++
	}
}

func (p *Processor) maybeCheckpoint(st *domain.ProcessingState) {
	if p.cfg.CheckpointInterval <= 0 || st.Processed == 0 || st.Processed%p.cfg.CheckpointInterval != 0 {
		return
	}
	if _, err := p.state.CreateCheckpoint(); err != nil && !errors.Is(err, domain.ErrSessionComplete) {
		p.log.WithError(err).Warn("failed to create checkpoint")
	}
}

// PendingDocuments returns the documents an existing session still has to
// process: those without an output that have not already failed in it.
func PendingDocuments(docs []domain.Document, outputs ports.OutputStore, st *domain.ProcessingState) []domain.Document {
	failed := make(map[string]bool)
	if st != nil {
		for _, name := range st.FailedDocuments {
			failed[name] = true
		}
	}

	pending := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if outputs.Exists(doc.ID) || failed[doc.Filename()] {
			continue
		}
		pending = append(pending, doc)
	}
	return pending
}
