package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devbush/docscribe/internal/adapters/repair"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/logging"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/sirupsen/logrus"
)

// TranscribeOptions configures the per-document pipeline
type TranscribeOptions struct {
	Prompt ports.Prompt

	// EstimateTokens converts a page count into a limiter reservation
	EstimateTokens func(pages int) int

	// Validator may be nil, in which case schema validation is skipped
	Validator *repair.Validator
}

// TranscribeService turns one document into a validated transcript file
type TranscribeService struct {
	loader      ports.DocumentLoader
	transcriber ports.Transcriber
	outputs     ports.OutputStore
	limiter     ports.RateLimiter
	costs       ports.UsageTracker
	retrier     *Retrier
	metrics     ports.Recorder
	log         logrus.FieldLogger
	opts        TranscribeOptions
	now         func() time.Time
}

// NewTranscribeService creates the per-document pipeline
func NewTranscribeService(
	loader ports.DocumentLoader,
	transcriber ports.Transcriber,
	outputs ports.OutputStore,
	limiter ports.RateLimiter,
	costs ports.UsageTracker,
	retrier *Retrier,
	metrics ports.Recorder,
	log logrus.FieldLogger,
	opts TranscribeOptions,
) *TranscribeService {
	if opts.EstimateTokens == nil {
		opts.EstimateTokens = func(pages int) int { return 0 }
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if retrier == nil {
		retrier = NewRetrier(DefaultRetryPolicy())
	}
	if log == nil {
		log = logging.Discard()
	}
	return &TranscribeService{
		loader:      loader,
		transcriber: transcriber,
		outputs:     outputs,
		limiter:     limiter,
		costs:       costs,
		retrier:     retrier,
		metrics:     metrics,
		log:         log,
		opts:        opts,
		now:         time.Now,
	}
}

// Process runs the realtime pipeline for doc. The orchestrator has already
// waited on the rate limiter for the first attempt. The returned result is
// non-nil even on failure so usage and attempts are reported.
func (s *TranscribeService) Process(ctx context.Context, doc domain.Document) (*domain.DocumentResult, error) {
	start := s.now()
	res := &domain.DocumentResult{DocumentID: doc.ID, Outcome: domain.OutcomeFailed}
	log := s.log.WithField("document_id", doc.ID)

	loaded, err := s.loader.Load(ctx, doc)
	if err != nil {
		return s.fail(res, start, err)
	}

	req := ports.TranscribeRequest{Document: doc, Content: loaded, Prompt: s.opts.Prompt}
	estimate := s.opts.EstimateTokens(loaded.Pages)

	var completion *ports.Completion
	attempts, err := s.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := s.limiter.WaitTokens(ctx, estimate); err != nil {
				return err
			}
		}
		callStart := s.now()
		c, err := s.transcriber.Transcribe(ctx, req)
		s.metrics.ProviderCall(s.transcriber.Name(), err, s.now().Sub(callStart))
		if err != nil {
			if s.retrier.Retryable(attempt, err) {
				s.metrics.Retry(err)
				log.WithError(err).WithField("attempt", attempt).Warn("provider call failed, retrying")
			}
			return err
		}
		completion = c
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		return s.fail(res, start, err)
	}

	s.limiter.RecordUsage(completion.Usage.Total())
	s.trackUsage(res, completion, false)

	if err := s.finalize(doc.ID, completion, res, log); err != nil {
		return s.fail(res, start, err)
	}
	res.Duration = s.now().Sub(start)
	return res, nil
}

// ProcessBatchResult runs the shared checks on a completion returned by a
// batch job and writes the output. Cost is tracked at batch rates.
func (s *TranscribeService) ProcessBatchResult(ctx context.Context, documentID string, completion *ports.Completion) (*domain.DocumentResult, error) {
	start := s.now()
	res := &domain.DocumentResult{DocumentID: documentID, Outcome: domain.OutcomeFailed, Attempts: 1}
	if err := ctx.Err(); err != nil {
		return s.fail(res, start, err)
	}

	s.trackUsage(res, completion, true)
	if err := s.finalize(documentID, completion, res, s.log.WithField("document_id", documentID)); err != nil {
		return s.fail(res, start, err)
	}
	res.Duration = s.now().Sub(start)
	return res, nil
}

func (s *TranscribeService) trackUsage(res *domain.DocumentResult, c *ports.Completion, batch bool) {
	model := c.Model
	if model == "" {
		model = s.transcriber.Model()
	}
	s.costs.AddUsage(c.Usage.InputTokens, c.Usage.OutputTokens)
	res.Usage = c.Usage
	res.Cost = s.costs.Estimate(model, c.Usage.InputTokens, c.Usage.OutputTokens, batch)
	s.metrics.Tokens(c.Usage)
	s.metrics.SetCost(s.costs.Cost(model, batch))
}

// finalize checks the finish reason, parses, repairs and validates the
// response, then writes the transcript. Every failure here is terminal.
func (s *TranscribeService) finalize(documentID string, c *ports.Completion, res *domain.DocumentResult, log logrus.FieldLogger) error {
	if c.FinishReason != ports.FinishReasonStop {
		return fmt.Errorf("%w: %q", domain.ErrFinishReason, c.FinishReason)
	}

	data, err := repair.ParseContent(c.Content)
	if err != nil {
		return err
	}
	data = repair.AutoRepair(data)
	if meta, ok := data["metadata"].(map[string]any); ok {
		if id, _ := meta["document_id"].(string); id == "" {
			meta["document_id"] = documentID
		}
	}

	if missing := repair.CheckRequired(data); len(missing) > 0 {
		s.metrics.ValidationIssue("missing_fields")
		return fmt.Errorf("%w: %s", domain.ErrMissingFields, strings.Join(missing, "; "))
	}
	if ok, errs := s.opts.Validator.Validate(data); !ok {
		s.metrics.ValidationIssue("schema")
		return fmt.Errorf("%w: %s", domain.ErrSchemaInvalid, strings.Join(errs, "; "))
	}

	for _, issue := range repair.CheckCompleteness(data) {
		s.metrics.ValidationIssue("incomplete")
		log.WithField("issue", issue).Warn("transcription may be incomplete")
		res.Issues = append(res.Issues, issue)
	}

	if err := s.outputs.Write(documentID, data); err != nil {
		if !errors.Is(err, domain.ErrOutputWrite) {
			err = fmt.Errorf("%w: %v", domain.ErrOutputWrite, err)
		}
		return err
	}

	res.Confidence, res.HasConfidence = domain.ConfidenceScore(data)
	res.Outcome = domain.OutcomeSuccess
	return nil
}

func (s *TranscribeService) fail(res *domain.DocumentResult, start time.Time, err error) (*domain.DocumentResult, error) {
	res.Outcome = domain.OutcomeFailed
	res.Error = err.Error()
	res.Duration = s.now().Sub(start)
	return res, err
}

type nopRecorder struct{}

func (nopRecorder) DocumentProcessed(domain.Outcome)          {}
func (nopRecorder) ProviderCall(string, error, time.Duration) {}
func (nopRecorder) Retry(error)                               {}
func (nopRecorder) Tokens(domain.Usage)                       {}
func (nopRecorder) SetCost(float64)                           {}
func (nopRecorder) ValidationIssue(string)                    {}
