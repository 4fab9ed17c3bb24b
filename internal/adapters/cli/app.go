package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/devbush/docscribe/internal/adapters/cost"
	"github.com/devbush/docscribe/internal/adapters/document"
	"github.com/devbush/docscribe/internal/adapters/jobs"
	"github.com/devbush/docscribe/internal/adapters/metrics"
	"github.com/devbush/docscribe/internal/adapters/openai"
	"github.com/devbush/docscribe/internal/adapters/output"
	"github.com/devbush/docscribe/internal/adapters/ratelimit"
	"github.com/devbush/docscribe/internal/adapters/repair"
	"github.com/devbush/docscribe/internal/adapters/state"
	"github.com/devbush/docscribe/internal/adapters/vertex"
	"github.com/devbush/docscribe/internal/application"
	"github.com/devbush/docscribe/internal/config"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/logging"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const systemPrompt = "You are an expert archivist transcribing scanned historical documents. Respond with JSON only."

// GlobalOptions holds the persistent flags shared by every command
type GlobalOptions struct {
	ConfigPath string
	Provider   string
	Model      string
	Verbose    bool
}

// App holds all application dependencies. Provider clients are created on
// demand so commands that only read local state need no credentials.
type App struct {
	Config *config.Config
	Logger *logrus.Logger
	Log    logrus.FieldLogger // scoped to the current run
	RunID  string
	FS     afero.Fs

	State   *state.Manager
	Outputs *output.Store
	Jobs    *jobs.Store
	Loader  *document.Loader
	Limiter *ratelimit.Limiter
	Costs   *cost.Tracker
	Metrics *metrics.Metrics
	Schemas *repair.SchemaCache

	closers []io.Closer
}

// NewApp loads configuration and wires the local adapters
func NewApp(opts GlobalOptions) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Provider != "" {
		cfg.Provider.Name = opts.Provider
	}
	if opts.Model != "" {
		cfg.Provider.Model = opts.Model
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	schemas, err := repair.NewSchemaCache(fs, 0)
	if err != nil {
		return nil, err
	}

	m := metrics.New(nil)
	runID := logging.NewRunID()

	return &App{
		Config: cfg,
		Logger: logger,
		Log:    logging.ForRun(logger, "", runID),
		RunID:  runID,
		FS:     fs,
		State: state.NewManager(fs, cfg.Paths.StateFile, state.Options{
			Retention: cfg.Processing.CheckpointRetention,
			Logger:    logger,
		}),
		Outputs: output.NewStore(fs, cfg.Paths.OutputDir),
		Jobs:    jobs.NewStore(fs, cfg.Paths.JobsFile),
		Loader:  document.NewLoader(fs),
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerMinute:         cfg.RateLimit.RequestsPerMinute,
			TokensPerMinute:           cfg.RateLimit.TokensPerMinute,
			EstimatedTokensPerRequest: cfg.RateLimit.EstimatedTokensPerRequest,
		}, ratelimit.WithWaitObserver(m.RateLimitWait)),
		Costs:   cost.NewTracker(PricingTable(cfg)),
		Metrics: m,
		Schemas: schemas,
		closers: []io.Closer{logCloser},
	}, nil
}

// PricingTable returns the built-in prices with the config overrides applied
func PricingTable(cfg *config.Config) cost.Table {
	overrides := make(map[string]cost.Price, len(cfg.Pricing))
	for model, p := range cfg.Pricing {
		overrides[model] = cost.Price{InputPerMillion: p.InputPerMillion, OutputPerMillion: p.OutputPerMillion}
	}
	return cost.DefaultTable().Merge(overrides)
}

// ScopeToSession attaches the session ID to every later log entry
func (a *App) ScopeToSession(sessionID string) {
	a.Log = logging.ForRun(a.Logger, sessionID, a.RunID)
}

// Close releases provider clients and the log file
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ServeMetrics exposes /metrics until ctx is done when the exporter is enabled
func (a *App) ServeMetrics(ctx context.Context) {
	if !a.Config.Metrics.Enabled {
		return
	}
	addr := a.Config.Metrics.ListenAddr
	a.Log.WithField("addr", addr).Info("serving metrics")
	go func() {
		if err := a.Metrics.Serve(ctx, addr); err != nil {
			a.Log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

// LoadPrompt reads the prompt and schema files. A missing prompt is fatal.
// A missing schema is fatal only with require_schema; otherwise responses
// are not schema-validated and the returned validator is nil.
func (a *App) LoadPrompt() (ports.Prompt, *repair.Validator, error) {
	paths := a.Config.Paths
	text, err := afero.ReadFile(a.FS, paths.PromptFile)
	if err != nil {
		if os.IsNotExist(err) {
			return ports.Prompt{}, nil, fmt.Errorf("%w: %s", domain.ErrPromptMissing, paths.PromptFile)
		}
		return ports.Prompt{}, nil, fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := ports.Prompt{
		System:  systemPrompt,
		User:    string(text),
		Version: a.Config.Processing.PromptVersion,
	}

	validator, err := a.Schemas.Load(paths.SchemaFile)
	switch {
	case err == nil:
		raw, err := a.Schemas.Raw(paths.SchemaFile)
		if err != nil {
			return ports.Prompt{}, nil, fmt.Errorf("failed to read schema: %w", err)
		}
		prompt.Schema = raw
	case errors.Is(err, domain.ErrSchemaMissing) && !a.Config.Processing.RequireSchema:
		a.Log.WithField("schema_file", paths.SchemaFile).Warn("schema file not found, responses will not be schema-validated")
	default:
		return ports.Prompt{}, nil, err
	}
	return prompt, validator, nil
}

func (a *App) openAIConfig() openai.Config {
	return openai.Config{
		APIKey:          a.Config.OpenAIAPIKey,
		BaseURL:         a.Config.Provider.BaseURL,
		Model:           a.Config.Provider.Model,
		Temperature:     a.Config.Provider.Temperature,
		MaxOutputTokens: a.Config.Provider.MaxOutputTokens,
	}
}

// NewTranscriber creates the configured realtime provider
func (a *App) NewTranscriber(ctx context.Context, prompt ports.Prompt) (ports.Transcriber, error) {
	p := a.Config.Provider
	switch p.Name {
	case "vertex":
		v, err := vertex.NewProvider(ctx, vertex.Config{
			Project:         p.Project,
			Location:        p.Location,
			Model:           p.Model,
			Temperature:     p.Temperature,
			MaxOutputTokens: p.MaxOutputTokens,
		}, prompt.System)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, v)
		return v, nil
	default:
		return openai.NewProvider(a.openAIConfig())
	}
}

// NewBatchProvider creates the batch API client. Only OpenAI offers one.
func (a *App) NewBatchProvider() (*openai.BatchProvider, error) {
	if a.Config.Provider.Name != "openai" {
		return nil, fmt.Errorf("the batch API requires the openai provider (configured: %s)", a.Config.Provider.Name)
	}
	return openai.NewBatchProvider(a.openAIConfig(), a.Config.Batch.CompletionWindow)
}

// Estimator returns the limiter reservation for a document before loading it
func (a *App) Estimator() func(domain.Document) int {
	rl := a.Config.RateLimit
	return a.Loader.Estimator(rl.TokensPerPage, rl.EstimatedTokensPerRequest)
}

// NewTranscribeService wires the per-document pipeline
func (a *App) NewTranscribeService(ctx context.Context) (*application.TranscribeService, error) {
	prompt, validator, err := a.LoadPrompt()
	if err != nil {
		return nil, err
	}
	transcriber, err := a.NewTranscriber(ctx, prompt)
	if err != nil {
		return nil, err
	}

	cfg := a.Config
	retrier := application.NewRetrier(application.RetryPolicy{
		MaxAttempts: cfg.Processing.MaxRetries,
		BaseDelay:   cfg.BaseDelay(),
		MaxDelay:    cfg.MaxDelay(),
	})
	rl := cfg.RateLimit

	// chat completions take images only, so PDFs are sent as their page scans
	loader := a.Loader
	if transcriber.Name() == "openai" {
		loader = loader.WithPageImages()
	}

	return application.NewTranscribeService(
		loader, transcriber, a.Outputs, a.Limiter, a.Costs, retrier, a.Metrics, a.Log,
		application.TranscribeOptions{
			Prompt:    prompt,
			Validator: validator,
			EstimateTokens: func(pages int) int {
				return document.EstimateTokens(pages, rl.TokensPerPage, rl.EstimatedTokensPerRequest)
			},
		},
	), nil
}

// NewProcessor wires the worker-pool orchestrator around svc
func (a *App) NewProcessor(svc *application.TranscribeService) *application.Processor {
	cfg := a.Config
	return application.NewProcessor(application.ProcessorConfig{
		BatchSize:              cfg.Processing.BatchSize,
		Workers:                cfg.EffectiveWorkers(),
		CheckpointInterval:     cfg.Processing.CheckpointInterval,
		LowConfidenceThreshold: cfg.Processing.LowConfidenceThreshold,
		Resume:                 cfg.Processing.Resume,
		Estimate:               a.Estimator(),
	}, a.Limiter, a.State, a.Outputs, svc.Process, a.Log, a.Metrics)
}

// NewBatchService wires the batch API orchestrator
func (a *App) NewBatchService(ctx context.Context) (*application.BatchService, error) {
	provider, err := a.NewBatchProvider()
	if err != nil {
		return nil, err
	}
	svc, err := a.NewTranscribeService(ctx)
	if err != nil {
		return nil, err
	}

	cfg := a.Config
	return application.NewBatchService(a.FS, provider, a.Jobs, a.Loader, a.Outputs, svc, application.BatchConfig{
		Dir:                cfg.Paths.BatchDir,
		MaxRequestsPerFile: cfg.Batch.MaxRequestsPerFile,
		Resume:             cfg.Processing.Resume,
		PollInterval:       cfg.PollInterval(),
		Timeout:            cfg.PollTimeout(),
		RunID:              a.RunID,
	}, a.Log, a.Metrics), nil
}

var globalApp *App

// GetApp returns the global app instance, creating it from the global flags if needed
func GetApp() (*App, error) {
	if globalApp == nil {
		app, err := NewApp(GlobalOptions{
			ConfigPath: configFlag,
			Provider:   providerFlag,
			Model:      modelFlag,
			Verbose:    verboseFlag,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize: %w", err)
		}
		globalApp = app
	}
	return globalApp, nil
}

func closeApp() {
	if globalApp == nil {
		return
	}
	_ = globalApp.Close()
	globalApp = nil
}
