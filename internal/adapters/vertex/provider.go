package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const providerName = "vertex"

// Config holds Vertex AI settings
type Config struct {
	Project         string
	Location        string
	Model           string
	Temperature     float32
	MaxOutputTokens int
}

// generator is satisfied by *genai.GenerativeModel
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Provider transcribes documents with Gemini, which accepts PDFs and images inline
type Provider struct {
	client *genai.Client
	model  generator
	name   string
}

// NewProvider creates a client and configures the model for JSON output.
// The system instruction is fixed per provider since every document shares it.
func NewProvider(ctx context.Context, cfg Config, systemPrompt string) (*Provider, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, errors.New("vertex provider needs GOOGLE_CLOUD_PROJECT and a location")
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	configureModel(model, cfg, systemPrompt)

	return &Provider{client: client, model: model, name: cfg.Model}, nil
}

func configureModel(model *genai.GenerativeModel, cfg Config, systemPrompt string) {
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(cfg.Temperature),
	}
	if cfg.MaxOutputTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(cfg.MaxOutputTokens))
	}
	// Archival material describes violence and torture; blocking it would drop documents
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
}

func (p *Provider) Name() string  { return providerName }
func (p *Provider) Model() string { return p.name }

func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *Provider) Transcribe(ctx context.Context, req ports.TranscribeRequest) (*ports.Completion, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("%w: %s not loaded", domain.ErrDocumentRead, req.Document.ID)
	}

	resp, err := p.model.GenerateContent(ctx,
		genai.Blob{MIMEType: req.Content.MIMEType, Data: req.Content.Data},
		genai.Text(req.Prompt.Instruction()),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, mapError(err)
	}
	return p.completion(resp)
}

func (p *Provider) completion(resp *genai.GenerateContentResponse) (*ports.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &domain.ProviderError{Kind: domain.KindAPI, Message: "response has no candidates"}
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	c := &ports.Completion{
		Content:      b.String(),
		FinishReason: finishReason(cand.FinishReason),
		Model:        p.name,
	}
	if resp.UsageMetadata != nil {
		c.Usage = domain.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return c, nil
}

func finishReason(fr genai.FinishReason) string {
	switch fr {
	case genai.FinishReasonStop:
		return ports.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety:
		return "content_filter"
	case genai.FinishReasonRecitation:
		return "recitation"
	}
	return "other"
}

// mapError classifies Vertex errors. gRPC status codes drive the retry decision.
func mapError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &domain.ProviderError{Kind: domain.KindInvalidRequest, Code: "blocked", Message: blocked.Error()}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &domain.ProviderError{Kind: domain.KindConnection, Message: err.Error()}
	}

	pe := &domain.ProviderError{Code: st.Code().String(), Message: st.Message()}
	switch st.Code() {
	case codes.ResourceExhausted:
		pe.Kind = domain.KindRateLimit
		pe.StatusCode = 429
	case codes.Unavailable, codes.DeadlineExceeded:
		pe.Kind = domain.KindConnection
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound:
		pe.Kind = domain.KindInvalidRequest
	default:
		pe.Kind = domain.KindAPI
	}
	return pe
}

var _ ports.Transcriber = (*Provider)(nil)
