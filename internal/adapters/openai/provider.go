package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	goopenai "github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// Config holds OpenAI client settings
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float32
	MaxOutputTokens int
}

// chatClient is the subset of *goopenai.Client used for realtime calls
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Provider transcribes documents through the chat completions API
type Provider struct {
	client chatClient
	cfg    Config
}

// NewClient builds a go-openai client, honoring a custom base URL
func NewClient(cfg Config) (*goopenai.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return goopenai.NewClientWithConfig(clientCfg), nil
}

// NewProvider creates a realtime chat completions transcriber
func NewProvider(cfg Config) (*Provider, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, cfg: cfg}, nil
}

func (p *Provider) Name() string  { return providerName }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Transcribe(ctx context.Context, req ports.TranscribeRequest) (*ports.Completion, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("%w: %s not loaded", domain.ErrDocumentRead, req.Document.ID)
	}
	images, err := imageParts(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxOutputTokens,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: req.Prompt.System,
			},
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: append([]goopenai.ChatMessagePart{
					{
						Type: goopenai.ChatMessagePartTypeText,
						Text: req.Prompt.Instruction(),
					},
				}, images...),
			},
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	return completionFromResponse(resp)
}

// imageParts returns one image part for an image document and one per
// extracted page image for a PDF.
func imageParts(req ports.TranscribeRequest) ([]goopenai.ChatMessagePart, error) {
	if req.Content.MIMEType != "application/pdf" {
		return []goopenai.ChatMessagePart{imagePart(req.Content.MIMEType, req.Content.Data)}, nil
	}
	if len(req.Content.PageImages) == 0 {
		return nil, fmt.Errorf("%w: %s has no page images for openai realtime; use `docscribe batch` or --provider vertex",
			domain.ErrUnsupportedDocument, req.Document.Filename())
	}
	parts := make([]goopenai.ChatMessagePart, 0, len(req.Content.PageImages))
	for _, img := range req.Content.PageImages {
		parts = append(parts, imagePart(img.MIMEType, img.Data))
	}
	return parts, nil
}

func imagePart(mimeType string, data []byte) goopenai.ChatMessagePart {
	return goopenai.ChatMessagePart{
		Type: goopenai.ChatMessagePartTypeImageURL,
		ImageURL: &goopenai.ChatMessageImageURL{
			URL:    dataURL(mimeType, data),
			Detail: goopenai.ImageURLDetailHigh,
		},
	}
}

func completionFromResponse(resp goopenai.ChatCompletionResponse) (*ports.Completion, error) {
	if len(resp.Choices) == 0 {
		return nil, &domain.ProviderError{Kind: domain.KindAPI, Message: "response has no choices"}
	}
	choice := resp.Choices[0]
	return &ports.Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: domain.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var _ ports.Transcriber = (*Provider)(nil)
