package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	goopenai "github.com/sashabaranov/go-openai"
)

// batchClient is the subset of *goopenai.Client used for batch jobs
type batchClient interface {
	CreateFileBytes(ctx context.Context, request goopenai.FileBytesRequest) (goopenai.File, error)
	CreateBatch(ctx context.Context, request goopenai.CreateBatchRequest) (goopenai.BatchResponse, error)
	RetrieveBatch(ctx context.Context, batchID string) (goopenai.BatchResponse, error)
	CancelBatch(ctx context.Context, batchID string) (goopenai.BatchResponse, error)
	GetFileContent(ctx context.Context, fileID string) (goopenai.RawResponse, error)
}

// BatchProvider runs transcriptions through the OpenAI Batch API
type BatchProvider struct {
	client           batchClient
	cfg              Config
	completionWindow string
}

// NewBatchProvider creates a batch API client whose jobs use completionWindow
func NewBatchProvider(cfg Config, completionWindow string) (*BatchProvider, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if completionWindow == "" {
		completionWindow = "24h"
	}
	return &BatchProvider{client: client, cfg: cfg, completionWindow: completionWindow}, nil
}

// JSONL request line. The chat body is declared locally because go-openai
// message parts have no file variant.
type batchLine struct {
	CustomID string   `json:"custom_id"`
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Body     chatBody `json:"body"`
}

type chatBody struct {
	Model          string                                 `json:"model"`
	Messages       []chatMessage                          `json:"messages"`
	Temperature    float32                                `json:"temperature"`
	MaxTokens      int                                    `json:"max_tokens,omitempty"`
	ResponseFormat *goopenai.ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string                        `json:"type"`
	Text     string                        `json:"text,omitempty"`
	ImageURL *goopenai.ChatMessageImageURL `json:"image_url,omitempty"`
	File     *filePart                     `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// JSONL output line
type resultLine struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		RequestID  string          `json:"request_id"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *BatchProvider) Name() string  { return providerName }
func (p *BatchProvider) Model() string { return p.cfg.Model }

func (p *BatchProvider) EncodeRequest(req ports.TranscribeRequest) (*domain.BatchRequest, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("%w: %s not loaded", domain.ErrDocumentRead, req.Document.ID)
	}

	docPart := contentPart{}
	if req.Content.MIMEType == "application/pdf" {
		docPart.Type = "file"
		docPart.File = &filePart{
			Filename: req.Document.Filename(),
			FileData: dataURL(req.Content.MIMEType, req.Content.Data),
		}
	} else {
		docPart.Type = string(goopenai.ChatMessagePartTypeImageURL)
		docPart.ImageURL = &goopenai.ChatMessageImageURL{
			URL:    dataURL(req.Content.MIMEType, req.Content.Data),
			Detail: goopenai.ImageURLDetailHigh,
		}
	}

	line := batchLine{
		CustomID: req.Document.ID,
		Method:   http.MethodPost,
		URL:      string(goopenai.BatchEndpointChatCompletions),
		Body: chatBody{
			Model:       p.cfg.Model,
			Temperature: p.cfg.Temperature,
			MaxTokens:   p.cfg.MaxOutputTokens,
			ResponseFormat: &goopenai.ChatCompletionResponseFormat{
				Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []chatMessage{
				{Role: goopenai.ChatMessageRoleSystem, Content: req.Prompt.System},
				{Role: goopenai.ChatMessageRoleUser, Content: []contentPart{
					{Type: string(goopenai.ChatMessagePartTypeText), Text: req.Prompt.Instruction()},
					docPart,
				}},
			},
		},
	}

	payload, err := json.Marshal(line)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch request: %w", err)
	}
	return &domain.BatchRequest{
		CustomID:   req.Document.ID,
		SourcePath: req.Document.Path,
		Model:      p.cfg.Model,
		Payload:    payload,
	}, nil
}

func (p *BatchProvider) DecodeResult(line []byte) (*domain.BatchResult, error) {
	var rl resultLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return nil, fmt.Errorf("%w: batch output line: %v", domain.ErrResponseParse, err)
	}
	if rl.CustomID == "" {
		return nil, fmt.Errorf("%w: batch output line without custom_id", domain.ErrResponseParse)
	}

	result := &domain.BatchResult{CustomID: rl.CustomID}
	if rl.Error != nil {
		result.Error = &domain.ProviderError{
			Kind:    domain.KindAPI,
			Code:    rl.Error.Code,
			Message: rl.Error.Message,
		}
	}
	if rl.Response != nil {
		result.StatusCode = rl.Response.StatusCode
		result.Body = rl.Response.Body
		if rl.Response.StatusCode != http.StatusOK && result.Error == nil {
			result.Error = errorFromBody(rl.Response.StatusCode, rl.Response.Body)
		}
	}
	return result, nil
}

func errorFromBody(status int, body []byte) *domain.ProviderError {
	pe := &domain.ProviderError{
		Kind:       kindForStatus(status),
		StatusCode: status,
		Message:    http.StatusText(status),
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		pe.Message = eb.Error.Message
		if eb.Error.Code != nil {
			pe.Code = fmt.Sprint(eb.Error.Code)
		}
	}
	return pe
}

func (p *BatchProvider) DecodeCompletion(result *domain.BatchResult) (*ports.Completion, error) {
	if result.Failed() {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, errorFromBody(result.StatusCode, result.Body)
	}

	var resp goopenai.ChatCompletionResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: chat completion body: %v", domain.ErrResponseParse, err)
	}
	return completionFromResponse(resp)
}

func (p *BatchProvider) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := p.client.CreateFileBytes(ctx, goopenai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: goopenai.PurposeBatch,
	})
	if err != nil {
		return "", mapError(err)
	}
	return file.ID, nil
}

func (p *BatchProvider) CreateJob(ctx context.Context, inputFileID string, metadata map[string]string) (*domain.BatchJob, error) {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	resp, err := p.client.CreateBatch(ctx, goopenai.CreateBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         goopenai.BatchEndpointChatCompletions,
		CompletionWindow: p.completionWindow,
		Metadata:         meta,
	})
	if err != nil {
		return nil, mapError(err)
	}
	job := jobFromBatch(resp.Batch)
	job.Model = p.cfg.Model
	return job, nil
}

func (p *BatchProvider) GetJob(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	resp, err := p.client.RetrieveBatch(ctx, jobID)
	if err != nil {
		return nil, mapJobError(jobID, err)
	}
	return jobFromBatch(resp.Batch), nil
}

func (p *BatchProvider) CancelJob(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	resp, err := p.client.CancelBatch(ctx, jobID)
	if err != nil {
		return nil, mapJobError(jobID, err)
	}
	return jobFromBatch(resp.Batch), nil
}

func (p *BatchProvider) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	raw, err := p.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, mapError(err)
	}
	return raw.ReadCloser, nil
}

func mapJobError(jobID string, err error) error {
	mapped := mapError(err)
	if pe, ok := mapped.(*domain.ProviderError); ok && pe.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return mapped
}

func jobFromBatch(b goopenai.Batch) *domain.BatchJob {
	job := &domain.BatchJob{
		ID:          b.ID,
		InputFileID: b.InputFileID,
		Status:      domain.JobStatus(b.Status),
		RequestCounts: domain.RequestCounts{
			Total:     b.RequestCounts.Total,
			Completed: b.RequestCounts.Completed,
			Failed:    b.RequestCounts.Failed,
		},
		CreatedAt: time.Unix(int64(b.CreatedAt), 0).UTC(),
	}
	if b.OutputFileID != nil {
		job.OutputFileID = *b.OutputFileID
	}
	if b.ErrorFileID != nil {
		job.ErrorFileID = *b.ErrorFileID
	}
	return job
}

var _ ports.BatchProvider = (*BatchProvider)(nil)
