package ports

import (
	"context"
	"strings"

	"github.com/devbush/docscribe/internal/domain"
)

// FinishReasonStop is the normalized finish reason of a complete response
const FinishReasonStop = "stop"

// Completion is the success variant of a provider call
type Completion struct {
	Content      string
	FinishReason string
	Usage        domain.Usage
	Model        string
}

// Prompt is the instruction set sent with every document
type Prompt struct {
	System  string // system instruction
	User    string // per-document instruction
	Schema  []byte // JSON Schema the response must match, may be nil
	Version string
}

// Instruction returns the user instruction with the schema appended
func (p Prompt) Instruction() string {
	if len(p.Schema) == 0 {
		return p.User
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(p.User, "\n"))
	b.WriteString("\n\nReturn a single JSON object that matches this JSON Schema:\n")
	b.Write(p.Schema)
	return b.String()
}

// TranscribeRequest is a single document ready to send
type TranscribeRequest struct {
	Document domain.Document
	Content  *LoadedDocument
	Prompt   Prompt
}

// Transcriber sends one document to a multimodal model.
// Failures are returned as *domain.ProviderError where the provider reported them.
type Transcriber interface {
	// Transcribe sends the document and returns the raw completion
	Transcribe(ctx context.Context, req TranscribeRequest) (*Completion, error)

	// Name returns the provider name used in logs and metrics
	Name() string

	// Model returns the configured model identifier
	Model() string
}
