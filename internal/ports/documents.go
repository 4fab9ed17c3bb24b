package ports

import (
	"context"

	"github.com/devbush/docscribe/internal/domain"
)

// LoadedDocument is a source document read into memory.
type LoadedDocument struct {
	Data     []byte
	MIMEType string
	Pages    int

	// PageImages holds the scanned images embedded in a PDF, in page order.
	// Only populated when the loader was asked to extract them.
	PageImages []PageImage
}

// PageImage is one image extracted from a PDF page.
type PageImage struct {
	Page     int
	MIMEType string
	Data     []byte
}

// DocumentLoader reads source documents.
type DocumentLoader interface {
	// Load reads the document bytes and counts its pages.
	Load(ctx context.Context, doc domain.Document) (*LoadedDocument, error)
}

// OutputStore holds one transcript file per document.
type OutputStore interface {
	// Exists reports whether an output file already exists for the document.
	Exists(documentID string) bool

	// Write atomically stores the transcript record for the document.
	Write(documentID string, record map[string]any) error

	// Path returns the output file path for the document.
	Path(documentID string) string
}
