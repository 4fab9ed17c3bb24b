package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/spf13/afero"
)

// Loader reads documents from a filesystem and counts PDF pages
type Loader struct {
	fs         afero.Fs
	conf       *model.Configuration
	pageImages bool
}

// NewLoader creates a Loader reading from fs
func NewLoader(fs afero.Fs) *Loader {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Loader{fs: fs, conf: conf}
}

// WithPageImages returns a copy of the loader that also extracts the
// embedded page images of every PDF it loads.
func (l *Loader) WithPageImages() *Loader {
	c := *l
	c.pageImages = true
	return &c
}

// Load reads the document and counts its pages. A PDF without extractable
// page images is unsupported when page images were requested.
func (l *Loader) Load(ctx context.Context, doc domain.Document) (*ports.LoadedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = domain.MIMETypeFor(doc.Path)
	}
	if mimeType == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedDocument, doc.Filename())
	}

	data, err := afero.ReadFile(l.fs, doc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDocumentRead, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrDocumentRead, doc.Filename())
	}

	pages := 1
	if mimeType == "application/pdf" {
		pages, err = api.PageCount(bytes.NewReader(data), l.conf)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrDocumentRead, doc.Filename(), err)
		}
		if pages < 1 {
			pages = 1
		}
	}

	loaded := &ports.LoadedDocument{
		Data:     data,
		MIMEType: mimeType,
		Pages:    pages,
	}
	if l.pageImages && mimeType == "application/pdf" {
		images, err := ExtractPageImages(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: extract page images: %v", domain.ErrDocumentRead, doc.Filename(), err)
		}
		if len(images) == 0 {
			return nil, fmt.Errorf("%w: %s has no embedded page images; use `docscribe batch` or --provider vertex",
				domain.ErrUnsupportedDocument, doc.Filename())
		}
		loaded.PageImages = images
	}
	return loaded, nil
}

// EstimateTokens estimates the token cost of a document with the given page count.
// base covers the prompt, schema and response.
func EstimateTokens(pages, tokensPerPage, base int) int {
	if pages < 1 {
		pages = 1
	}
	return base + pages*tokensPerPage
}

// Estimator returns a limiter reservation function for documents that have
// not been loaded yet. Unreadable PDFs count as one page; Load reports them.
func (l *Loader) Estimator(tokensPerPage, base int) func(domain.Document) int {
	return func(doc domain.Document) int {
		return EstimateTokens(l.pages(doc), tokensPerPage, base)
	}
}

func (l *Loader) pages(doc domain.Document) int {
	if !doc.IsPDF() {
		return 1
	}
	f, err := l.fs.Open(doc.Path)
	if err != nil {
		return 1
	}
	defer f.Close()

	n, err := api.PageCount(f, l.conf)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

var _ ports.DocumentLoader = (*Loader)(nil)
