package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Document is a source scan queued for transcription
type Document struct {
	ID       string // base filename without extension
	Path     string
	MIMEType string
	Size     int64
}

// NewDocument builds a Document from a file path
func NewDocument(path string, size int64) Document {
	return Document{
		ID:       DocumentID(path),
		Path:     path,
		MIMEType: MIMETypeFor(path),
		Size:     size,
	}
}

// DocumentID derives the document identifier from its file path
// Examples: "scans/12345.pdf" -> "12345", "a/b/doc.v2.png" -> "doc.v2"
func DocumentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Filename returns the base filename of the document
func (d Document) Filename() string {
	return filepath.Base(d.Path)
}

// IsPDF reports whether the document is a PDF
func (d Document) IsPDF() bool {
	return d.MIMEType == "application/pdf"
}

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// MIMETypeFor returns the MIME type for a supported extension, or "" if unsupported
func MIMETypeFor(path string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(path))]
}

// IsSupported reports whether the file extension is a supported document type
func IsSupported(path string) bool {
	return MIMETypeFor(path) != ""
}

// Outcome is the final classification of one document
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Usage is the token usage of one provider call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// DocumentResult is what the per-document pipeline reports back
type DocumentResult struct {
	DocumentID    string
	Outcome       Outcome
	Confidence    float64
	HasConfidence bool
	Cost          float64
	Usage         Usage
	Attempts      int
	Issues        []string
	Error         string
	Duration      time.Duration
}
