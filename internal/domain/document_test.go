package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDocumentID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"scans/12345.pdf", "12345"},
		{"12345.pdf", "12345"},
		{"/data/a/b/doc.v2.png", "doc.v2"},
		{"noext", "noext"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DocumentID(tt.path); got != tt.want {
				t.Errorf("DocumentID(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMIMETypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.pdf", "application/pdf"},
		{"a.PDF", "application/pdf"},
		{"a.jpeg", "image/jpeg"},
		{"a.png", "image/png"},
		{"a.tiff", ""},
		{"a.txt", ""},
	}

	for _, tt := range tests {
		if got := MIMETypeFor(tt.path); got != tt.want {
			t.Errorf("MIMETypeFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument("/scans/12345.pdf", 2048)

	if doc.ID != "12345" {
		t.Errorf("ID = %q, want 12345", doc.ID)
	}
	if !doc.IsPDF() {
		t.Error("IsPDF() = false, want true")
	}
	if doc.Filename() != "12345.pdf" {
		t.Errorf("Filename() = %q, want 12345.pdf", doc.Filename())
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobCompleted, JobFailed, JobExpired, JobCancelled}
	running := []JobStatus{JobValidating, JobInProgress, JobFinalizing, JobCancelling}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range running {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestProviderError_Is(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		target    error
		transient bool
	}{
		{KindRateLimit, ErrRateLimited, true},
		{KindAPI, ErrProviderAPI, true},
		{KindConnection, ErrConnection, true},
		{KindInvalidRequest, ErrInvalidRequest, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("call failed: %w", &ProviderError{Kind: tt.kind, Message: "boom"})
			if !errors.Is(err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.target)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", IsTransient(err), tt.transient)
			}
		})
	}

	if IsTransient(ErrResponseParse) {
		t.Error("IsTransient(ErrResponseParse) = true, want false")
	}
}

func TestProcessingState_SuccessRate(t *testing.T) {
	s := &ProcessingState{Processed: 300, Successful: 290}
	got := fmt.Sprintf("%.1f", s.SuccessRate())
	if got != "96.7" {
		t.Errorf("SuccessRate() = %s, want 96.7", got)
	}

	empty := &ProcessingState{}
	if empty.SuccessRate() != 0 {
		t.Errorf("SuccessRate() on empty state = %v, want 0", empty.SuccessRate())
	}
}
