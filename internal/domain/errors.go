package domain

import (
	"errors"
	"fmt"
)

var (
	// Transient provider errors (retried with backoff)
	ErrRateLimited = errors.New("rate limited by provider")
	ErrProviderAPI = errors.New("provider API error")
	ErrConnection  = errors.New("provider connection error")

	// Unusable responses (terminal for the document)
	ErrResponseParse  = errors.New("response is not valid JSON")
	ErrSchemaInvalid  = errors.New("response failed schema validation")
	ErrFinishReason   = errors.New("unexpected finish reason")
	ErrMissingFields  = errors.New("response is missing required fields")
	ErrInvalidRequest = errors.New("provider rejected request")

	// Local I/O errors
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrDocumentRead        = errors.New("cannot read source document")
	ErrOutputWrite         = errors.New("cannot write output file")

	// Session state errors
	ErrNoSession       = errors.New("no active processing session")
	ErrSessionExists   = errors.New("processing session already exists")
	ErrSessionComplete = errors.New("processing session is complete")
	ErrStateCorrupt    = errors.New("state file is corrupt")

	// Batch job errors
	ErrPollTimeout = errors.New("timed out waiting for batch job")
	ErrJobNotFound = errors.New("batch job not found")

	// Startup errors
	ErrPromptMissing = errors.New("prompt file not found")
	ErrSchemaMissing = errors.New("schema file not found")
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindAPI            ErrorKind = "api"
	KindConnection     ErrorKind = "connection"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// ProviderError is the error variant of a provider call result.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Is lets errors.Is match a ProviderError against the transient sentinels.
func (e *ProviderError) Is(target error) bool {
	switch e.Kind {
	case KindRateLimit:
		return target == ErrRateLimited
	case KindAPI:
		return target == ErrProviderAPI
	case KindConnection:
		return target == ErrConnection
	case KindInvalidRequest:
		return target == ErrInvalidRequest
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderAPI) ||
		errors.Is(err, ErrConnection)
}
