package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/devbush/docscribe/internal/domain"
	goopenai "github.com/sashabaranov/go-openai"
)

// mapError converts a go-openai error into a *domain.ProviderError.
// Context errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &domain.ProviderError{
			Kind:       kindForStatus(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Code:       code,
			Message:    apiErr.Message,
		}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &domain.ProviderError{
			Kind:       kindForStatus(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    msg,
		}
	}

	// Anything else failed before a response arrived
	return &domain.ProviderError{
		Kind:    domain.KindConnection,
		Message: err.Error(),
	}
}

func kindForStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimit
	case status == 0, status == http.StatusRequestTimeout:
		return domain.KindConnection
	case status >= 500:
		return domain.KindAPI
	default:
		return domain.KindInvalidRequest
	}
}
