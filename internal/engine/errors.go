package engine

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"Orion-Core/server/internal/models"
)

var (
	errEmptyResponse = errors.New("provider returned no content")
	errRateLimited   = errors.New("provider rate limit reached")
)

// Failure kinds recorded on every attempt
const (
	KindTimeout       = "timeout"
	KindCanceled      = "canceled"
	KindRateLimited   = "rate_limited"
	KindServer        = "server"
	KindNetwork       = "network"
	KindEmptyResponse = "empty_response"
	KindNotFound      = "not_found"
	KindAuth          = "auth"
	KindBadRequest    = "bad_request"
	KindConfiguration = "configuration"
	KindUnknown       = "unknown"
)

// classifyError maps a provider failure to a kind. Vendor status codes win
// over transport-level inspection.
func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, errRateLimited):
		return KindRateLimited
	case errors.Is(err, errEmptyResponse):
		return KindEmptyResponse
	case models.IsConfiguration(err):
		return KindConfiguration
	}

	if code, ok := statusCode(err); ok {
		return kindForStatus(code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

func statusCode(err error) (int, bool) {
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) && oaiErr.HTTPStatusCode != 0 {
		return oaiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) && antErr.StatusCode != 0 {
		return antErr.StatusCode, true
	}
	var genErr genai.APIError
	if errors.As(err, &genErr) && genErr.Code != 0 {
		return genErr.Code, true
	}
	return 0, false
}

func kindForStatus(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindServer
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code >= 400:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// isTransientKind reports whether another attempt could succeed with the
// same input. The orchestrator moves on either way; the flag drives logging
// and the error wrapping.
func isTransientKind(kind string) bool {
	switch kind {
	case KindTimeout, KindRateLimited, KindServer, KindNetwork, KindEmptyResponse, KindUnknown:
		return true
	default:
		return false
	}
}
