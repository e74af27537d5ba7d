package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"
)

// ErrorKind classifies a failed model call for the repair loop.
type ErrorKind string

const (
	KindRateLimit   ErrorKind = "rate_limit"
	KindSafetyBlock ErrorKind = "safety_block"
	KindTimeout     ErrorKind = "timeout"
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
)

// LLMError is a classified backend failure.
type LLMError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *LLMError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// NewLLMError classifies err and wraps it.
func NewLLMError(err error) *LLMError {
	var le *LLMError
	if errors.As(err, &le) {
		return le
	}
	return &LLMError{Kind: Classify(err), StatusCode: statusCode(err), Err: err}
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case KindRateLimit, KindTimeout, KindTransient:
		return true
	}
	return false
}

var (
	rateLimitKeywords = []string{"resource_exhausted", "rate limit", "ratelimit", "too many requests", "quota"}
	timeoutKeywords   = []string{"deadline_exceeded", "timed out", "timeout"}
	transientKeywords = []string{"unavailable", "overloaded", "internal error", "bad gateway", "connection reset"}
	permanentKeywords = []string{"invalid_argument", "permission_denied", "unauthenticated", "not_found", "api key not valid"}
)

// Classify maps any backend error onto an ErrorKind. Unknown errors are
// treated as transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *LLMError
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if code := statusCode(err); code != 0 {
		if kind, ok := classifyStatus(code); ok {
			return kind
		}
	}
	if status := apiStatus(err); status != "" {
		if kind, ok := classifyText(status); ok {
			return kind
		}
	}
	if kind, ok := classifyText(err.Error()); ok {
		return kind
	}
	return KindTransient
}

func classifyStatus(code int) (ErrorKind, bool) {
	switch code {
	case 429:
		return KindRateLimit, true
	case 408, 504:
		return KindTimeout, true
	case 500, 502, 503:
		return KindTransient, true
	case 400, 401, 403, 404:
		return KindPermanent, true
	}
	return "", false
}

func classifyText(s string) (ErrorKind, bool) {
	s = strings.ToLower(s)
	for _, group := range []struct {
		kind     ErrorKind
		keywords []string
	}{
		{KindRateLimit, rateLimitKeywords},
		{KindTimeout, timeoutKeywords},
		{KindPermanent, permanentKeywords},
		{KindTransient, transientKeywords},
	} {
		for _, kw := range group.keywords {
			if strings.Contains(s, kw) {
				return group.kind, true
			}
		}
	}
	return "", false
}

// HTTPStatusError is returned by HTTP backends for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func apiStatus(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Status
	}
	return ""
}
