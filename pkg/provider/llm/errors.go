package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ContextOverflowError is returned when a prompt leaves no headroom for
// output within the model's context window. It is never retryable.
type ContextOverflowError struct {
	Provider      string
	Model         string
	PromptTokens  int
	ContextWindow int
	Margin        int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("llm: %s/%s: insufficient context window: prompt ~%d tokens, context window %d, margin %d",
		e.Provider, e.Model, e.PromptTokens, e.ContextWindow, e.Margin)
}

// ProviderError wraps a vendor failure with enough structure for the router
// to decide whether to retry or fall back. The Message is sanitised: URLs
// and credential-shaped tokens never survive into it.
type ProviderError struct {
	// Provider is the name of the backend that failed.
	Provider string

	// StatusCode is the vendor HTTP status, when known (0 otherwise).
	StatusCode int

	// Message is the sanitised vendor message.
	Message string

	// Retryable marks transient failures (429, 5xx, timeouts, connection
	// resets). Auth and invalid-parameter failures are not retryable.
	Retryable bool

	// Err is the underlying error, preserved for errors.Is/As chains.
	Err error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// statusPattern extracts an HTTP status code from SDK error strings of the
// form "... 429 Too Many Requests ..." when the SDK does not expose one.
var statusPattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// WrapVendorError classifies err into a [*ProviderError] for provider.
// Context cancellation and overflow errors pass through untouched so callers
// can match them directly.
func WrapVendorError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var overflow *ContextOverflowError
	if errors.As(err, &overflow) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	msg := err.Error()
	status := 0
	if m := statusPattern.FindString(msg); m != "" {
		fmt.Sscanf(m, "%d", &status)
	}

	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    Sanitize(msg),
		Retryable:  retryableVendorError(err, status),
		Err:        err,
	}
}

// retryableVendorError decides whether a vendor failure is transient.
func retryableVendorError(err error, status int) bool {
	switch status {
	case 401, 403:
		return false
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	if status >= 400 && status < 500 {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "timeout", "temporarily unavailable", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err represents a transient failure the router
// may retry or route around.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s"']+`)
	tokenPattern = regexp.MustCompile(`[A-Za-z0-9_-]{32,}`)
)

// Sanitize strips URLs and credential-shaped tokens (32+ alphanumeric
// characters) from s so that vendor error bodies can be surfaced to callers
// without leaking endpoints or API keys.
func Sanitize(s string) string {
	s = urlPattern.ReplaceAllString(s, "[url]")
	s = tokenPattern.ReplaceAllString(s, "[redacted]")
	if len(s) > 512 {
		s = s[:512] + "…"
	}
	return s
}
