package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// ErrorType is the classification attached to a failed completion attempt.
type ErrorType string

const (
	ErrRateLimit      ErrorType = "RATE_LIMIT"
	ErrServer         ErrorType = "SERVER_ERROR"
	ErrTimeout        ErrorType = "TIMEOUT"
	ErrNetwork        ErrorType = "NETWORK_ERROR"
	ErrAuth           ErrorType = "AUTH_ERROR"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrUnknown        ErrorType = "UNKNOWN"
)

// Retryable reports whether a failure of this type on the given 1-based
// attempt should be retried. Unknown failures get one retry only.
func (t ErrorType) Retryable(attempt int) bool {
	switch t {
	case ErrRateLimit, ErrServer, ErrTimeout, ErrNetwork:
		return true
	case ErrAuth, ErrInvalidRequest:
		return false
	default:
		return attempt == 1
	}
}

// ProviderError is an HTTP-level failure reported by a provider adapter.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// InvocationError is returned once a completion has failed for good.
type InvocationError struct {
	Type     ErrorType
	Message  string
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("llm %s after %d attempt(s): %s", e.Type, e.Attempts, e.Message)
}

func (e *InvocationError) Unwrap() error { return e.Err }

var statusPattern = regexp.MustCompile(`status(?: code)?:? (\d{3})`)

// Classify maps an error from a provider to an ErrorType.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Type
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return classifyStatus(provErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if t := classifyStatus(code); t != ErrUnknown {
			return t
		}
	}
	return classifyMessage(msg)
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == 429:
		return ErrRateLimit
	case code == 401 || code == 403:
		return ErrAuth
	case code == 408 || code == 504:
		return ErrTimeout
	case code >= 500:
		return ErrServer
	case code >= 400:
		return ErrInvalidRequest
	default:
		return ErrUnknown
	}
}

var messageClasses = []struct {
	t        ErrorType
	keywords []string
}{
	{ErrRateLimit, []string{"rate limit", "too many requests", "quota"}},
	{ErrAuth, []string{"unauthorized", "invalid api key", "incorrect api key", "authentication", "forbidden"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrNetwork, []string{"connection refused", "connection reset", "no such host", "broken pipe", "network", "eof"}},
	{ErrServer, []string{"internal server error", "bad gateway", "service unavailable", "overloaded"}},
	{ErrInvalidRequest, []string{"invalid request", "bad request", "context length", "maximum context"}},
}

func classifyMessage(msg string) ErrorType {
	for _, c := range messageClasses {
		for _, k := range c.keywords {
			if strings.Contains(msg, k) {
				return c.t
			}
		}
	}
	return ErrUnknown
}
