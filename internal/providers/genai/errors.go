package genai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"sorapixel/internal/domain"
)

// ErrorKind classifies generator failures for the retry policy.
type ErrorKind string

const (
	KindRetryable  ErrorKind = "retryable"
	KindSafety     ErrorKind = "safety"
	KindValidation ErrorKind = "validation"
	KindTerminal   ErrorKind = "terminal"
)

// SafetyHint is surfaced verbatim to users when the generator returns nothing.
const SafetyHint = "Gemini returned no content. The image may have been blocked by safety filters. Try a different image or style."

// GenerationError is returned by every generator call that produced no usable
// output. It matches domain.ErrGenerationFailure with errors.Is.
type GenerationError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Hint    string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Hint != "" {
		return e.Hint
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	return target == domain.ErrGenerationFailure
}

// Retryable reports whether another attempt may succeed.
func (e *GenerationError) Retryable() bool {
	return e.Kind == KindRetryable
}

// UserMessage is the text safe to show the caller.
func UserMessage(err error) string {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

var retryableMarkers = []string{"429", "quota", "resource_exhausted", "500", "503", "overloaded", "unavailable"}

// classifyStatus maps an API status and message onto an ErrorKind.
func classifyStatus(status int, message string) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return KindRetryable
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		if isSafetyMessage(message) {
			return KindSafety
		}
		return KindValidation
	}
	if hasRetryableMarker(message) {
		return KindRetryable
	}
	return KindTerminal
}

// classifyTransport handles errors raised before an HTTP status was read.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTerminal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindRetryable
	}
	if hasRetryableMarker(err.Error()) {
		return KindRetryable
	}
	return KindTerminal
}

func hasRetryableMarker(message string) bool {
	msg := strings.ToLower(message)
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isSafetyMessage(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "safety") || strings.Contains(msg, "blocked") || strings.Contains(msg, "prohibited")
}

func isSafetyFinish(reason string) bool {
	switch strings.ToUpper(reason) {
	case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "RECITATION":
		return true
	}
	return false
}
