package providers

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a provider failure for the retry policy and for
// user-facing messages.
type Kind string

const (
	KindAuthentication    Kind = "authentication"
	KindRateLimit         Kind = "rate_limit"
	KindInsufficientQuota Kind = "insufficient_quota"
	KindModelNotFound     Kind = "model_not_found"
	KindServer            Kind = "server"
	KindConnection        Kind = "connection"
	KindTimeout           Kind = "timeout"
	KindOther             Kind = "other"
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Message  string
	Hint     string
	Status   int
	Cause    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	if e.Model != "" {
		msg += fmt.Sprintf(" (model: %s)", e.Model)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the engine should retry this failure.
// Rate limits, server errors, and connection/timeout failures are
// transient; authentication, quota, and unknown-model failures are not.
// Unclassified errors are retried only when their text hints at a
// transient condition.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindConnection, KindTimeout:
		return true
	case KindAuthentication, KindInsufficientQuota, KindModelNotFound:
		return false
	}
	lower := strings.ToLower(e.Message)
	for _, hint := range []string{"rate limit", "timeout", "overloaded", "503"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// statusEntry maps one HTTP status to a classification and guidance.
type statusEntry struct {
	kind    Kind
	message string
	hint    string
}

var statusMap = map[int]statusEntry{
	401: {KindAuthentication, "authentication failed: API key is invalid or missing", "check the provider's api_key in your config"},
	403: {KindAuthentication, "access denied: API key lacks permission for this resource", "verify the key's permissions on the provider dashboard"},
	402: {KindInsufficientQuota, "insufficient credits or quota on this account", "add credits on the provider's billing page"},
	404: {KindModelNotFound, "model not found on this provider", "set agents.defaults.model to a model the provider serves"},
	422: {KindOther, "the provider rejected the request payload", "this may be a model compatibility issue; try a different model"},
	429: {KindRateLimit, "rate limit exceeded", "wait a moment and try again"},
	500: {KindServer, "provider internal server error", "try again in a moment"},
	502: {KindServer, "provider returned a bad gateway error", "try again in a moment"},
	503: {KindServer, "provider is temporarily unavailable", "try again in a moment"},
	504: {KindServer, "provider gateway timeout", "try again in a moment"},
	529: {KindServer, "provider is overloaded", "try again in a moment"},
}

// FromStatus builds a classified error from an HTTP status code.
func FromStatus(status int, provider, model, detail string) *Error {
	entry, ok := statusMap[status]
	if !ok {
		entry = statusEntry{KindOther, fmt.Sprintf("unexpected HTTP %d from provider", status), ""}
	}
	msg := entry.message
	if detail != "" {
		short := strings.ReplaceAll(detail, "\n", " ")
		if len(short) > 200 {
			short = short[:200]
		}
		msg = msg + ": " + short
	}
	return &Error{
		Kind:     entry.kind,
		Provider: provider,
		Model:    model,
		Message:  msg,
		Hint:     entry.hint,
		Status:   status,
	}
}

// Classify wraps an arbitrary transport error into a classified *Error.
// Already-classified errors pass through unchanged.
func Classify(err error, provider, model string) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	kind := KindOther
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = KindTimeout
	} else {
		lower := strings.ToLower(err.Error())
		switch {
		case strings.Contains(lower, "connection refused"),
			strings.Contains(lower, "no such host"),
			strings.Contains(lower, "connection reset"):
			kind = KindConnection
		case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
			kind = KindTimeout
		}
	}

	return &Error{
		Kind:     kind,
		Provider: provider,
		Model:    model,
		Message:  err.Error(),
		Cause:    err,
	}
}

// IsRetryable reports whether the engine should retry err. Non-provider
// errors are never retried.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}
