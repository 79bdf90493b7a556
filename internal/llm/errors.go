package llm

import (
	"errors"
	"fmt"
	"strings"
)

// FailKind classifies a provider failure for logging, retry and failover
// decisions, and for the message shown to the user.
type FailKind string

const (
	FailAuth          FailKind = "auth"
	FailRateLimit     FailKind = "rate_limit"
	FailContextLength FailKind = "context_length"
	FailNetwork       FailKind = "network"
	FailServer        FailKind = "server_error"
	FailUnknown       FailKind = "unknown"
)

// Retryable reports whether the same endpoint is worth retrying.
func (k FailKind) Retryable() bool {
	switch k {
	case FailRateLimit, FailNetwork, FailServer:
		return true
	}
	return false
}

// Error is a provider failure annotated with its origin and class.
type Error struct {
	Provider string
	Model    string
	Kind     FailKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr annotates a raw provider error, classifying it by its text.
func wrapErr(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Provider: provider, Model: model, Kind: Classify(err), Err: err}
}

// Classify assigns a failure class to an error by inspecting its text,
// since provider SDKs disagree on error types but agree on vocabulary.
func Classify(err error) FailKind {
	if err == nil {
		return FailUnknown
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid x-api-key"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "api key not valid"):
		return FailAuth

	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "throttl"):
		return FailRateLimit

	case strings.Contains(msg, "context length"),
		strings.Contains(msg, "context_length"),
		strings.Contains(msg, "context window"),
		strings.Contains(msg, "maximum context"),
		strings.Contains(msg, "prompt is too long"),
		strings.Contains(msg, "too many tokens"):
		return FailContextLength

	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "gateway timeout"),
		strings.Contains(msg, "overloaded"):
		return FailServer

	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return FailNetwork
	}
	return FailUnknown
}

// UserMessage renders a provider failure as the assistant reply shown to
// the user when every model in the chain has failed.
func UserMessage(err error) string {
	switch Classify(err) {
	case FailAuth:
		return "I couldn't authenticate with the language model provider. Please check the configured API key."
	case FailRateLimit:
		return "The language model provider is rate limiting requests right now. Please try again in a moment."
	case FailContextLength:
		return "This conversation no longer fits the model's context window. Older messages will be consolidated shortly; please try again."
	case FailNetwork:
		return "I couldn't reach the language model provider. Please check the network connection and try again."
	case FailServer:
		return "The language model provider reported an internal error. Please try again shortly."
	default:
		return fmt.Sprintf("The language model request failed: %v", err)
	}
}
