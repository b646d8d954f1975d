// Package ai provides the answer-generation model port and its provider
// adapters. Providers register themselves by name; configuration selects
// one at startup and unknown names fail validation.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLM generates natural-language or structured answers from a prompt.
type LLM interface {
	// Generate returns the model's text completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateJSON asks the model for a single JSON object and unmarshals
	// it into out. Markdown code fences around the object are tolerated.
	GenerateJSON(ctx context.Context, prompt string, out any) error
	// Name identifies the provider, e.g. "openai" or "anthropic".
	Name() string
}

// ErrorClass distinguishes failures worth retrying from terminal ones.
type ErrorClass string

const (
	// ErrClassTransient covers rate limits, timeouts and 5xx responses.
	ErrClassTransient ErrorClass = "transient"
	// ErrClassPermanent covers auth failures, bad requests and anything
	// a retry will not fix.
	ErrClassPermanent ErrorClass = "permanent"
)

// Error wraps a provider failure with enough context for retry policy.
type Error struct {
	Provider string
	Class    ErrorClass
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err for the given provider and class.
func NewError(provider string, class ErrorClass, err error) *Error {
	return &Error{Provider: provider, Class: class, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a transient
// provider error.
func IsTransient(err error) bool {
	var aerr *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			aerr = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return aerr != nil && aerr.Class == ErrClassTransient
}

// classifyStatus maps an HTTP status code to an error class. Rate limits,
// request timeouts and server errors are retryable.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == 408 || code == 429:
		return ErrClassTransient
	case code >= 500:
		return ErrClassTransient
	default:
		return ErrClassPermanent
	}
}

// jsonInstruction is appended to GenerateJSON prompts so models answer with
// a bare object instead of prose.
const jsonInstruction = "\n\nRespond with a single JSON object only. Do not include any text outside the JSON."

// decodeJSONAnswer strips Markdown code fences and unmarshals the remaining
// text into out.
func decodeJSONAnswer(raw string, out any) error {
	cleaned := stripCodeFences(raw)
	if cleaned == "" {
		return fmt.Errorf("model returned empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parse model JSON: %w", err)
	}
	return nil
}

// stripCodeFences removes a surrounding ```json ... ``` (or bare ```) fence
// when the model wraps its answer despite instructions.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON" or empty).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
