// Package llm wraps the external text-completion services used by the
// pipeline. Every provider is reduced to a single blocking call that takes a
// conversation and a token budget and returns generated text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
type Request struct {
	Messages  []Message
	MaxTokens int
	// WebSearch offers the provider's search tool when it has one.
	WebSearch bool
	// AllowedDomains restricts web search for providers that support it.
	AllowedDomains []string
}

// Completer is the black-box text completion service.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrorKind classifies a ServiceError.
type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"
	KindQuota     ErrorKind = "quota"
	KindInvalid   ErrorKind = "invalid"
	KindTransport ErrorKind = "transport"
)

// ServiceError is returned by every Completer when the provider call fails.
// It is never retried inside this package.
type ServiceError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

func newServiceError(provider string, status int, err error) *ServiceError {
	return &ServiceError{
		Provider:   provider,
		Kind:       kindForStatus(status),
		StatusCode: status,
		Err:        err,
	}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return KindQuota
	case status >= 400 && status < 500:
		return KindInvalid
	default:
		return KindTransport
	}
}

// Settings selects and configures a provider.
type Settings struct {
	Provider string // anthropic, bedrock, openai, gemini
	Model    string // provider-specific alias or full model ID
	APIKey   string
	BaseURL  string
	Region   string
	Timeout  time.Duration
}

// Providers returns the accepted provider names.
func Providers() []string {
	return []string{"anthropic", "bedrock", "openai", "gemini"}
}

// New constructs the Completer for s.Provider. The returned client is meant
// to be built once and shared by every pipeline run.
func New(ctx context.Context, s Settings) (Completer, error) {
	switch s.Provider {
	case "", "anthropic":
		return NewAnthropic(s.APIKey, s.Model, s.BaseURL), nil
	case "bedrock":
		return NewBedrock(ctx, s.Model, s.Region)
	case "openai":
		return NewOpenAI(s.APIKey, s.Model, s.BaseURL)
	case "gemini":
		return NewGemini(s.APIKey, s.Model, s.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: choose anthropic, bedrock, openai, or gemini", s.Provider)
	}
}
