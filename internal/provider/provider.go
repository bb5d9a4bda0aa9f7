// Package provider dispatches system/user prompt pairs to interchangeable
// LLM backends behind a single token-checked gateway.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifiers, in fallback priority order.
const (
	Groq        = "groq"
	OpenAI      = "openai"
	Gemini      = "gemini"
	HuggingFace = "huggingface"
)

// Priority is the fixed order used when no provider is requested or the
// requested one has no credentials.
var Priority = []string{Groq, OpenAI, Gemini, HuggingFace}

// Default models per provider.
const (
	DefaultGroqModel        = "llama-3.3-70b-versatile"
	DefaultOpenAIModel      = "gpt-4o-mini"
	DefaultGeminiModel      = "gemini-1.5-flash"
	DefaultHuggingFaceModel = "mistralai/Mistral-7B-Instruct-v0.2"
)

func hasAnyPrefix(model string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// CallSpec is one provider call. It is single-use.
type CallSpec struct {
	SystemPrompt      string
	UserPrompt        string
	ProviderID        string
	ModelID           string
	Temperature       float32
	MaxResponseTokens int
}

// Completion is the normalized provider response.
type Completion struct {
	Text         string `json:"text"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	PromptTokens int    `json:"prompt_tokens"`
	Truncated    bool   `json:"truncated"`
}

// Adapter speaks one provider's wire format. Serves reports whether the
// provider hosts a model id.
type Adapter interface {
	ID() string
	DefaultModel() string
	Configured() bool
	Serves(model string) bool
	Complete(ctx context.Context, spec CallSpec) (string, error)
}

// Error is a transport failure or non-2xx response from a provider.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Body)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
