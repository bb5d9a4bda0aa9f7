// Package tokens estimates prompt sizes and splits a model's context window
// into per-purpose budgets.
package tokens

import (
	"strings"
	"unicode/utf8"
)

const (
	// CharsPerToken is the conservative character-to-token ratio.
	CharsPerToken = 4
	// FallbackMaxContext is used for models missing from the table.
	FallbackMaxContext = 4096
	// SafePromptRatio is the share of the context window a prompt may use;
	// the rest is reserved for the response.
	SafePromptRatio = 0.75
	// DefaultResponseTokens is reserved when a caller does not ask for a size.
	DefaultResponseTokens = 1000

	systemShare  = 0.10
	contextShare = 0.60
	taskShare    = 0.30
)

// TruncationMarker is appended to text cut by Truncate.
const TruncationMarker = "\n\n[... content truncated to fit token limit ...]"

// MarkerTokens is the estimated cost of TruncationMarker.
var MarkerTokens = Estimate(TruncationMarker)

var defaultModelLimits = map[string]int{
	"llama-3.3-70b-versatile":             8000,
	"llama-3.1-8b-instant":                8000,
	"llama3-70b-8192":                     8192,
	"mixtral-8x7b-32768":                  32768,
	"gemma2-9b-it":                        8192,
	"gpt-4o":                              128000,
	"gpt-4o-mini":                         128000,
	"gpt-4-turbo":                         128000,
	"gpt-3.5-turbo":                       16385,
	"gemini-1.5-flash":                    32000,
	"gemini-1.5-pro":                      32000,
	"gemini-2.0-flash":                    32000,
	"mistralai/Mistral-7B-Instruct-v0.2":  8192,
	"meta-llama/Meta-Llama-3-8B-Instruct": 8192,
}

// Budget is the per-purpose token split for one (model, response size) pair.
type Budget struct {
	Total           int `json:"total"`
	PromptAllowance int `json:"prompt_allowance"`
	ResponseReserve int `json:"response_reserve"`
	SystemShare     int `json:"system_share"`
	ContextShare    int `json:"context_share"`
	TaskShare       int `json:"task_share"`
}

// Safety is the result of a pre-flight prompt check.
type Safety struct {
	Safe     bool
	Tokens   int
	Limit    int
	Overflow int
}

// Manager holds the model context table.
type Manager struct {
	limits   map[string]int
	fallback int
}

// NewManager returns a Manager with the built-in model table. Overrides
// replace or extend entries.
func NewManager(overrides map[string]int) *Manager {
	limits := make(map[string]int, len(defaultModelLimits)+len(overrides))
	for model, max := range defaultModelLimits {
		limits[model] = max
	}
	for model, max := range overrides {
		if max > 0 {
			limits[model] = max
		}
	}
	return &Manager{limits: limits, fallback: FallbackMaxContext}
}

// Estimate returns ceil(characters / 4).
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Estimate is a convenience wrapper around the package-level Estimate.
func (m *Manager) Estimate(text string) int {
	return Estimate(text)
}

// MaxContext returns the model's context window, or the fallback.
func (m *Manager) MaxContext(model string) int {
	if max, ok := m.limits[strings.TrimSpace(model)]; ok {
		return max
	}
	return m.fallback
}

// SafeLimit is the largest prompt, in tokens, that leaves room for a response.
func (m *Manager) SafeLimit(model string) int {
	return int(float64(m.MaxContext(model)) * SafePromptRatio)
}

// IsSafe reports whether prompt fits in the model's safe limit.
func (m *Manager) IsSafe(prompt, model string) Safety {
	tokens := Estimate(prompt)
	limit := m.SafeLimit(model)
	s := Safety{Tokens: tokens, Limit: limit, Safe: tokens <= limit}
	if !s.Safe {
		s.Overflow = tokens - limit
	}
	return s
}

// Budget reserves desiredResponseTokens and splits the remaining prompt
// allowance 10/60/30 between system, context and task.
func (m *Manager) Budget(model string, desiredResponseTokens int) Budget {
	total := m.MaxContext(model)
	reserve := desiredResponseTokens
	if reserve <= 0 {
		reserve = DefaultResponseTokens
	}
	if reserve > total/2 {
		reserve = total / 2
	}
	prompt := total - reserve
	return Budget{
		Total:           total,
		PromptAllowance: prompt,
		ResponseReserve: reserve,
		SystemShare:     int(float64(prompt) * systemShare),
		ContextShare:    int(float64(prompt) * contextShare),
		TaskShare:       int(float64(prompt) * taskShare),
	}
}

// Truncate cuts text at maxTokens*4 characters and appends TruncationMarker.
// Text already within maxTokens is returned unchanged.
func Truncate(text string, maxTokens int) string {
	if Estimate(text) <= maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return TruncationMarker
	}
	runes := []rune(text)
	cut := maxTokens * CharsPerToken
	if cut > len(runes) {
		cut = len(runes)
	}
	return string(runes[:cut]) + TruncationMarker
}
