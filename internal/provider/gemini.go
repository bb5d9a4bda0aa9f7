package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GeminiBaseURL is the public Generative Language API root.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiKeyHeader carries the API key so it never appears in a URL.
const geminiKeyHeader = "x-goog-api-key"

// GeminiAdapter uses the single-prompt generateContent endpoint. The
// system prompt is prepended to the user prompt.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiAdapter returns a Gemini adapter. Empty baseURL and nil client
// select the public endpoint and http.DefaultClient.
func NewGeminiAdapter(apiKey, baseURL string, client *http.Client) *GeminiAdapter {
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiAdapter{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *GeminiAdapter) ID() string           { return Gemini }
func (a *GeminiAdapter) DefaultModel() string { return DefaultGeminiModel }
func (a *GeminiAdapter) Configured() bool     { return a.apiKey != "" }

// Serves reports whether model is a Gemini model.
func (a *GeminiAdapter) Serves(model string) bool { return strings.HasPrefix(model, "gemini-") }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float32 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Complete calls generateContent and returns the first candidate's text.
func (a *GeminiAdapter) Complete(ctx context.Context, spec CallSpec) (string, error) {
	var req geminiRequest
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: joinPrompt(spec)}}}}
	req.GenerationConfig.Temperature = spec.Temperature
	req.GenerationConfig.MaxOutputTokens = spec.MaxResponseTokens

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, url.PathEscape(spec.ModelID))
	headers := map[string]string{geminiKeyHeader: a.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, a.client, Gemini, endpoint, headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Provider: Gemini, Body: "no candidates in response"}
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func joinPrompt(spec CallSpec) string {
	if spec.SystemPrompt == "" {
		return spec.UserPrompt
	}
	return spec.SystemPrompt + "\n\n" + spec.UserPrompt
}
