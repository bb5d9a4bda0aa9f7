package provider

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Model families hosted by each chat-completion provider.
var (
	OpenAIModelPrefixes = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}
	GroqModelPrefixes   = []string{"llama", "meta-llama/", "mixtral", "gemma", "qwen", "deepseek", "moonshotai/", "openai/gpt-oss"}
)

// ChatAdapter covers every provider speaking the chat-completion format.
type ChatAdapter struct {
	id            string
	defaultModel  string
	modelPrefixes []string
	configured    bool
	client        *openai.Client
}

// NewChatAdapter builds a chat-completion adapter serving models that start
// with one of modelPrefixes. An empty baseURL keeps the go-openai default.
func NewChatAdapter(id, apiKey, baseURL, defaultModel string, modelPrefixes []string) *ChatAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &ChatAdapter{
		id:            id,
		defaultModel:  defaultModel,
		modelPrefixes: modelPrefixes,
		configured:    apiKey != "",
		client:        openai.NewClientWithConfig(cfg),
	}
}

// NewOpenAIAdapter returns the OpenAI chat-completion adapter.
func NewOpenAIAdapter(apiKey string) *ChatAdapter {
	return NewChatAdapter(OpenAI, apiKey, "", DefaultOpenAIModel, OpenAIModelPrefixes)
}

// NewGroqAdapter returns the Groq adapter on its OpenAI-compatible endpoint.
func NewGroqAdapter(apiKey string) *ChatAdapter {
	return NewChatAdapter(Groq, apiKey, GroqBaseURL, DefaultGroqModel, GroqModelPrefixes)
}

func (a *ChatAdapter) ID() string           { return a.id }
func (a *ChatAdapter) DefaultModel() string { return a.defaultModel }
func (a *ChatAdapter) Configured() bool     { return a.configured }

// Serves reports whether model is the default or belongs to a hosted family.
func (a *ChatAdapter) Serves(model string) bool {
	return model == a.defaultModel || hasAnyPrefix(model, a.modelPrefixes)
}

// Complete sends one chat completion with an optional system message.
func (a *ChatAdapter) Complete(ctx context.Context, spec CallSpec) (string, error) {
	var messages []openai.ChatCompletionMessage
	if spec.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: spec.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: spec.UserPrompt,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       spec.ModelID,
		Messages:    messages,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxResponseTokens,
	})
	if err != nil {
		return "", a.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: a.id, Body: "no choices in response"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *ChatAdapter) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: a.id, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &Error{Provider: a.id, StatusCode: reqErr.HTTPStatusCode, Body: body, Err: err}
	}
	return &Error{Provider: a.id, Err: err}
}
