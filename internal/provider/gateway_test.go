package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAdapter struct {
	mock.Mock
	id         string
	model      string
	configured bool
}

func newMockAdapter(id string, configured bool) *MockAdapter {
	return &MockAdapter{id: id, model: id + "-default", configured: configured}
}

func (m *MockAdapter) ID() string           { return m.id }
func (m *MockAdapter) DefaultModel() string { return m.model }
func (m *MockAdapter) Configured() bool     { return m.configured }

func (m *MockAdapter) Serves(model string) bool {
	return model == m.model || strings.HasPrefix(model, m.id+"-")
}

func (m *MockAdapter) Complete(ctx context.Context, spec CallSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func TestGateway_Resolve(t *testing.T) {
	groq := newMockAdapter(Groq, false)
	openai := newMockAdapter(OpenAI, true)
	gemini := newMockAdapter(Gemini, true)
	g := NewGateway(nil, GatewayConfig{}, groq, openai, gemini)

	a, model, err := g.Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, OpenAI, a.ID())
	assert.Equal(t, "openai-default", model)

	a, model, err = g.Resolve(Gemini, "gemini-1.5-pro")
	require.NoError(t, err)
	assert.Equal(t, Gemini, a.ID())
	assert.Equal(t, "gemini-1.5-pro", model)

	a, model, err = g.Resolve(Groq, "llama-3.3-70b-versatile")
	require.NoError(t, err)
	assert.Equal(t, OpenAI, a.ID(), "unconfigured provider falls back by priority")
	assert.Equal(t, "openai-default", model)

	a, model, err = g.Resolve("anthropic", "")
	require.NoError(t, err)
	assert.Equal(t, OpenAI, a.ID(), "unknown provider falls back like an unconfigured one")
	assert.Equal(t, "openai-default", model)

	assert.Equal(t, "openai-default", g.ModelFor("", ""))
	assert.Equal(t, "openai-default", g.ModelFor("anthropic", "custom"))
}

func TestGateway_Resolve_PrefersAdapterServingModel(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	openai := newMockAdapter(OpenAI, true)
	gemini := newMockAdapter(Gemini, true)
	g := NewGateway(nil, GatewayConfig{}, groq, openai, gemini)

	a, model, err := g.Resolve("", "gemini-1.5-pro")
	require.NoError(t, err)
	assert.Equal(t, Gemini, a.ID())
	assert.Equal(t, "gemini-1.5-pro", model)

	a, model, err = g.Resolve("mistral", "gemini-1.5-flash")
	require.NoError(t, err)
	assert.Equal(t, Gemini, a.ID())
	assert.Equal(t, "gemini-1.5-flash", model)
}

func TestGateway_Resolve_DropsUnservedModel(t *testing.T) {
	groq := newMockAdapter(Groq, false)
	openai := newMockAdapter(OpenAI, true)
	gemini := newMockAdapter(Gemini, true)
	g := NewGateway(nil, GatewayConfig{}, groq, openai, gemini)

	a, model, err := g.Resolve(Groq, "groq-llama-3.3-70b")
	require.NoError(t, err)
	assert.Equal(t, OpenAI, a.ID())
	assert.Equal(t, "openai-default", model, "model only groq serves is not sent to openai")

	a, model, err = g.Resolve("", "claude-3-opus")
	require.NoError(t, err)
	assert.Equal(t, OpenAI, a.ID())
	assert.Equal(t, "openai-default", model)
}

func TestGateway_Resolve_UnknownProviderWithNothingConfigured(t *testing.T) {
	g := NewGateway(nil, GatewayConfig{}, newMockAdapter(Groq, false))

	_, _, err := g.Resolve("anthropic", "")
	assert.ErrorIs(t, err, domain.ErrNoProviderConfigured)
}

func TestChatAdapter_Serves(t *testing.T) {
	groq := NewGroqAdapter("k")
	openai := NewOpenAIAdapter("k")

	assert.True(t, groq.Serves(DefaultGroqModel))
	assert.True(t, groq.Serves("llama-3.1-8b-instant"))
	assert.False(t, groq.Serves("gpt-4o"))
	assert.True(t, openai.Serves("gpt-4o"))
	assert.False(t, openai.Serves("gemini-1.5-pro"))
	assert.True(t, NewGeminiAdapter("k", "", nil).Serves("gemini-1.5-pro"))
	assert.True(t, NewHuggingFaceAdapter("k", "", nil).Serves("mistralai/Mistral-7B-Instruct-v0.3"))
	assert.False(t, NewHuggingFaceAdapter("k", "", nil).Serves("gpt-4o"))
}

func TestGateway_NoProviderConfigured(t *testing.T) {
	g := NewGateway(nil, GatewayConfig{}, newMockAdapter(Groq, false), newMockAdapter(OpenAI, false))

	assert.False(t, g.Configured())
	_, err := g.Complete(context.Background(), CallSpec{UserPrompt: "hi"})
	assert.ErrorIs(t, err, domain.ErrNoProviderConfigured)
}

func TestGateway_Complete_Success(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(nil, GatewayConfig{}, groq)
	groq.On("Complete", mock.Anything, mock.MatchedBy(func(s CallSpec) bool {
		return s.ProviderID == Groq && s.ModelID == "groq-default" && s.UserPrompt == "List the EMD amount."
	})).Return(`{"emd":"INR 50,000"}`, nil)

	out, err := g.Complete(context.Background(), CallSpec{SystemPrompt: "Extract facts.", UserPrompt: "List the EMD amount."})

	require.NoError(t, err)
	assert.Equal(t, `{"emd":"INR 50,000"}`, out.Text)
	assert.Equal(t, Groq, out.Provider)
	assert.False(t, out.Truncated)
	assert.Greater(t, out.PromptTokens, 0)
	groq.AssertExpectations(t)
}

func TestGateway_Complete_TruncatesOverflowingUserPrompt(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(tokens.NewManager(nil), GatewayConfig{}, groq)
	system := strings.Repeat("s", 400)
	user := strings.Repeat("u", 30000)
	model := "llama-3.3-70b-versatile"

	before := g.Tokens().IsSafe(system+"\n\n"+user, model)
	require.False(t, before.Safe)
	require.Greater(t, before.Overflow, 0)

	var sent CallSpec
	groq.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(CallSpec) }).
		Return("ok", nil).Once()

	out, err := g.Complete(context.Background(), CallSpec{SystemPrompt: system, UserPrompt: user, ModelID: model})

	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.Equal(t, system, sent.SystemPrompt, "system prompt is never truncated")
	assert.True(t, strings.HasSuffix(sent.UserPrompt, tokens.TruncationMarker))
	after := g.Tokens().IsSafe(sent.SystemPrompt+"\n\n"+sent.UserPrompt, model)
	assert.True(t, after.Safe)
	assert.LessOrEqual(t, after.Tokens, g.Tokens().SafeLimit(model))
	groq.AssertExpectations(t)
}

func TestGateway_Complete_ContextTooLarge(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(nil, GatewayConfig{}, groq)

	_, err := g.Complete(context.Background(), CallSpec{
		SystemPrompt: strings.Repeat("s", 23000),
		UserPrompt:   strings.Repeat("u", 4000),
		ModelID:      "llama-3.3-70b-versatile",
	})

	assert.ErrorIs(t, err, domain.ErrContextTooLarge)
	groq.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestGateway_Complete_PropagatesProviderError(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(nil, GatewayConfig{}, groq)
	groq.On("Complete", mock.Anything, mock.Anything).
		Return("", &Error{Provider: Groq, StatusCode: 503, Body: "overloaded"})

	_, err := g.Complete(context.Background(), CallSpec{UserPrompt: "hello"})

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 503, perr.StatusCode)
	assert.Equal(t, "provider groq: status 503: overloaded", err.Error())
}

func TestGateway_Complete_Timeout(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(nil, GatewayConfig{Timeout: 20 * time.Millisecond}, groq)
	groq.On("Complete", mock.Anything, mock.Anything).
		Return("", context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		})

	_, err := g.Complete(context.Background(), CallSpec{UserPrompt: "hello"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_Complete_RateLimited(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(nil, GatewayConfig{RequestsPerSecond: 1000, Burst: 2}, groq)
	groq.On("Complete", mock.Anything, mock.Anything).Return("ok", nil).Twice()

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), CallSpec{UserPrompt: "hello"})
		require.NoError(t, err)
	}
	groq.AssertExpectations(t)
}

func TestGateway_Complete_RateLimiterHonoursCancel(t *testing.T) {
	groq := newMockAdapter(Groq, true)
	g := NewGateway(nil, GatewayConfig{RequestsPerSecond: 0.001, Burst: 1}, groq)
	groq.On("Complete", mock.Anything, mock.Anything).Return("ok", nil).Once()

	_, err := g.Complete(context.Background(), CallSpec{UserPrompt: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Complete(ctx, CallSpec{UserPrompt: "second"})

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, Groq, perr.Provider)
	groq.AssertExpectations(t)
}
