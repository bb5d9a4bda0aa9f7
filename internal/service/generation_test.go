package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/provider"
)

// MockGateway is a mock implementation of CompletionGateway
type MockGateway struct {
	mock.Mock
	configured bool
}

func newMockGateway(configured bool) *MockGateway {
	return &MockGateway{configured: configured}
}

func (m *MockGateway) Configured() bool {
	return m.configured
}

func (m *MockGateway) ModelFor(providerID, modelID string) string {
	if modelID != "" {
		return modelID
	}
	return "llama-3.3-70b-versatile"
}

func (m *MockGateway) Complete(ctx context.Context, spec provider.CallSpec) (*provider.Completion, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Completion), args.Error(1)
}

// MockRetriever is a mock implementation of Retriever
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, input RetrievalInput) (*RetrievalResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RetrievalResult), args.Error(1)
}

func completion(text string) *provider.Completion {
	return &provider.Completion{Text: text, Provider: provider.Groq, Model: "llama-3.3-70b-versatile"}
}

func isStage(system string) interface{} {
	return mock.MatchedBy(func(spec provider.CallSpec) bool {
		return spec.SystemPrompt == system
	})
}

const tenderSource = `Tender No. PWD/2025/114 issued by Public Works Department.
Earnest Money Deposit: INR 2,00,000. Last date of submission: 15 March 2025.`

func TestGenerationService_Generate_TwoStages(t *testing.T) {
	gw := newMockGateway(true)
	gw.On("Complete", mock.Anything, isStage(extractionSystemPrompt)).Return(completion("```json\n"+
		`{"reference_number": "PWD/2025/114", "emd_amount": "INR 2,00,000", "submission_deadline": "15 March 2025", "penalty_clauses": ""}`+
		"\n```"), nil).Once()
	gw.On("Complete", mock.Anything, isStage(formattingSystemPrompt)).Return(completion(
		"## Summary\n\n- EMD: **INR 2,00,000**\n- Deadline: 15 March 2025\n"), nil).Once()

	svc := NewGenerationService(gw, nil)
	result, err := svc.Generate(context.Background(), GenerateInput{
		SourceText: tenderSource,
		Fields:     []string{"reference_number", "emd_amount", "submission_deadline", "penalty_clauses"},
	})

	require.NoError(t, err)
	assert.False(t, result.Facts.Fallback)
	assert.Equal(t, "PWD/2025/114", result.Facts.Fields["reference_number"])
	assert.Equal(t, NotSpecified, result.Facts.Fields["penalty_clauses"])
	assert.False(t, result.Presentation.Fallback)
	assert.Contains(t, result.Presentation.HTML, "<strong>INR 2,00,000</strong>")
	assert.Equal(t, ConfidenceHigh, result.Validation.Confidence)
	assert.Nil(t, result.Retrieval)
	gw.AssertExpectations(t)
}

func TestGenerationService_Generate_FlagsInventedAmount(t *testing.T) {
	gw := newMockGateway(true)
	gw.On("Complete", mock.Anything, isStage(extractionSystemPrompt)).Return(completion(
		`{"emd_amount": "INR 2,00,000"}`), nil).Once()
	gw.On("Complete", mock.Anything, isStage(formattingSystemPrompt)).Return(completion(
		"EMD is INR 2,00,000 and the document fee is INR 10,000."), nil).Once()

	svc := NewGenerationService(gw, nil)
	result, err := svc.Generate(context.Background(), GenerateInput{
		SourceText: tenderSource,
		Fields:     []string{"emd_amount"},
	})

	require.NoError(t, err)
	require.NotEmpty(t, result.Validation.Issues)
	assert.Equal(t, "INR 10,000", result.Validation.Issues[0].Value)
	assert.NotEqual(t, ConfidenceHigh, result.Validation.Confidence)
	assert.False(t, result.Presentation.Fallback, "validation is advisory")
}

func TestGenerationService_Generate_Stage2FailureUsesPassthrough(t *testing.T) {
	gw := newMockGateway(true)
	gw.On("Complete", mock.Anything, isStage(extractionSystemPrompt)).Return(completion(
		`{"emd_amount": "INR 2,00,000", "submission_deadline": "15 March 2025"}`), nil).Once()
	gw.On("Complete", mock.Anything, isStage(formattingSystemPrompt)).Return(nil,
		&provider.Error{Provider: provider.Groq, StatusCode: 503, Body: "overloaded"}).Once()

	svc := NewGenerationService(gw, nil)
	result, err := svc.Generate(context.Background(), GenerateInput{
		Task:       "Bid summary",
		SourceText: tenderSource,
		Fields:     []string{"emd_amount", "submission_deadline"},
	})

	require.NoError(t, err)
	assert.True(t, result.Presentation.Fallback)
	assert.Equal(t, "## Bid summary\n\n- **Emd amount**: INR 2,00,000\n- **Submission deadline**: 15 March 2025\n",
		result.Presentation.Markdown)
	assert.Contains(t, result.Presentation.Error, "status 503")
	assert.Contains(t, result.Presentation.HTML, "<h2>Bid summary</h2>")
	assert.Empty(t, result.Validation.Issues)
}

func TestGenerationService_Generate_Stage1MalformedFallsBack(t *testing.T) {
	gw := newMockGateway(true)
	gw.On("Complete", mock.Anything, isStage(extractionSystemPrompt)).Return(completion(
		"I could not find any of those fields."), nil).Once()

	svc := NewGenerationService(gw, nil)
	result, err := svc.Generate(context.Background(), GenerateInput{SourceText: tenderSource})

	require.NoError(t, err)
	assert.True(t, result.Facts.Fallback)
	assert.Len(t, result.Facts.Fields, len(DefaultTenderFields))
	for _, v := range result.Facts.Fields {
		assert.Equal(t, NotSpecified, v)
	}
	assert.True(t, result.Presentation.Fallback)
	assert.Equal(t, ConfidenceHigh, result.Validation.Confidence)
	gw.AssertNumberOfCalls(t, "Complete", 1)
}

func TestGenerationService_Generate_NoProviderMakesNoCalls(t *testing.T) {
	gw := newMockGateway(false)

	svc := NewGenerationService(gw, nil)
	result, err := svc.Generate(context.Background(), GenerateInput{SourceText: tenderSource, Fields: []string{"title"}})

	require.NoError(t, err)
	assert.True(t, result.Facts.Fallback)
	assert.Equal(t, NotSpecified, result.Facts.Fields["title"])
	assert.Contains(t, result.Facts.Error, "no LLM provider")
	gw.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestGenerationService_Generate_UsesRetrievedContext(t *testing.T) {
	gw := newMockGateway(true)
	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(in RetrievalInput) bool {
		return in.SessionDocumentID == "tender-1" && in.Query == DefaultTask && in.Model == "llama-3.3-70b-versatile"
	})).Return(&RetrievalResult{
		FormattedContext: SessionContextHeader + "\n[DOC-1] Performance security is 5% of contract value.",
		Stats:            RetrievalStats{SessionKept: 1},
	}, nil)
	gw.On("Complete", mock.Anything, mock.MatchedBy(func(spec provider.CallSpec) bool {
		return spec.SystemPrompt == extractionSystemPrompt &&
			strings.Contains(spec.UserPrompt, "[DOC-1] Performance security")
	})).Return(completion(`{"payment_terms": "Performance security 5%"}`), nil).Once()
	gw.On("Complete", mock.Anything, isStage(formattingSystemPrompt)).Return(completion("Performance security 5%"), nil).Once()

	svc := NewGenerationService(gw, retriever)
	result, err := svc.Generate(context.Background(), GenerateInput{DocumentID: "tender-1", Fields: []string{"payment_terms"}})

	require.NoError(t, err)
	require.NotNil(t, result.Retrieval)
	assert.Equal(t, 1, result.Retrieval.SessionKept)
	assert.Equal(t, "Performance security 5%", result.Facts.Fields["payment_terms"])
	gw.AssertExpectations(t)
}

func TestGenerationService_Generate_RetrievalFailureIsNotFatal(t *testing.T) {
	gw := newMockGateway(true)
	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything).Return(nil, errors.New("index offline"))
	gw.On("Complete", mock.Anything, isStage(extractionSystemPrompt)).Return(completion(`{"title": "Road works"}`), nil).Once()
	gw.On("Complete", mock.Anything, isStage(formattingSystemPrompt)).Return(completion("# Road works"), nil).Once()

	svc := NewGenerationService(gw, retriever)
	result, err := svc.Generate(context.Background(), GenerateInput{
		SourceText: "Title: Road works",
		Query:      "title",
		Fields:     []string{"title"},
	})

	require.NoError(t, err)
	assert.Nil(t, result.Retrieval)
	assert.Equal(t, "Road works", result.Facts.Fields["title"])
}

func TestGenerationService_Generate_RequiresInput(t *testing.T) {
	svc := NewGenerationService(nil, nil)
	_, err := svc.Generate(context.Background(), GenerateInput{Task: "anything"})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestFactValue(t *testing.T) {
	assert.Equal(t, NotSpecified, factValue(nil))
	assert.Equal(t, NotSpecified, factValue("  "))
	assert.Equal(t, "a; b", factValue([]any{"a", "", "b"}))
	assert.Equal(t, "12", factValue(float64(12)))
	assert.Equal(t, "amount: 5; currency: INR", factValue(map[string]any{"currency": "INR", "amount": float64(5)}))
}
