package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
)

// MockEmbeddingService is a mock implementation of EmbeddingServiceInterface
type MockEmbeddingService struct {
	mock.Mock
}

func (m *MockEmbeddingService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockChunkSearcher is a mock implementation of ChunkSearcher
type MockChunkSearcher struct {
	mock.Mock
}

func (m *MockChunkSearcher) SearchNearest(ctx context.Context, embedding []float32, scope domain.ChunkScope, limit int) ([]domain.ScoredChunk, error) {
	args := m.Called(ctx, embedding, scope, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredChunk), args.Error(1)
}

func scored(docID string, n int) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, n)
	for i := range out {
		out[i] = domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:       fmt.Sprintf("%s-%d", docID, i),
				SourceID: docID,
				Content:  fmt.Sprintf("Clause %d of %s applies. The bidder must hold ISO 9001 certification.", i, docID),
			},
			Distance: float64(i) / 10,
		}
	}
	return out
}

var (
	sessionScope = domain.ChunkScope{DocumentID: "tender-1"}
	globalScope  = domain.ChunkScope{PublishedOnly: true, ExcludeDocumentID: "tender-1"}
)

func TestRetrievalService_Limits(t *testing.T) {
	svc := NewRetrievalService(nil, nil, nil)

	assert.Equal(t, ScopeLimits{Session: 7, Global: 4}, svc.Limits(domain.AnalysisTechnical))
	assert.Equal(t, ScopeLimits{Session: 5, Global: 3}, svc.Limits(domain.AnalysisRisk))
	assert.Equal(t, ScopeLimits{Session: 5, Global: 3}, svc.Limits("unknown"))

	svc = NewRetrievalServiceWithConfig(nil, nil, nil, RetrievalServiceConfig{
		CategoryLimits: map[domain.AnalysisCategory]ScopeLimits{
			domain.AnalysisGeneral: {Session: 20, Global: 1},
		},
	})
	assert.Equal(t, ScopeLimits{Session: MaxSessionChunks, Global: MinGlobalChunks}, svc.Limits(domain.AnalysisGeneral))
}

func TestRetrievalService_Retrieve_BothScopes(t *testing.T) {
	ctx := context.Background()
	emb := []float32{1, 0, 0}
	embedder := new(MockEmbeddingService)
	searcher := new(MockChunkSearcher)

	embedder.On("GenerateEmbedding", mock.Anything, "ISO certification requirement").Return(emb, nil)
	searcher.On("SearchNearest", mock.Anything, emb, sessionScope, 6).Return(scored("tender-1", 6), nil)
	searcher.On("SearchNearest", mock.Anything, emb, globalScope, 4).Return(scored("ref-1", 4), nil)

	svc := NewRetrievalService(searcher, embedder, tokens.NewManager(nil))
	result, err := svc.Retrieve(ctx, RetrievalInput{
		Query:             "What is the ISO certification requirement?",
		SessionDocumentID: "tender-1",
		Category:          domain.AnalysisEligibility,
	})

	require.NoError(t, err)
	assert.Len(t, result.SessionChunks, 6)
	assert.Len(t, result.GlobalChunks, 4)
	assert.Len(t, result.CompressedSession, 6)
	assert.Len(t, result.CompressedGlobal, 4)
	assert.True(t, strings.HasPrefix(result.FormattedContext, SessionContextHeader+"\n[DOC-1] "))
	assert.Contains(t, result.FormattedContext, "\n\n"+GlobalContextHeader+"\n[REF-1] ")
	assert.Contains(t, result.FormattedContext, "[REF-4] ")

	budget := tokens.NewManager(nil).Budget("llama-3.3-70b-versatile", 0)
	assert.Equal(t, budget.ContextShare, result.Stats.ContextBudget)
	assert.Equal(t, budget.ContextShare*60/100, result.Stats.SessionBudget)
	assert.Equal(t, budget.ContextShare*40/100, result.Stats.GlobalBudget)
	assert.Equal(t, tokens.Estimate(result.FormattedContext), result.Stats.ContextTokens)
	embedder.AssertExpectations(t)
	searcher.AssertExpectations(t)
}

func TestRetrievalService_Retrieve_CapTrimsGlobalFirst(t *testing.T) {
	ctx := context.Background()
	emb := []float32{1}
	embedder := new(MockEmbeddingService)
	searcher := new(MockChunkSearcher)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(emb, nil)
	searcher.On("SearchNearest", mock.Anything, emb, sessionScope, 8).Return(scored("tender-1", 8), nil)
	searcher.On("SearchNearest", mock.Anything, emb, globalScope, 5).Return(scored("ref-1", 5), nil)

	svc := NewRetrievalServiceWithConfig(searcher, embedder, nil, RetrievalServiceConfig{
		CategoryLimits: map[domain.AnalysisCategory]ScopeLimits{
			domain.AnalysisTechnical: {Session: 8, Global: 5},
		},
	})
	result, err := svc.Retrieve(ctx, RetrievalInput{
		Query:             "technical specification",
		SessionDocumentID: "tender-1",
		Category:          domain.AnalysisTechnical,
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.SessionChunks)+len(result.GlobalChunks), MaxTotalChunks)
	assert.Len(t, result.SessionChunks, 8)
	require.Len(t, result.GlobalChunks, 2)
	assert.Equal(t, "ref-1-0", result.GlobalChunks[0].ID)
	assert.Equal(t, "ref-1-1", result.GlobalChunks[1].ID)
	assert.Equal(t, 8, result.Stats.SessionRetrieved)
	assert.Equal(t, 5, result.Stats.GlobalRetrieved)
	assert.Equal(t, 2, result.Stats.GlobalKept)
}

func TestTrimToCap(t *testing.T) {
	s, g := trimToCap(scored("s", 8), scored("g", 5), 10)
	assert.Len(t, s, 8)
	assert.Len(t, g, 2)

	s, g = trimToCap(scored("s", 8), scored("g", 5), 6)
	assert.Len(t, s, 6)
	assert.Empty(t, g)
	assert.Equal(t, "s-5", s[5].ID)

	s, g = trimToCap(scored("s", 3), scored("g", 3), 10)
	assert.Len(t, s, 3)
	assert.Len(t, g, 3)
}

func TestRetrievalService_Retrieve_NoSessionGivesGlobalFullBudget(t *testing.T) {
	ctx := context.Background()
	emb := []float32{1}
	embedder := new(MockEmbeddingService)
	searcher := new(MockChunkSearcher)

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(emb, nil)
	searcher.On("SearchNearest", mock.Anything, emb, domain.ChunkScope{PublishedOnly: true}, 3).Return(scored("ref-1", 3), nil)

	svc := NewRetrievalService(searcher, embedder, nil)
	result, err := svc.Retrieve(ctx, RetrievalInput{Query: "penalty clauses"})

	require.NoError(t, err)
	assert.Empty(t, result.SessionChunks)
	assert.Empty(t, result.CompressedSession)
	assert.Equal(t, result.Stats.ContextBudget, result.Stats.GlobalBudget)
	assert.Equal(t, 0, result.Stats.SessionBudget)
	assert.True(t, strings.HasPrefix(result.FormattedContext, GlobalContextHeader))
	searcher.AssertNumberOfCalls(t, "SearchNearest", 1)
}

func TestRetrievalService_Retrieve_CompressesToBudget(t *testing.T) {
	ctx := context.Background()
	emb := []float32{1}
	embedder := new(MockEmbeddingService)
	searcher := new(MockChunkSearcher)

	long := scored("tender-1", 5)
	for i := range long {
		long[i].Content = strings.Repeat("The contractor shall deliver all goods within 30 days of the order. ", 20)
	}
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(emb, nil)
	searcher.On("SearchNearest", mock.Anything, emb, sessionScope, 5).Return(long, nil)
	searcher.On("SearchNearest", mock.Anything, emb, globalScope, 3).Return([]domain.ScoredChunk{}, nil)

	tm := tokens.NewManager(map[string]int{"tiny-model": 1000})
	svc := NewRetrievalService(searcher, embedder, tm)
	result, err := svc.Retrieve(ctx, RetrievalInput{
		Query:             "delivery schedule",
		SessionDocumentID: "tender-1",
		Model:             "tiny-model",
		ResponseTokens:    500,
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, tokens.Estimate(strings.Join(result.CompressedSession, "\n\n")), result.Stats.SessionBudget)
	assert.NotContains(t, result.FormattedContext, GlobalContextHeader)
}

func TestRetrievalService_Retrieve_EmptyQuery(t *testing.T) {
	svc := NewRetrievalService(new(MockChunkSearcher), new(MockEmbeddingService), nil)

	_, err := svc.Retrieve(context.Background(), RetrievalInput{Query: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestRetrievalService_Retrieve_EmbeddingError(t *testing.T) {
	embedder := new(MockEmbeddingService)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("api down"))

	svc := NewRetrievalService(new(MockChunkSearcher), embedder, nil)
	_, err := svc.Retrieve(context.Background(), RetrievalInput{Query: "scope of work"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")
}

func TestRetrievalService_Retrieve_LookupError(t *testing.T) {
	emb := []float32{1}
	embedder := new(MockEmbeddingService)
	searcher := new(MockChunkSearcher)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(emb, nil)
	searcher.On("SearchNearest", mock.Anything, emb, sessionScope, 5).Return(nil, errors.New("connection reset"))
	searcher.On("SearchNearest", mock.Anything, emb, globalScope, 3).Return([]domain.ScoredChunk{}, nil).Maybe()

	svc := NewRetrievalService(searcher, embedder, nil)
	_, err := svc.Retrieve(context.Background(), RetrievalInput{Query: "scope of work", SessionDocumentID: "tender-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session lookup")
}

func TestKeywordQuery(t *testing.T) {
	assert.Equal(t, "EMD amount", keywordQuery("What is the EMD amount?"))
	assert.Equal(t, "", keywordQuery("what is the"))
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil, nil))
	assert.Equal(t,
		SessionContextHeader+"\n[DOC-1] a\n\n[DOC-2] b",
		FormatContext([]string{"a", "b"}, nil))
	assert.Equal(t,
		SessionContextHeader+"\n[DOC-1] a\n\n"+GlobalContextHeader+"\n[REF-1] c",
		FormatContext([]string{"a"}, []string{"c"}))
}
