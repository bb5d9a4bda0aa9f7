package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/tenderwise/internal/compress"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/telemetry"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
)

// Retrieval bounds.
const (
	MinSessionChunks = 5
	MaxSessionChunks = 8
	MinGlobalChunks  = 3
	MaxGlobalChunks  = 5
	MaxTotalChunks   = 10

	SessionContextHeader = "=== CURRENT DOCUMENT CONTEXT ==="
	GlobalContextHeader  = "=== REFERENCE DOCUMENTS ==="
	SessionLabel         = "DOC"
	GlobalLabel          = "REF"

	sessionSharePercent = 60
)

// ScopeLimits is the number of nearest chunks fetched per scope.
type ScopeLimits struct {
	Session int `yaml:"session"`
	Global  int `yaml:"global"`
}

// DefaultCategoryLimits holds the per-category lookup sizes before clamping.
var DefaultCategoryLimits = map[domain.AnalysisCategory]ScopeLimits{
	domain.AnalysisEligibility: {Session: 6, Global: 4},
	domain.AnalysisTechnical:   {Session: 7, Global: 4},
	domain.AnalysisFinancial:   {Session: 6, Global: 5},
	domain.AnalysisRisk:        {Session: 5, Global: 3},
	domain.AnalysisEvaluation:  {Session: 6, Global: 4},
	domain.AnalysisGeneral:     {Session: 5, Global: 3},
}

// EmbeddingServiceInterface defines the interface for embedding generation
type EmbeddingServiceInterface interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// RetrievalInput represents input for a retrieval call
type RetrievalInput struct {
	Query             string
	SessionDocumentID string
	Category          domain.AnalysisCategory
	Model             string
	ResponseTokens    int
}

// RetrievalStats reports what one retrieval call fetched, kept and spent.
type RetrievalStats struct {
	SessionLimit      int   `json:"session_limit"`
	GlobalLimit       int   `json:"global_limit"`
	SessionRetrieved  int   `json:"session_retrieved"`
	GlobalRetrieved   int   `json:"global_retrieved"`
	SessionKept       int   `json:"session_kept"`
	GlobalKept        int   `json:"global_kept"`
	SessionCompressed int   `json:"session_compressed"`
	GlobalCompressed  int   `json:"global_compressed"`
	ContextBudget     int   `json:"context_budget"`
	SessionBudget     int   `json:"session_budget"`
	GlobalBudget      int   `json:"global_budget"`
	ContextTokens     int   `json:"context_tokens"`
	DurationMS        int64 `json:"duration_ms"`
}

// RetrievalResult is the transient output of one retrieval call.
type RetrievalResult struct {
	SessionChunks     []domain.ScoredChunk
	GlobalChunks      []domain.ScoredChunk
	CompressedSession []string
	CompressedGlobal  []string
	FormattedContext  string
	Stats             RetrievalStats
}

// Retriever is the retrieval surface consumed by generation, evaluation and drafting.
type Retriever interface {
	Retrieve(ctx context.Context, input RetrievalInput) (*RetrievalResult, error)
}

// RetrievalServiceConfig controls retrieval behavior.
type RetrievalServiceConfig struct {
	CategoryLimits map[domain.AnalysisCategory]ScopeLimits
	MaxTotal       int
	DefaultModel   string
}

// DefaultRetrievalServiceConfig returns the default service configuration.
func DefaultRetrievalServiceConfig() RetrievalServiceConfig {
	return RetrievalServiceConfig{
		CategoryLimits: DefaultCategoryLimits,
		MaxTotal:       MaxTotalChunks,
		DefaultModel:   "llama-3.3-70b-versatile",
	}
}

// RetrievalService combines session and global nearest-neighbour lookups
// into one budget-fitting context block.
type RetrievalService struct {
	searcher  ChunkSearcher
	embedding EmbeddingServiceInterface
	tokens    *tokens.Manager
	cfg       RetrievalServiceConfig
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(
	searcher ChunkSearcher,
	embedding EmbeddingServiceInterface,
	tm *tokens.Manager,
) *RetrievalService {
	return NewRetrievalServiceWithConfig(searcher, embedding, tm, DefaultRetrievalServiceConfig())
}

// NewRetrievalServiceWithConfig creates a new RetrievalService with explicit configuration.
func NewRetrievalServiceWithConfig(
	searcher ChunkSearcher,
	embedding EmbeddingServiceInterface,
	tm *tokens.Manager,
	cfg RetrievalServiceConfig,
) *RetrievalService {
	if cfg.CategoryLimits == nil {
		cfg.CategoryLimits = DefaultCategoryLimits
	}
	if cfg.MaxTotal <= 0 || cfg.MaxTotal > MaxTotalChunks {
		cfg.MaxTotal = MaxTotalChunks
	}
	if tm == nil {
		tm = tokens.NewManager(nil)
	}
	return &RetrievalService{
		searcher:  searcher,
		embedding: embedding,
		tokens:    tm,
		cfg:       cfg,
	}
}

// Limits returns the clamped session and global lookup sizes for a category.
func (s *RetrievalService) Limits(category domain.AnalysisCategory) ScopeLimits {
	l, ok := s.cfg.CategoryLimits[category]
	if !ok {
		l = s.cfg.CategoryLimits[domain.AnalysisGeneral]
	}
	return ScopeLimits{
		Session: clamp(l.Session, MinSessionChunks, MaxSessionChunks),
		Global:  clamp(l.Global, MinGlobalChunks, MaxGlobalChunks),
	}
}

// Retrieve embeds the query, runs the session and global lookups
// concurrently, trims to the absolute cap and compresses both scopes into
// the model's context allowance.
func (s *RetrievalService) Retrieve(ctx context.Context, input RetrievalInput) (*RetrievalResult, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if s.searcher == nil {
		return nil, domain.ErrIndexNotConfigured
	}
	category := input.Category
	if category == "" {
		category = domain.AnalysisGeneral
	}
	model := input.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}

	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		DocumentID: input.SessionDocumentID,
		Category:   string(category),
		Model:      model,
	})
	defer span.End()

	start := time.Now()
	limits := s.Limits(category)

	embeddingText := keywordQuery(query)
	if embeddingText == "" {
		embeddingText = query
	}
	queryEmbedding, err := s.embedding.GenerateEmbedding(ctx, embeddingText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var session, global []domain.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	if input.SessionDocumentID != "" {
		g.Go(func() error {
			res, err := s.searcher.SearchNearest(gctx, queryEmbedding, domain.ChunkScope{
				DocumentID: input.SessionDocumentID,
			}, limits.Session)
			if err != nil {
				return fmt.Errorf("session lookup: %w", err)
			}
			session = res
			return nil
		})
	}
	g.Go(func() error {
		res, err := s.searcher.SearchNearest(gctx, queryEmbedding, domain.ChunkScope{
			PublishedOnly:     true,
			ExcludeDocumentID: input.SessionDocumentID,
		}, limits.Global)
		if err != nil {
			return fmt.Errorf("global lookup: %w", err)
		}
		global = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := RetrievalStats{
		SessionLimit:     limits.Session,
		GlobalLimit:      limits.Global,
		SessionRetrieved: len(session),
		GlobalRetrieved:  len(global),
	}

	session, global = trimToCap(session, global, s.cfg.MaxTotal)
	stats.SessionKept = len(session)
	stats.GlobalKept = len(global)

	budget := s.tokens.Budget(model, input.ResponseTokens)
	stats.ContextBudget = budget.ContextShare
	if input.SessionDocumentID != "" {
		stats.SessionBudget = budget.ContextShare * sessionSharePercent / 100
		stats.GlobalBudget = budget.ContextShare * (100 - sessionSharePercent) / 100
	} else {
		stats.GlobalBudget = budget.ContextShare
	}

	result := &RetrievalResult{
		SessionChunks:     session,
		GlobalChunks:      global,
		CompressedSession: compress.ToFit(contents(session), stats.SessionBudget),
		CompressedGlobal:  compress.ToFit(contents(global), stats.GlobalBudget),
	}
	stats.SessionCompressed = len(result.CompressedSession)
	stats.GlobalCompressed = len(result.CompressedGlobal)

	result.FormattedContext = FormatContext(result.CompressedSession, result.CompressedGlobal)
	stats.ContextTokens = tokens.Estimate(result.FormattedContext)
	stats.DurationMS = time.Since(start).Milliseconds()
	result.Stats = stats

	log.Printf("retrieval: category=%s session=%d/%d global=%d/%d tokens=%d/%d",
		category, stats.SessionCompressed, stats.SessionRetrieved,
		stats.GlobalCompressed, stats.GlobalRetrieved,
		stats.ContextTokens, stats.ContextBudget)

	return result, nil
}

// FormatContext renders compressed session and reference chunks under
// their section headers. Empty scopes are omitted.
func FormatContext(session, global []string) string {
	var blocks []string
	if len(session) > 0 {
		blocks = append(blocks, SessionContextHeader+"\n"+compress.Format(session, SessionLabel))
	}
	if len(global) > 0 {
		blocks = append(blocks, GlobalContextHeader+"\n"+compress.Format(global, GlobalLabel))
	}
	return strings.Join(blocks, "\n\n")
}

// trimToCap drops the farthest global chunks first, then the farthest
// session chunks, until at most max remain. Inputs are nearest first.
func trimToCap(session, global []domain.ScoredChunk, max int) ([]domain.ScoredChunk, []domain.ScoredChunk) {
	over := len(session) + len(global) - max
	if over <= 0 {
		return session, global
	}
	drop := over
	if drop > len(global) {
		drop = len(global)
	}
	global = global[:len(global)-drop]
	over -= drop
	if over > 0 {
		session = session[:len(session)-over]
	}
	return session, global
}

func contents(chunks []domain.ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"in": {}, "on": {}, "at": {}, "from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "we": {}, "our": {}, "you": {}, "your": {},
	"what": {}, "how": {}, "which": {}, "does": {}, "do": {}, "can": {}, "any": {}, "all": {}, "there": {},
}

// keywordQuery drops stopwords and punctuation so short questions embed
// on their content words.
func keywordQuery(query string) string {
	var kept []string
	for _, token := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if _, ok := stopwords[strings.ToLower(token)]; ok {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}
