package domain

import "time"

// Category is the inferred topic of a chunk.
type Category string

const (
	CategoryOverview    Category = "OVERVIEW"
	CategoryEligibility Category = "ELIGIBILITY"
	CategoryTechnical   Category = "TECHNICAL"
	CategoryFinancial   Category = "FINANCIAL"
	CategoryEvaluation  Category = "EVALUATION"
	CategoryTerms       Category = "TERMS"
	CategoryGeneral     Category = "GENERAL"
)

// AnalysisCategory maps a chunk category onto the retrieval taxonomy.
func (c Category) AnalysisCategory() AnalysisCategory {
	switch c {
	case CategoryEligibility:
		return AnalysisEligibility
	case CategoryTechnical:
		return AnalysisTechnical
	case CategoryFinancial:
		return AnalysisFinancial
	case CategoryEvaluation:
		return AnalysisEvaluation
	case CategoryTerms:
		return AnalysisRisk
	default:
		return AnalysisGeneral
	}
}

// Importance bounds.
const (
	MinImportance  = 1
	BaseImportance = 5
	MaxImportance  = 10
)

// ChunkMetadata is attached to every chunk at ingestion time.
type ChunkMetadata struct {
	Category     Category `json:"category"`
	Importance   int      `json:"importance"`
	KeyTerms     []string `json:"key_terms"`
	Position     int      `json:"position"`
	StartWord    int      `json:"start_word"`
	EndWord      int      `json:"end_word"`
	OverlapWords int      `json:"overlap_words"`
	WordCount    int      `json:"word_count"`
	SectionTitle string   `json:"section_title,omitempty"`
	Mandatory    bool     `json:"mandatory,omitempty"`
}

// Chunk is an immutable, metadata-tagged fragment of one source document.
type Chunk struct {
	ID        string
	SourceID  string
	SectionID string
	Content   string
	Metadata  ChunkMetadata
	Embedding []float32
	CreatedAt time.Time
}

// ScoredChunk is a chunk returned by a nearest-neighbour lookup.
// Distance is the cosine distance to the query; lower is nearer.
type ScoredChunk struct {
	Chunk
	Distance float64
}

// ChunkScope restricts a nearest-neighbour lookup. An empty scope matches
// every chunk.
type ChunkScope struct {
	DocumentID        string
	PublishedOnly     bool
	ExcludeDocumentID string
}
