package domain

import (
	"fmt"
	"time"
)

// Document is the read-only view of a tender or proposal held by the
// relational store. Chunk sets are derived from it.
type Document struct {
	ID        string
	Title     string
	Body      string
	TextKey   string // object storage key of the extracted text, used when Body is empty
	Published bool
	Sections  []Section
	UpdatedAt time.Time
}

// Section is a named sub-section of a document.
type Section struct {
	ID        string
	Title     string
	Content   string
	Mandatory bool
	Position  int
}

// ValidateDocument validates a Document before ingestion
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	return nil
}

// AnalysisCategory selects retrieval limits and prompt focus.
type AnalysisCategory string

const (
	AnalysisEligibility AnalysisCategory = "eligibility"
	AnalysisTechnical   AnalysisCategory = "technical"
	AnalysisFinancial   AnalysisCategory = "financial"
	AnalysisRisk        AnalysisCategory = "risk"
	AnalysisEvaluation  AnalysisCategory = "evaluation"
	AnalysisGeneral     AnalysisCategory = "general"
)

// ParseAnalysisCategory normalizes a category name; empty means general.
func ParseAnalysisCategory(s string) (AnalysisCategory, error) {
	switch AnalysisCategory(s) {
	case "":
		return AnalysisGeneral, nil
	case AnalysisEligibility, AnalysisTechnical, AnalysisFinancial,
		AnalysisRisk, AnalysisEvaluation, AnalysisGeneral:
		return AnalysisCategory(s), nil
	}
	return "", ErrInvalidAnalysisCategory
}
