package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/cloo-solutions/tenderwise/internal/chunking"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/provider"
	"github.com/cloo-solutions/tenderwise/internal/telemetry"
)

const draftingSystemPrompt = `You are a procurement drafting assistant helping write one section of a tender document.
Use the reference context for structure and typical clauses. Do not copy amounts, dates or names from reference documents into the guidance.
Respond with a single JSON object and nothing else, in this shape:
{"guidance": "<one paragraph>", "key_points": ["...", "..."]}`

const (
	draftingTemperature    = 0.4
	draftingResponseTokens = 800
	maxKeyPoints           = 8
)

// DraftInput represents input for section drafting guidance
type DraftInput struct {
	DocumentID   string
	SectionTitle string
	Notes        string
	Model        string
	ProviderID   string
}

// DraftResult is guidance for writing one section.
type DraftResult struct {
	SectionTitle string                  `json:"section_title"`
	Category     domain.AnalysisCategory `json:"category"`
	Guidance     string                  `json:"guidance"`
	KeyPoints    []string                `json:"key_points"`
	Provider     string                  `json:"provider,omitempty"`
	Fallback     bool                    `json:"fallback"`
	Error        string                  `json:"error,omitempty"`
}

type ruleGuidance struct {
	guidance  string
	keyPoints []string
}

var draftingRules = map[domain.AnalysisCategory]ruleGuidance{
	domain.AnalysisEligibility: {
		guidance: "State every pre-qualification criterion as a verifiable requirement and name the document that proves it.",
		keyPoints: []string{
			"Minimum years of relevant experience and comparable completed works",
			"Average annual turnover over a stated number of financial years",
			"Mandatory registrations and certifications",
			"Declaration on blacklisting and litigation history",
		},
	},
	domain.AnalysisTechnical: {
		guidance: "Describe the scope of work and specifications in measurable terms so bids can be checked for compliance.",
		keyPoints: []string{
			"Scope of work and deliverables",
			"Technical specifications and applicable standards",
			"Delivery or completion schedule with milestones",
			"Inspection, testing and acceptance criteria",
		},
	},
	domain.AnalysisFinancial: {
		guidance: "Set out every amount a bidder must pay or quote, and how and when payments will be released.",
		keyPoints: []string{
			"Earnest money deposit amount, form and validity",
			"Price bid format and applicable taxes",
			"Payment milestones and retention",
			"Performance security requirements",
		},
	},
	domain.AnalysisRisk: {
		guidance: "Allocate contractual risk explicitly so bidders can price it.",
		keyPoints: []string{
			"Liquidated damages and penalty caps",
			"Warranty and defect liability period",
			"Termination and force majeure provisions",
			"Dispute resolution and governing law",
		},
	},
	domain.AnalysisEvaluation: {
		guidance: "Explain exactly how bids will be compared, including weights and any minimum qualifying scores.",
		keyPoints: []string{
			"Evaluation method (L1, QCBS or similar)",
			"Technical and financial weightage",
			"Minimum technical qualifying score",
			"Treatment of deviations and clarifications",
		},
	},
	domain.AnalysisGeneral: {
		guidance: "Introduce the procurement clearly: who is buying what, and how bidders should respond.",
		keyPoints: []string{
			"Issuing authority and tender reference",
			"Brief description of the requirement",
			"Key dates for queries, submission and opening",
			"Contact point for clarifications",
		},
	},
}

// DraftingService produces section guidance from reference documents.
type DraftingService struct {
	gateway   CompletionGateway
	retriever Retriever
}

// NewDraftingService creates a new DraftingService instance
func NewDraftingService(gateway CompletionGateway, retriever Retriever) *DraftingService {
	return &DraftingService{gateway: gateway, retriever: retriever}
}

type draftResponse struct {
	Guidance  string   `json:"guidance"`
	KeyPoints []string `json:"key_points"`
}

// Draft returns provider guidance for the section, or rule-based guidance
// for its category when the provider cannot be used.
func (s *DraftingService) Draft(ctx context.Context, input DraftInput) (*DraftResult, error) {
	title := strings.TrimSpace(input.SectionTitle)
	if title == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, errors.New("section_title is required"))
	}
	category := chunking.InferCategory(title).AnalysisCategory()

	ctx, span := telemetry.StartSpan(ctx, "DraftingService.Draft", telemetry.SpanAttributes{
		DocumentID: input.DocumentID,
		Category:   string(category),
		Operation:  "draft",
	})
	defer span.End()

	result, err := s.draft(ctx, input, title, category)
	if err != nil {
		log.Printf("drafting: using rule-based guidance for %q: %v", title, err)
		return RuleBasedDraft(title, category, err), nil
	}
	return result, nil
}

func (s *DraftingService) draft(ctx context.Context, input DraftInput, title string, category domain.AnalysisCategory) (*DraftResult, error) {
	if s.gateway == nil || !s.gateway.Configured() {
		return nil, domain.ErrNoProviderConfigured
	}
	model := s.gateway.ModelFor(input.ProviderID, input.Model)

	var reference string
	if s.retriever != nil {
		query := strings.TrimSpace(title + " " + input.Notes)
		retrieved, err := s.retriever.Retrieve(ctx, RetrievalInput{
			Query:             query,
			SessionDocumentID: input.DocumentID,
			Category:          category,
			Model:             model,
			ResponseTokens:    draftingResponseTokens,
		})
		if err != nil {
			log.Printf("drafting: retrieval failed, drafting without references: %v", err)
		} else {
			reference = retrieved.FormattedContext
		}
	}

	user := "SECTION: " + title
	if notes := strings.TrimSpace(input.Notes); notes != "" {
		user += "\nAUTHOR NOTES: " + notes
	}
	if reference != "" {
		user += "\n\n" + reference
	}

	completion, err := s.gateway.Complete(ctx, provider.CallSpec{
		SystemPrompt:      draftingSystemPrompt,
		UserPrompt:        user,
		ProviderID:        input.ProviderID,
		ModelID:           model,
		Temperature:       draftingTemperature,
		MaxResponseTokens: draftingResponseTokens,
	})
	if err != nil {
		return nil, err
	}

	var resp draftResponse
	if err := provider.DecodeJSON(completion.Text, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Guidance) == "" {
		return nil, domain.Wrap(domain.ErrMalformedOutput, errors.New("empty guidance"))
	}

	points := make([]string, 0, len(resp.KeyPoints))
	for _, p := range resp.KeyPoints {
		if p = strings.TrimSpace(p); p != "" && len(points) < maxKeyPoints {
			points = append(points, p)
		}
	}
	return &DraftResult{
		SectionTitle: title,
		Category:     category,
		Guidance:     strings.TrimSpace(resp.Guidance),
		KeyPoints:    points,
		Provider:     completion.Provider,
	}, nil
}

// RuleBasedDraft is the deterministic guidance for a section category.
func RuleBasedDraft(title string, category domain.AnalysisCategory, cause error) *DraftResult {
	rule, ok := draftingRules[category]
	if !ok {
		rule = draftingRules[domain.AnalysisGeneral]
	}
	result := &DraftResult{
		SectionTitle: title,
		Category:     category,
		Guidance:     rule.guidance,
		KeyPoints:    append([]string(nil), rule.keyPoints...),
		Fallback:     true,
	}
	if cause != nil {
		result.Error = cause.Error()
	}
	return result
}
