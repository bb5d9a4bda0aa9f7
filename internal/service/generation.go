package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/provider"
	"github.com/cloo-solutions/tenderwise/internal/telemetry"
)

// NotSpecified is the sentinel Stage 1 uses for absent data.
const NotSpecified = "Not specified"

// DefaultTask is used when a caller does not describe the presentation.
const DefaultTask = "Summarise the tender for a bid/no-bid review."

// DefaultTenderFields are extracted when a caller does not name fields.
var DefaultTenderFields = []string{
	"title",
	"issuing_authority",
	"reference_number",
	"estimated_value",
	"emd_amount",
	"submission_deadline",
	"bid_validity",
	"contract_duration",
	"eligibility_criteria",
	"technical_requirements",
	"payment_terms",
	"penalty_clauses",
}

const (
	extractionSystemPrompt = `You are a procurement document analyst performing fact extraction.
Use ONLY the information in the SOURCE text. Never infer, estimate, convert or complete a value.
If a field is not stated in the source, set it to exactly "Not specified".
Copy amounts, dates and reference numbers exactly as written.
Respond with a single JSON object and nothing else.`

	formattingSystemPrompt = `You are a formatting assistant for procurement documents.
Reformat the FACTS for the TASK as clear markdown.
Do NOT add any fact, number, amount, date, name or requirement that is not present in the FACTS.
Keep "Not specified" values as they are. Do not explain what you changed.
Output markdown only.`

	extractionTemperature = 0.1
	formattingTemperature = 0.3
	stageResponseTokens   = 1500
)

// CompletionGateway dispatches prompts to a configured provider.
type CompletionGateway interface {
	Configured() bool
	ModelFor(providerID, modelID string) string
	Complete(ctx context.Context, spec provider.CallSpec) (*provider.Completion, error)
}

// GenerateInput represents input for the two-stage pipeline
type GenerateInput struct {
	Task       string
	SourceText string
	DocumentID string
	Query      string
	Fields     []string
	Model      string
	ProviderID string
}

// ExtractedFactSet is the Stage 1 output. Every requested field is present.
type ExtractedFactSet struct {
	Fields   map[string]string `json:"fields"`
	Order    []string          `json:"order"`
	Provider string            `json:"provider,omitempty"`
	Model    string            `json:"model,omitempty"`
	Fallback bool              `json:"fallback"`
	Error    string            `json:"error,omitempty"`
}

// FormattedPresentation is the Stage 2 output.
type FormattedPresentation struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`
}

// GenerateResult is everything one pipeline run produced.
type GenerateResult struct {
	Facts        ExtractedFactSet      `json:"facts"`
	Presentation FormattedPresentation `json:"presentation"`
	Validation   ValidationReport      `json:"validation"`
	Retrieval    *RetrievalStats       `json:"retrieval,omitempty"`
}

// GenerationService runs fact extraction followed by presentation-only
// reformatting, then checks the presentation for invented values.
type GenerationService struct {
	gateway   CompletionGateway
	retriever Retriever
	markdown  goldmark.Markdown
}

// NewGenerationService creates a new GenerationService instance. Both
// collaborators may be nil; the pipeline then runs its fallbacks.
func NewGenerationService(gateway CompletionGateway, retriever Retriever) *GenerationService {
	return &GenerationService{
		gateway:   gateway,
		retriever: retriever,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Generate runs both stages. It only fails on invalid input; provider
// failures produce fallback output instead.
func (s *GenerationService) Generate(ctx context.Context, input GenerateInput) (*GenerateResult, error) {
	if strings.TrimSpace(input.SourceText) == "" && input.DocumentID == "" && strings.TrimSpace(input.Query) == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, fmt.Errorf("one of source_text, document_id or query is required"))
	}
	task := strings.TrimSpace(input.Task)
	if task == "" {
		task = DefaultTask
	}
	fields := normalizeFields(input.Fields)

	model := input.Model
	if s.gateway != nil {
		model = s.gateway.ModelFor(input.ProviderID, input.Model)
	}

	ctx, span := telemetry.StartSpan(ctx, "GenerationService.Generate", telemetry.SpanAttributes{
		DocumentID: input.DocumentID,
		Provider:   input.ProviderID,
		Model:      model,
		Operation:  "generate",
	})
	defer span.End()

	result := &GenerateResult{}
	source := strings.TrimSpace(input.SourceText)
	if s.retriever != nil && (input.DocumentID != "" || strings.TrimSpace(input.Query) != "") {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			query = task
		}
		retrieved, err := s.retriever.Retrieve(ctx, RetrievalInput{
			Query:             query,
			SessionDocumentID: input.DocumentID,
			Category:          domain.AnalysisGeneral,
			Model:             model,
			ResponseTokens:    stageResponseTokens,
		})
		if err != nil {
			log.Printf("generation: retrieval failed, continuing without context: %v", err)
		} else {
			result.Retrieval = &retrieved.Stats
			source = joinNonEmpty(source, retrieved.FormattedContext)
		}
	}

	result.Facts = s.extract(ctx, input, fields, source, model)
	if result.Facts.Fallback {
		result.Presentation = s.passthrough(task, result.Facts)
		result.Presentation.Error = result.Facts.Error
		result.Validation = ValidationReport{Confidence: ConfidenceHigh}
		return result, nil
	}

	result.Presentation = s.format(ctx, input, task, result.Facts, model)
	result.Validation = CheckHallucinations(factsText(result.Facts), result.Presentation.Markdown)
	reportHallucinations(ctx, input.DocumentID, result.Validation)
	return result, nil
}

// extract is Stage 1.
func (s *GenerationService) extract(ctx context.Context, input GenerateInput, fields []string, source, model string) ExtractedFactSet {
	if s.gateway == nil || !s.gateway.Configured() {
		return fallbackFacts(fields, domain.ErrNoProviderConfigured)
	}
	if source == "" {
		return fallbackFacts(fields, fmt.Errorf("no source text or retrieved context"))
	}

	var user strings.Builder
	user.WriteString("Extract these fields:\n")
	for _, f := range fields {
		user.WriteString("- " + f + "\n")
	}
	user.WriteString("\nReturn a JSON object with exactly these keys and string values.\n\nSOURCE:\n")
	user.WriteString(source)

	completion, err := s.gateway.Complete(ctx, provider.CallSpec{
		SystemPrompt:      extractionSystemPrompt,
		UserPrompt:        user.String(),
		ProviderID:        input.ProviderID,
		ModelID:           model,
		Temperature:       extractionTemperature,
		MaxResponseTokens: stageResponseTokens,
	})
	if err != nil {
		log.Printf("generation: stage 1 failed: %v", err)
		return fallbackFacts(fields, err)
	}

	var raw map[string]any
	if err := provider.DecodeJSON(completion.Text, &raw); err != nil {
		log.Printf("generation: stage 1 returned malformed output: %v", err)
		return fallbackFacts(fields, err)
	}

	byKey := make(map[string]any, len(raw))
	for k, v := range raw {
		byKey[strings.ToLower(strings.TrimSpace(k))] = v
	}
	facts := ExtractedFactSet{
		Fields:   make(map[string]string, len(fields)),
		Order:    fields,
		Provider: completion.Provider,
		Model:    completion.Model,
	}
	for _, f := range fields {
		facts.Fields[f] = factValue(byKey[strings.ToLower(f)])
	}
	return facts
}

// format is Stage 2.
func (s *GenerationService) format(ctx context.Context, input GenerateInput, task string, facts ExtractedFactSet, model string) FormattedPresentation {
	payload, err := json.MarshalIndent(orderedFacts(facts), "", "  ")
	if err != nil {
		return s.passthrough(task, facts)
	}

	completion, err := s.gateway.Complete(ctx, provider.CallSpec{
		SystemPrompt:      formattingSystemPrompt,
		UserPrompt:        "TASK: " + task + "\n\nFACTS (JSON):\n" + string(payload),
		ProviderID:        facts.Provider,
		ModelID:           model,
		Temperature:       formattingTemperature,
		MaxResponseTokens: stageResponseTokens,
	})
	if err != nil {
		log.Printf("generation: stage 2 failed, using passthrough: %v", err)
		p := s.passthrough(task, facts)
		p.Error = err.Error()
		return p
	}

	md := provider.StripFences(completion.Text)
	if md == "" {
		log.Printf("generation: stage 2 returned empty output, using passthrough")
		p := s.passthrough(task, facts)
		p.Error = domain.ErrMalformedOutput.Error()
		return p
	}
	return FormattedPresentation{
		Markdown: md,
		HTML:     s.render(md),
		Provider: completion.Provider,
		Model:    completion.Model,
	}
}

// passthrough renders the Stage 1 fields directly without a provider call.
func (s *GenerationService) passthrough(task string, facts ExtractedFactSet) FormattedPresentation {
	var b strings.Builder
	b.WriteString("## " + task + "\n\n")
	for _, f := range facts.Order {
		b.WriteString(fmt.Sprintf("- **%s**: %s\n", fieldLabel(f), facts.Fields[f]))
	}
	md := b.String()
	return FormattedPresentation{Markdown: md, HTML: s.render(md), Fallback: true}
}

func (s *GenerationService) render(md string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		log.Printf("generation: markdown render failed: %v", err)
		return ""
	}
	return buf.String()
}

func fallbackFacts(fields []string, cause error) ExtractedFactSet {
	facts := ExtractedFactSet{
		Fields:   make(map[string]string, len(fields)),
		Order:    fields,
		Fallback: true,
	}
	if cause != nil {
		facts.Error = cause.Error()
	}
	for _, f := range fields {
		facts.Fields[f] = NotSpecified
	}
	return facts
}

// factValue flattens a decoded JSON value into the string stored for a field.
func factValue(v any) string {
	switch t := v.(type) {
	case nil:
		return NotSpecified
	case string:
		if strings.TrimSpace(t) == "" {
			return NotSpecified
		}
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := factValue(item); s != NotSpecified {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return NotSpecified
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+factValue(t[k]))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(t)
	}
}

type factPair struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func orderedFacts(facts ExtractedFactSet) []factPair {
	out := make([]factPair, 0, len(facts.Order))
	for _, f := range facts.Order {
		out = append(out, factPair{Field: f, Value: facts.Fields[f]})
	}
	return out
}

// factsText is the Stage 1 text the validator compares against.
func factsText(facts ExtractedFactSet) string {
	var b strings.Builder
	for _, f := range facts.Order {
		b.WriteString(f + ": " + facts.Fields[f] + "\n")
	}
	return b.String()
}

func normalizeFields(fields []string) []string {
	if len(fields) == 0 {
		return DefaultTenderFields
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return DefaultTenderFields
	}
	return out
}

// fieldLabel turns "emd_amount" into "Emd amount".
func fieldLabel(field string) string {
	label := strings.ReplaceAll(field, "_", " ")
	r := []rune(label)
	if len(r) == 0 {
		return label
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
