package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/provider"
	"github.com/cloo-solutions/tenderwise/internal/telemetry"
)

//go:embed evaluation_steps.yaml
var evaluationStepsYAML []byte

// Fallback values for a step whose scoring call failed.
const (
	FallbackStepScore = 60
	FallbackFeedback  = "Automated scoring was unavailable for this area. A neutral score was applied; review it manually."
)

const (
	evaluationSystemPrompt = `You are a procurement evaluator scoring a bid proposal against tender requirements.
Base your judgement ONLY on the provided context. Do not assume facts that are not shown.
Respond with a single JSON object and nothing else, in this shape:
{"score": <integer 0-100>, "feedback": "<two or three sentences>", "strengths": ["..."], "gaps": ["..."]}`

	evaluationTemperature    = 0.2
	evaluationResponseTokens = 800
	weightTolerance          = 0.001
)

// EvaluationStep is one weighted scoring pass.
type EvaluationStep struct {
	Key      string                  `yaml:"key"`
	Name     string                  `yaml:"name"`
	Weight   float64                 `yaml:"weight"`
	Category domain.AnalysisCategory `yaml:"category"`
	Query    string                  `yaml:"query"`
	Focus    string                  `yaml:"focus"`
}

// LoadEvaluationSteps parses a step table and checks that weights sum to 1.
func LoadEvaluationSteps(data []byte) ([]EvaluationStep, error) {
	var doc struct {
		Steps []EvaluationStep `yaml:"steps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse evaluation steps: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, errors.New("evaluation steps: table is empty")
	}

	var total float64
	seen := make(map[string]struct{}, len(doc.Steps))
	for _, step := range doc.Steps {
		if step.Key == "" || step.Query == "" {
			return nil, fmt.Errorf("evaluation steps: step %q needs a key and a query", step.Name)
		}
		if _, ok := seen[step.Key]; ok {
			return nil, fmt.Errorf("evaluation steps: duplicate key %q", step.Key)
		}
		seen[step.Key] = struct{}{}
		if _, err := domain.ParseAnalysisCategory(string(step.Category)); err != nil {
			return nil, fmt.Errorf("evaluation steps: step %q: %w", step.Key, err)
		}
		if step.Weight <= 0 {
			return nil, fmt.Errorf("evaluation steps: step %q has non-positive weight", step.Key)
		}
		total += step.Weight
	}
	if math.Abs(total-1) > weightTolerance {
		return nil, fmt.Errorf("evaluation steps: weights sum to %.3f, want 1", total)
	}
	return doc.Steps, nil
}

// DefaultEvaluationSteps returns the built-in eligibility, technical,
// financial and risk passes.
func DefaultEvaluationSteps() []EvaluationStep {
	steps, err := LoadEvaluationSteps(evaluationStepsYAML)
	if err != nil {
		panic(err)
	}
	return steps
}

// EvaluationInput represents input for an evaluation run
type EvaluationInput struct {
	DocumentID   string
	ProposalText string
	Model        string
	ProviderID   string
}

// StepResult is the outcome of one scoring pass.
type StepResult struct {
	Key       string   `json:"key"`
	Name      string   `json:"name"`
	Weight    float64  `json:"weight"`
	Score     int      `json:"score"`
	Feedback  string   `json:"feedback"`
	Strengths []string `json:"strengths"`
	Gaps      []string `json:"gaps"`
	Fallback  bool     `json:"fallback"`
	Error     string   `json:"error,omitempty"`
}

// EvaluationReport aggregates every step into one weighted score.
type EvaluationReport struct {
	DocumentID     string       `json:"document_id"`
	Steps          []StepResult `json:"steps"`
	OverallScore   int          `json:"overall_score"`
	WinProbability string       `json:"win_probability"`
	Assessment     string       `json:"assessment"`
	FallbackSteps  int          `json:"fallback_steps"`
	EvaluatedAt    time.Time    `json:"evaluated_at"`
}

// Step returns the result for key, or nil.
func (r *EvaluationReport) Step(key string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Key == key {
			return &r.Steps[i]
		}
	}
	return nil
}

// EvaluationServiceConfig controls evaluation behavior.
type EvaluationServiceConfig struct {
	Steps []EvaluationStep
	// Concurrency bounds parallel steps; 1 or less runs them in order.
	Concurrency int
}

// DefaultEvaluationServiceConfig returns the default service configuration.
func DefaultEvaluationServiceConfig() EvaluationServiceConfig {
	return EvaluationServiceConfig{
		Steps:       DefaultEvaluationSteps(),
		Concurrency: 1,
	}
}

// EvaluationService scores a proposal through independent weighted passes.
type EvaluationService struct {
	gateway   CompletionGateway
	retriever Retriever
	cfg       EvaluationServiceConfig
	now       func() time.Time
}

// NewEvaluationService creates a new EvaluationService instance
func NewEvaluationService(gateway CompletionGateway, retriever Retriever) *EvaluationService {
	return NewEvaluationServiceWithConfig(gateway, retriever, DefaultEvaluationServiceConfig())
}

// NewEvaluationServiceWithConfig creates a new EvaluationService with explicit configuration.
func NewEvaluationServiceWithConfig(gateway CompletionGateway, retriever Retriever, cfg EvaluationServiceConfig) *EvaluationService {
	if len(cfg.Steps) == 0 {
		cfg.Steps = DefaultEvaluationSteps()
	}
	return &EvaluationService{
		gateway:   gateway,
		retriever: retriever,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Evaluate runs every step and aggregates the scores. A failing step is
// replaced by the neutral fallback; the run itself only fails on invalid input.
func (s *EvaluationService) Evaluate(ctx context.Context, input EvaluationInput) (*EvaluationReport, error) {
	if input.DocumentID == "" && strings.TrimSpace(input.ProposalText) == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, errors.New("document_id or proposal_text is required"))
	}

	model := input.Model
	if s.gateway != nil {
		model = s.gateway.ModelFor(input.ProviderID, input.Model)
	}

	ctx, span := telemetry.StartSpan(ctx, "EvaluationService.Evaluate", telemetry.SpanAttributes{
		DocumentID: input.DocumentID,
		Provider:   input.ProviderID,
		Model:      model,
		Operation:  "evaluate",
	})
	defer span.End()

	steps := s.cfg.Steps
	results := make([]StepResult, len(steps))
	if s.cfg.Concurrency <= 1 {
		for i, step := range steps {
			results[i] = s.runStep(ctx, step, input, model)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for i, step := range steps {
			g.Go(func() error {
				results[i] = s.runStep(ctx, step, input, model)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := &EvaluationReport{
		DocumentID:  input.DocumentID,
		Steps:       results,
		EvaluatedAt: s.now().UTC(),
	}
	var weighted float64
	for _, r := range results {
		weighted += float64(r.Score) * r.Weight
		if r.Fallback {
			report.FallbackSteps++
		}
	}
	report.OverallScore = int(math.Round(weighted))
	report.WinProbability = WinProbability(report.OverallScore)
	report.Assessment = Assessment(report.OverallScore)

	log.Printf("evaluation: document=%s overall=%d win=%s fallback_steps=%d",
		input.DocumentID, report.OverallScore, report.WinProbability, report.FallbackSteps)
	return report, nil
}

func (s *EvaluationService) runStep(ctx context.Context, step EvaluationStep, input EvaluationInput, model string) StepResult {
	result, err := s.scoreStep(ctx, step, input, model)
	if err != nil {
		log.Printf("evaluation: step %s failed, using fallback score: %v", step.Key, err)
		return StepResult{
			Key:       step.Key,
			Name:      step.Name,
			Weight:    step.Weight,
			Score:     FallbackStepScore,
			Feedback:  FallbackFeedback,
			Strengths: []string{},
			Gaps:      []string{},
			Fallback:  true,
			Error:     err.Error(),
		}
	}
	return result
}

type stepResponse struct {
	Score     any      `json:"score"`
	Feedback  string   `json:"feedback"`
	Strengths []string `json:"strengths"`
	Gaps      []string `json:"gaps"`
}

func (s *EvaluationService) scoreStep(ctx context.Context, step EvaluationStep, input EvaluationInput, model string) (StepResult, error) {
	if s.gateway == nil || !s.gateway.Configured() {
		return StepResult{}, domain.ErrNoProviderConfigured
	}

	var contextBlock string
	if s.retriever != nil {
		retrieved, err := s.retriever.Retrieve(ctx, RetrievalInput{
			Query:             step.Query,
			SessionDocumentID: input.DocumentID,
			Category:          step.Category,
			Model:             model,
			ResponseTokens:    evaluationResponseTokens,
		})
		if err != nil {
			return StepResult{}, fmt.Errorf("retrieval: %w", err)
		}
		contextBlock = retrieved.FormattedContext
	}
	if proposal := strings.TrimSpace(input.ProposalText); proposal != "" {
		contextBlock = joinNonEmpty(contextBlock, "=== PROPOSAL ===\n"+proposal)
	}
	if contextBlock == "" {
		return StepResult{}, errors.New("no content to evaluate")
	}

	completion, err := s.gateway.Complete(ctx, provider.CallSpec{
		SystemPrompt:      evaluationSystemPrompt,
		UserPrompt:        "EVALUATION AREA: " + step.Name + "\nFOCUS: " + step.Focus + "\n\n" + contextBlock,
		ProviderID:        input.ProviderID,
		ModelID:           model,
		Temperature:       evaluationTemperature,
		MaxResponseTokens: evaluationResponseTokens,
	})
	if err != nil {
		return StepResult{}, err
	}

	var resp stepResponse
	if err := provider.DecodeJSON(completion.Text, &resp); err != nil {
		return StepResult{}, err
	}
	score, err := parseScore(resp.Score)
	if err != nil {
		return StepResult{}, domain.Wrap(domain.ErrMalformedOutput, err)
	}

	return StepResult{
		Key:       step.Key,
		Name:      step.Name,
		Weight:    step.Weight,
		Score:     score,
		Feedback:  strings.TrimSpace(resp.Feedback),
		Strengths: nonNil(resp.Strengths),
		Gaps:      nonNil(resp.Gaps),
	}, nil
}

// parseScore accepts a JSON number or numeric string and clamps to 0..100.
func parseScore(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("score %q is not a number", t)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("score missing or not a number: %v", v)
	}
	return clamp(int(math.Round(f)), 0, 100), nil
}

// WinProbability maps an overall score onto a tier.
func WinProbability(score int) string {
	switch {
	case score >= 80:
		return "High"
	case score >= 65:
		return "Medium"
	case score >= 50:
		return "Low"
	default:
		return "Very Low"
	}
}

// Assessment maps an overall score onto summary text.
func Assessment(score int) string {
	switch {
	case score >= 85:
		return "Excellent: strong candidate for award"
	case score >= 70:
		return "Good: competitive with minor gaps"
	case score >= 55:
		return "Fair: significant improvements needed"
	default:
		return "Poor: major gaps against tender requirements"
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
