package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/tenderwise/internal/config"
	"github.com/cloo-solutions/tenderwise/internal/service"
)

// EvaluateCmd returns the evaluate command
func EvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a proposal against an indexed tender",
		Long:  "Run the weighted multi-step evaluation of a proposal against one tender document",
		RunE:  runEvaluate,
	}

	cmd.Flags().StringP("document", "d", "", "Tender document ID")
	cmd.Flags().String("proposal-file", "", "Path to the proposal text, or - for stdin")
	cmd.Flags().String("provider", "", "Provider to use (groq, openai, gemini, huggingface)")
	cmd.Flags().String("model", "", "Model ID (defaults to the provider's default)")
	cmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("proposal-file")

	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	documentID, _ := cmd.Flags().GetString("document")
	proposalPath, _ := cmd.Flags().GetString("proposal-file")
	providerID, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	output, _ := cmd.Flags().GetString("output")
	if output != "text" && output != "json" {
		return fmt.Errorf("invalid output format %q (want text or json)", output)
	}

	proposal, err := readInput(cmd.InOrStdin(), proposalPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Evaluation.Evaluate(ctx, service.EvaluationInput{
		DocumentID:   documentID,
		ProposalText: proposal,
		Model:        model,
		ProviderID:   providerID,
	})
	if err != nil {
		return err
	}

	if output == "json" {
		return printJSON(cmd, report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func printReport(w io.Writer, r *service.EvaluationReport) {
	fmt.Fprintf(w, "Overall score:   %d/100\n", r.OverallScore)
	fmt.Fprintf(w, "Win probability: %s\n", r.WinProbability)
	fmt.Fprintf(w, "Assessment:      %s\n", r.Assessment)
	if r.FallbackSteps > 0 {
		fmt.Fprintf(w, "Fallback steps:  %d (scored neutrally)\n", r.FallbackSteps)
	}
	for _, step := range r.Steps {
		fmt.Fprintf(w, "\n%s (weight %.0f%%): %d\n", step.Name, step.Weight*100, step.Score)
		if step.Feedback != "" {
			fmt.Fprintf(w, "  %s\n", step.Feedback)
		}
		if len(step.Strengths) > 0 {
			fmt.Fprintf(w, "  Strengths: %s\n", strings.Join(step.Strengths, "; "))
		}
		if len(step.Gaps) > 0 {
			fmt.Fprintf(w, "  Gaps: %s\n", strings.Join(step.Gaps, "; "))
		}
	}
}
