package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/tenderwise/internal/config"
	"github.com/cloo-solutions/tenderwise/internal/service"
)

// GenerateCmd returns the generate command
func GenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Extract tender facts and format them",
		Long: `Run fact extraction followed by presentation formatting.

Source text comes from --source-file, or is retrieved from the index for
--document and --query.`,
		RunE: runGenerate,
	}

	cmd.Flags().StringP("document", "d", "", "Tender document ID to retrieve context from")
	cmd.Flags().String("source-file", "", "Path to source text, or - for stdin")
	cmd.Flags().StringP("query", "q", "", "Retrieval query")
	cmd.Flags().String("task", "", "Presentation task (defaults to a tender summary)")
	cmd.Flags().StringSlice("field", nil, "Field to extract (repeatable)")
	cmd.Flags().String("provider", "", "Provider to use (groq, openai, gemini, huggingface)")
	cmd.Flags().String("model", "", "Model ID (defaults to the provider's default)")
	cmd.Flags().StringP("output", "o", "markdown", "Output format: markdown, html or json")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	documentID, _ := cmd.Flags().GetString("document")
	sourcePath, _ := cmd.Flags().GetString("source-file")
	query, _ := cmd.Flags().GetString("query")
	task, _ := cmd.Flags().GetString("task")
	fields, _ := cmd.Flags().GetStringSlice("field")
	providerID, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	output, _ := cmd.Flags().GetString("output")

	switch output {
	case "markdown", "html", "json":
	default:
		return fmt.Errorf("invalid output format %q (want markdown, html or json)", output)
	}

	var source string
	if sourcePath != "" {
		text, err := readInput(cmd.InOrStdin(), sourcePath)
		if err != nil {
			return err
		}
		source = text
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

	result, err := app.Generation.Generate(ctx, service.GenerateInput{
		Task:       task,
		SourceText: source,
		DocumentID: documentID,
		Query:      query,
		Fields:     fields,
		Model:      model,
		ProviderID: providerID,
	})
	if err != nil {
		return err
	}

	switch output {
	case "json":
		return printJSON(cmd, result)
	case "html":
		_, err = fmt.Fprint(cmd.OutOrStdout(), result.Presentation.HTML)
	default:
		_, err = fmt.Fprint(cmd.OutOrStdout(), result.Presentation.Markdown)
	}
	return err
}
