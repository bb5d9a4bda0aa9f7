package cli

import "github.com/spf13/cobra"

// RootCmd assembles the tenderd command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tenderd",
		Short:        "Tender analysis daemon and CLI",
		Long:         "tenderd serves the tender retrieval and generation API and runs ingestion and evaluation from the command line",
		SilenceUsage: true,
	}

	AddHelpJSONFlag(root)
	root.AddCommand(ServeCmd())
	root.AddCommand(IngestCmd())
	root.AddCommand(GenerateCmd())
	root.AddCommand(EvaluateCmd())
	return root
}
