package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/tenderwise/internal/config"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/pdftext"
	"github.com/cloo-solutions/tenderwise/internal/service"
	"github.com/cloo-solutions/tenderwise/internal/storage"
)

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and index a tender document",
		Long: `Read a PDF, text or markdown file, store it as a document and index its chunks.

With S3 configured the extracted text is uploaded and the document row only
keeps the object key.`,
		RunE: runIngest,
	}

	cmd.Flags().StringP("file", "f", "", "Path to a .pdf, .txt or .md file")
	cmd.Flags().String("id", "", "Document ID (generated when empty)")
	cmd.Flags().String("title", "", "Document title (defaults to the file name)")
	cmd.Flags().Bool("published", false, "Mark the document as a published reference tender")
	cmd.Flags().Bool("force", false, "Re-index even when the content is unchanged")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

type ingestOutput struct {
	*service.IngestResult
	Title   string `json:"title"`
	TextKey string `json:"text_key,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, _ := cmd.Flags().GetString("file")
	id, _ := cmd.Flags().GetString("id")
	title, _ := cmd.Flags().GetString("title")
	published, _ := cmd.Flags().GetBool("published")
	force, _ := cmd.Flags().GetBool("force")

	text, err := readDocumentText(path)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
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

	doc := &domain.Document{ID: id, Title: title, Body: text, Published: published}
	if app.Storage != nil {
		doc.TextKey = storage.TextKey(id)
		if err := app.Storage.PutText(ctx, doc.TextKey, text); err != nil {
			return fmt.Errorf("failed to upload document text: %w", err)
		}
		doc.Body = ""
	}

	if err := app.Docs.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	// The body is passed inline so ingestion does not re-read what was
	// just uploaded.
	indexed := *doc
	indexed.Body = text
	result, err := app.Ingestion.IngestDocument(ctx, &indexed, force)
	if err != nil {
		return fmt.Errorf("failed to ingest document: %w", err)
	}

	return printJSON(cmd, ingestOutput{IngestResult: result, Title: title, TextKey: doc.TextKey})
}

func readDocumentText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		pages, err := pdftext.ExtractFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", path, err)
		}
		return pdftext.Join(pages), nil
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		text := string(data)
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%s is empty", path)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unsupported file type %q (want .pdf, .txt or .md)", filepath.Ext(path))
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
