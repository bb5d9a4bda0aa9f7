// Package pdftext extracts plain text from tender PDFs.
package pdftext

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when no page yields any text, which usually means
// a scanned document.
var ErrNoText = errors.New("pdf contains no extractable text")

// Page is the text of one PDF page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// ExtractFile reads the PDF at path.
func ExtractFile(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Extract(f, info.Size())
}

// Extract returns the text of every page that has any. Pages that fail to
// decode are skipped.
func Extract(r io.ReaderAt, size int64) ([]Page, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		for _, name := range p.Fonts() {
			font := p.Font(name)
			fonts[name] = &font
		}

		text, err := p.GetPlainText(fonts)
		if err != nil {
			log.Printf("pdftext: skipping page %d: %v", i, err)
			continue
		}
		if text = normalize(text); text != "" {
			pages = append(pages, Page{Number: i, Text: text})
		}
	}

	if len(pages) == 0 {
		return nil, ErrNoText
	}
	return pages, nil
}

// Join concatenates page texts with blank lines between pages.
func Join(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// normalize collapses runs of blank lines and trailing spaces.
func normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
