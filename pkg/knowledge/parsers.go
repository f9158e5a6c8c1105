package knowledge

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// docxTagPattern matches any XML tag in a DOCX document body.
var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

// parseFile extracts plain text from a document on disk. The format
// is chosen by extension.
func parseFile(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	case ".pdf":
		return parsePDF(ctx, path)
	case ".docx":
		return parseDocx(path)
	case ".xlsx":
		return parseXlsx(ctx, path)
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func parsePDF(ctx context.Context, path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Scanned or malformed pages yield no text.
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func parseDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX: %w", err)
	}
	defer doc.Close()

	// GetContent returns the raw document.xml markup.
	return stripDocxMarkup(doc.Editable().GetContent()), nil
}

// stripDocxMarkup reduces document.xml to its visible text. Paragraph
// closes become newlines, remaining tags are dropped, and entities
// are decoded.
func stripDocxMarkup(raw string) string {
	text := strings.ReplaceAll(raw, "</w:p>", "\n")
	text = docxTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(html.UnescapeString(text))
}

func parseXlsx(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open XLSX: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		var b strings.Builder
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, "\t"))
				b.WriteString("\n")
			}
		}
		if b.Len() > 0 {
			parts = append(parts, fmt.Sprintf("--- Sheet: %s ---\n%s", sheet, b.String()))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}
