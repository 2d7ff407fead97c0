package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

// PDFExtractor is the pdfcpu-backed NativeExtractor. It reads the PDF's
// text layer directly - no image analysis, no OCR.
type PDFExtractor struct {
	conf   *model.Configuration
	logger *logrus.Logger
}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor(logger *logrus.Logger) *PDFExtractor {
	return &PDFExtractor{
		conf:   model.NewDefaultConfiguration(),
		logger: logger,
	}
}

// PageCount opens the document and returns its page count. Failure here is
// the pipeline's only fatal error.
func (e *PDFExtractor) PageCount(ctx context.Context, doc *Document) (int, error) {
	count, err := api.PageCountFile(doc.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return count, nil
}

// ExtractPage extracts the text content of one page. pdfcpu writes content
// to files, so each page goes through a scratch directory.
func (e *PDFExtractor) ExtractPage(ctx context.Context, doc *Document, pageNumber int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tempDir, err := os.MkdirTemp("", "docstract_text_*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			e.logger.WithError(err).Warn("Failed to clean up temp directory")
		}
	}()

	pageSelection := []string{strconv.Itoa(pageNumber)}
	if err := api.ExtractContentFile(doc.Path, tempDir, pageSelection, e.conf); err != nil {
		return "", fmt.Errorf("failed to extract content for page %d: %w", pageNumber, err)
	}

	baseName := strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path))
	contentFile := filepath.Join(tempDir, fmt.Sprintf("%s_Content_page_%d.txt", baseName, pageNumber))

	contentBytes, err := os.ReadFile(contentFile)
	if err != nil {
		return "", fmt.Errorf("failed to read content file for page %d: %w", pageNumber, err)
	}

	text := textFromContentStream(string(contentBytes))

	e.logger.WithFields(logrus.Fields{
		"page":       pageNumber,
		"text_chars": len(text),
	}).Debug("Native page extraction completed")

	return text, nil
}

// textFromContentStream pulls the show-text operands out of a raw PDF
// content stream. Only Tj/TJ/quote operations carry visible text.
func textFromContentStream(content string) string {
	var texts []string

	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, " Tj") || strings.Contains(line, " TJ") ||
			strings.Contains(line, "' ") || strings.Contains(line, "\" ") {
			texts = append(texts, literalStrings(line)...)
		}
	}

	return strings.TrimSpace(strings.Join(texts, " "))
}

// literalStrings extracts the parenthesised literal strings from a PDF
// operation line, undoing the basic escape sequences.
func literalStrings(operation string) []string {
	var texts []string
	inText := false
	start := -1

	for i, char := range operation {
		switch {
		case char == '(' && (i == 0 || operation[i-1] != '\\'):
			inText = true
			start = i + 1
		case char == ')' && inText && (i == 0 || operation[i-1] != '\\'):
			if start != -1 && start < i {
				text := unescapeLiteral(operation[start:i])
				if strings.TrimSpace(text) != "" {
					texts = append(texts, text)
				}
			}
			inText = false
			start = -1
		}
	}

	return texts
}

func unescapeLiteral(text string) string {
	replacer := strings.NewReplacer(
		`\(`, "(",
		`\)`, ")",
		`\\`, `\`,
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
	)
	return replacer.Replace(text)
}
