// Package docquality exposes the quality analyzer as the document_quality
// MCP tool: score already-extracted page texts without touching the source
// document.
package docquality

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/lectorhq/docstract/internal/quality"
	"github.com/lectorhq/docstract/internal/registry"
)

// DocumentQualityTool scores extracted page texts.
type DocumentQualityTool struct{}

// response is the tool's JSON payload.
type response struct {
	Report  quality.DocumentQualityReport `json:"report"`
	Summary string                        `json:"summary"`
}

func init() {
	registry.Register(&DocumentQualityTool{})
}

// Definition returns the tool's definition for MCP registration
func (t *DocumentQualityTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"document_quality",
		mcp.WithDescription(`Assess the quality of already-extracted document text. Scores each page 0-100 using garbled-text heuristics, lists pages that need vision re-extraction, and recommends an extraction method (native, hybrid, or ocr).`),
		mcp.WithArray("page_texts",
			mcp.Required(),
			mcp.Description("Extracted text of each page, in page order"),
		),
	)
}

// Execute analyzes the provided page texts
func (t *DocumentQualityTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]interface{}) (*mcp.CallToolResult, error) {
	pageTexts, err := parsePageTexts(args)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	aggregator := quality.NewAggregator(quality.DefaultThresholds())
	report := aggregator.AnalyzeDocument(pageTexts)

	logger.WithFields(logrus.Fields{
		"total_pages":       report.TotalPages,
		"overall_score":     report.OverallScore,
		"problematic_pages": len(report.ProblematicPages),
		"method":            report.ExtractionMethod,
	}).Debug("Document quality analysis completed")

	return newToolResultJSON(response{
		Report:  report,
		Summary: quality.GenerateQualitySummary(report),
	})
}

func parsePageTexts(args map[string]interface{}) ([]string, error) {
	raw, ok := args["page_texts"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid required parameter: page_texts")
	}

	pageTexts := make([]string, len(raw))
	for i, item := range raw {
		text, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("page_texts[%d] must be a string", i)
		}
		pageTexts[i] = text
	}

	return pageTexts, nil
}

// newToolResultJSON creates a tool result with JSON content
func newToolResultJSON(data interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result to JSON: %w", err)
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}
