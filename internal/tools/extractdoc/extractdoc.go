// Package extractdoc exposes the tiered extraction pipeline as the
// extract_document MCP tool.
package extractdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/lectorhq/docstract/internal/extraction"
	"github.com/lectorhq/docstract/internal/registry"
)

// ExtractDocumentTool runs the extraction pipeline against a local PDF.
type ExtractDocumentTool struct {
	initOnce sync.Once
	initErr  error

	cfg *extraction.Config
	// pipeline is shared across calls so the circuit breaker state spans
	// documents
	pipeline *extraction.Orchestrator
	cache    *extraction.ResultCache
}

// Request holds the parsed tool arguments.
type Request struct {
	FilePath      string
	VisionEnabled bool
	UseCache      bool
	Concurrency   int
}

func init() {
	registry.Register(&ExtractDocumentTool{})
}

// Definition returns the tool's definition for MCP registration
func (t *ExtractDocumentTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"extract_document",
		mcp.WithDescription(`Extract text from a PDF document using tiered extraction: fast native text-layer extraction first, then vision-model re-extraction for pages whose text looks garbled or missing. Flags documents that need full OCR instead of performing it.`),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute file path to the PDF document to process"),
		),
		mcp.WithBoolean("vision_fallback",
			mcp.Description("Re-extract problematic pages with the vision model when configured (default: true)"),
			mcp.DefaultBool(true),
		),
		mcp.WithBoolean("use_cache",
			mcp.Description("Serve unchanged documents from the result cache (default: true)"),
			mcp.DefaultBool(true),
		),
		mcp.WithNumber("concurrency",
			mcp.Description("Vision worker pool size (default: from configuration)"),
		),
	)
}

// Execute runs the extraction pipeline
func (t *ExtractDocumentTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]interface{}) (*mcp.CallToolResult, error) {
	request, err := t.ParseRequest(args)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	if err := t.ensureInit(logger); err != nil {
		return nil, fmt.Errorf("pipeline initialisation failed: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"file_path":       request.FilePath,
		"vision_fallback": request.VisionEnabled,
		"use_cache":       request.UseCache,
	}).Debug("Extract document parameters")

	opts := extraction.Options{
		VisionEnabled: request.VisionEnabled,
		Concurrency:   request.Concurrency,
	}

	cacheKey := t.cache.Key(request.FilePath, opts)
	if request.UseCache {
		if cached, ok := t.cache.Get(cacheKey); ok {
			logger.WithField("file_path", request.FilePath).Debug("Serving extraction result from cache")
			return newToolResultJSON(cached)
		}
	}

	doc, err := extraction.LoadDocument(request.FilePath, t.cfg.MaxFileBytes())
	if err != nil {
		return nil, err
	}

	result, err := t.pipeline.ExtractWithFallback(ctx, doc, opts)
	if err != nil {
		return nil, err
	}

	if request.UseCache {
		if err := t.cache.Set(cacheKey, result); err != nil {
			logger.WithError(err).Warn("Failed to cache extraction result")
		}
	}

	logger.WithFields(logrus.Fields{
		"file_path":   request.FilePath,
		"total_pages": result.TotalPages,
		"method":      result.ExtractionMethod,
		"needs_ocr":   result.NeedsOCR,
	}).Debug("Extraction completed")

	return newToolResultJSON(result)
}

// ParseRequest parses and validates the tool arguments
func (t *ExtractDocumentTool) ParseRequest(args map[string]interface{}) (*Request, error) {
	filePath, ok := args["file_path"].(string)
	if !ok || filePath == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: file_path")
	}
	if !filepath.IsAbs(filePath) {
		return nil, fmt.Errorf("file_path must be an absolute path")
	}
	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return nil, fmt.Errorf("file_path must be a PDF file (.pdf extension)")
	}

	request := &Request{
		FilePath:      filePath,
		VisionEnabled: true,
		UseCache:      true,
	}

	if visionFallback, ok := args["vision_fallback"].(bool); ok {
		request.VisionEnabled = visionFallback
	}
	if useCache, ok := args["use_cache"].(bool); ok {
		request.UseCache = useCache
	}
	if concurrency, ok := args["concurrency"].(float64); ok {
		if concurrency < 1 {
			return nil, fmt.Errorf("concurrency must be at least 1")
		}
		request.Concurrency = int(concurrency)
	}

	return request, nil
}

// ensureInit builds the shared pipeline on first use.
func (t *ExtractDocumentTool) ensureInit(logger *logrus.Logger) error {
	t.initOnce.Do(func() {
		cfg, err := extraction.LoadConfig()
		if err != nil {
			t.initErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			t.initErr = err
			return
		}

		pipeline, err := extraction.NewDefaultPipeline(cfg, logger)
		if err != nil {
			t.initErr = err
			return
		}

		t.cfg = cfg
		t.pipeline = pipeline
		t.cache = extraction.NewResultCache(cfg)
	})
	return t.initErr
}

// newToolResultJSON creates a tool result with JSON content
func newToolResultJSON(data interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result to JSON: %w", err)
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}
