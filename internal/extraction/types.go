// Package extraction implements the tiered document text-extraction
// pipeline: native text-layer extraction first, vision re-extraction for
// pages whose text looks untrustworthy, and a needs-OCR flag for documents
// beyond saving. OCR itself is never performed here - it requires user
// approval and runs elsewhere.
package extraction

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lectorhq/docstract/internal/quality"
)

// OCRStatus tracks the OCR tier's lifecycle for a document. This package
// only ever produces StatusNotNeeded or StatusPending; the later states
// belong to the external OCR workflow.
type OCRStatus string

const (
	StatusNotNeeded    OCRStatus = "not_needed"
	StatusPending      OCRStatus = "pending"
	StatusProcessing   OCRStatus = "processing"
	StatusCompleted    OCRStatus = "completed"
	StatusUserDeclined OCRStatus = "user_declined"
)

// Document is a loaded source document handed to the pipeline.
type Document struct {
	// Path is the absolute path the document was loaded from
	Path string

	// Data is the raw document bytes (what the vision tier sends downstream)
	Data []byte
}

// LoadDocument reads a document from disk, enforcing the size limit.
func LoadDocument(path string, maxBytes int64) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("document too large: %d bytes (max %d)", info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	return &Document{Path: path, Data: data}, nil
}

// NativeExtractor is the tier-1 collaborator: direct text-layer extraction
// without image analysis.
type NativeExtractor interface {
	// PageCount opens the document and returns its page count. An error
	// here means the document cannot be processed at all.
	PageCount(ctx context.Context, doc *Document) (int, error)

	// ExtractPage returns the text of one 1-indexed page. Errors are
	// per-page and non-fatal to the pipeline.
	ExtractPage(ctx context.Context, doc *Document, pageNumber int) (string, error)
}

// VisionService is the tier-2 collaborator: image-understanding
// re-extraction. Implementations may silently omit pages they could not
// read; transport errors surface to the resilience layer.
type VisionService interface {
	ExtractPages(ctx context.Context, docBytes []byte, pageNumbers []int) (map[int]string, error)
}

// ResultMetadata carries bookkeeping about how a result was produced.
type ResultMetadata struct {
	// Source is the document path the result was extracted from
	Source string `json:"source"`

	// FileSize is the document size in bytes
	FileSize int64 `json:"file_size"`

	// NativePages is the number of pages whose final text came from the
	// native tier
	NativePages int `json:"native_pages"`

	// VisionPages is the number of pages whose final text came from the
	// vision tier
	VisionPages int `json:"vision_pages"`

	// EmptyPages is the number of pages with no usable text in the final
	// result
	EmptyPages int `json:"empty_pages"`

	// ProcessingTime is the total wall-clock time in seconds
	ProcessingTime float64 `json:"processing_time"`

	// Timestamp is when extraction completed
	Timestamp time.Time `json:"timestamp"`

	// CacheHit is true when the result was served from the result cache
	CacheHit bool `json:"cache_hit"`
}

// ExtractionResult is the pipeline's final handoff to the caller.
// Persistence is the caller's concern.
type ExtractionResult struct {
	// Success is true whenever the document could be opened - partial
	// page failures degrade quality, not success
	Success bool `json:"success"`

	// ID uniquely identifies this extraction run
	ID string `json:"id"`

	// Content is the full document text, pages joined by blank lines
	Content string `json:"content"`

	// PageTexts holds the final per-page text in input page order;
	// len(PageTexts) == TotalPages always
	PageTexts []string `json:"page_texts"`

	// TotalPages is the document's page count
	TotalPages int `json:"total_pages"`

	// QualityReport is the per-page and document-level quality assessment
	QualityReport *quality.DocumentQualityReport `json:"quality_report,omitempty"`

	// ExtractionMethod records which strategy produced this result
	ExtractionMethod quality.ExtractionMethod `json:"extraction_method"`

	// NeedsOCR is true when the document should be escalated to full OCR
	NeedsOCR bool `json:"needs_ocr"`

	// OCRStatus is "pending" when OCR is warranted, "not_needed" otherwise
	OCRStatus OCRStatus `json:"ocr_status"`

	// VisionPagesUsed lists the 1-indexed pages whose text was replaced by
	// the vision tier
	VisionPagesUsed []int `json:"vision_pages_used"`

	// Metadata carries processing bookkeeping
	Metadata ResultMetadata `json:"metadata"`
}

// DocumentOpenError is the single fatal failure mode: the document could
// not be opened or parsed at all, so no result exists.
type DocumentOpenError struct {
	Source string
	Err    error
}

func (e *DocumentOpenError) Error() string {
	return fmt.Sprintf("failed to open document %s: %v", e.Source, e.Err)
}

func (e *DocumentOpenError) Unwrap() error {
	return e.Err
}
