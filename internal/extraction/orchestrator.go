package extraction

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lectorhq/docstract/internal/quality"
	"github.com/lectorhq/docstract/internal/resilience"
)

// Options tunes a single extraction run.
type Options struct {
	// VisionEnabled gates the vision fallback tier for this run. The tier
	// also requires a configured vision service.
	VisionEnabled bool

	// Concurrency overrides the vision worker pool size (0 uses the config)
	Concurrency int

	// OnProgress fires after each vision page completes
	OnProgress func(completed, total int)
}

// Orchestrator drives the tiered extraction pipeline: native extraction,
// quality analysis, vision fallback for problematic pages, and the final
// needs-OCR determination.
//
// The circuit breaker is shared across every document this orchestrator
// processes: once the vision dependency proves unhealthy, later documents
// fail fast instead of re-discovering the outage.
type Orchestrator struct {
	cfg     *Config
	native  NativeExtractor
	vision  VisionService
	breaker *resilience.CircuitBreaker
	agg     *quality.Aggregator
	logger  *logrus.Logger
}

// NewOrchestrator wires a pipeline from its collaborators. vision may be nil
// when the tier is not configured; the pipeline then degrades to native-only.
func NewOrchestrator(cfg *Config, native NativeExtractor, vision VisionService, breaker *resilience.CircuitBreaker, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		native:  native,
		vision:  vision,
		breaker: breaker,
		agg:     quality.NewAggregator(cfg.Thresholds),
		logger:  logger,
	}
}

// NewDefaultPipeline builds an orchestrator with the production
// collaborators: pdfcpu for the native tier and an OpenAI-compatible vision
// client when configured.
func NewDefaultPipeline(cfg *Config, logger *logrus.Logger) (*Orchestrator, error) {
	native := NewPDFExtractor(logger)

	var vision VisionService
	if cfg.VisionConfigured() {
		client, err := NewOpenAIVision(cfg, logger)
		if err != nil {
			return nil, err
		}
		vision = client
	}

	breaker := resilience.NewCircuitBreaker(
		cfg.BreakerFailureThreshold,
		cfg.BreakerOpenTimeout,
		cfg.BreakerHalfOpenSuccesses,
	)

	return NewOrchestrator(cfg, native, vision, breaker, logger), nil
}

// ExtractWithFallback runs the full pipeline for one document. The only
// fatal failure is the document not opening; everything past that point
// degrades quality instead of failing the run.
func (o *Orchestrator) ExtractWithFallback(ctx context.Context, doc *Document, opts Options) (*ExtractionResult, error) {
	start := time.Now()

	pageCount, err := o.native.PageCount(ctx, doc)
	if err != nil {
		return nil, &DocumentOpenError{Source: doc.Path, Err: err}
	}

	pageTexts := o.extractNativePages(ctx, doc, pageCount)

	report := o.agg.AnalyzeDocument(pageTexts)
	o.logger.WithFields(logrus.Fields{
		"source":            doc.Path,
		"total_pages":       report.TotalPages,
		"overall_score":     report.OverallScore,
		"problematic_pages": len(report.ProblematicPages),
		"method":            report.ExtractionMethod,
	}).Info("Quality analysis completed")

	var visionPagesUsed []int
	if o.shouldRunVision(opts, report) {
		visionPagesUsed = o.runVisionFallback(ctx, doc, report.ProblematicPages, pageTexts, opts)
	}

	needsOCR := o.needsOCR(report, pageTexts)

	result := o.finalize(doc, pageTexts, report, visionPagesUsed, needsOCR, start)
	return result, nil
}

// extractNativePages pulls the text layer page by page. A page that fails to
// extract contributes an empty string; the quality analyzer will flag it.
func (o *Orchestrator) extractNativePages(ctx context.Context, doc *Document, pageCount int) []string {
	pageTexts := make([]string, pageCount)

	for i := range pageCount {
		pageNumber := i + 1
		text, err := o.native.ExtractPage(ctx, doc, pageNumber)
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"source": doc.Path,
				"page":   pageNumber,
			}).Warn("Native extraction failed for page")
			continue
		}
		pageTexts[i] = text
	}

	return pageTexts
}

// shouldRunVision decides whether tier 2 runs at all. Documents the analyzer
// already routed to OCR skip vision: re-reading a majority-failed document
// page by page wastes the budget OCR will spend anyway.
func (o *Orchestrator) shouldRunVision(opts Options, report quality.DocumentQualityReport) bool {
	if !opts.VisionEnabled || o.vision == nil {
		return false
	}
	if len(report.ProblematicPages) == 0 {
		return false
	}
	return report.ExtractionMethod != quality.MethodOCR
}

// runVisionFallback re-extracts the problematic pages through the vision
// service, each page as its own retried, breaker-guarded call. Successful
// texts are written back into pageTexts by index so the page order is
// preserved regardless of completion order. Returns the sorted list of pages
// whose text was actually replaced.
func (o *Orchestrator) runVisionFallback(ctx context.Context, doc *Document, problematicPages []int, pageTexts []string, opts Options) []int {
	retryOpts := resilience.RetryOptions{
		MaxAttempts:  o.cfg.RetryMaxAttempts,
		InitialDelay: o.cfg.RetryInitialDelay,
		MaxDelay:     o.cfg.RetryMaxDelay,
		Timeout:      o.cfg.VisionTimeout,
		OnRetry: func(attempt int, err error) {
			o.logger.WithError(err).WithField("attempt", attempt).Debug("Retrying vision extraction")
		},
	}

	tasks := make([]resilience.BatchTask[string], 0, len(problematicPages))
	for _, page := range problematicPages {
		tasks = append(tasks, resilience.BatchTask[string]{
			Key: page,
			Run: func(taskCtx context.Context) (string, error) {
				result := resilience.RetryWithBackoff(taskCtx, func(attemptCtx context.Context) (string, error) {
					return o.visionPage(attemptCtx, doc, page)
				}, retryOpts)
				if !result.Success {
					return "", result.Err
				}
				return result.Data, nil
			},
		})
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = o.cfg.Concurrency
	}

	results, _ := resilience.RunBatch(ctx, tasks, resilience.BatchOptions{
		Concurrency:     concurrency,
		ContinueOnError: true,
		OnProgress:      opts.OnProgress,
	})

	var used []int
	for page, text := range results {
		if text == nil {
			o.logger.WithFields(logrus.Fields{
				"source": doc.Path,
				"page":   page,
			}).Warn("Vision fallback failed for page, keeping native text")
			continue
		}
		if strings.TrimSpace(*text) == "" {
			continue
		}
		pageTexts[page-1] = *text
		used = append(used, page)
	}
	sort.Ints(used)

	return used
}

// visionPage runs one breaker-guarded vision call for a single page.
func (o *Orchestrator) visionPage(ctx context.Context, doc *Document, page int) (string, error) {
	var pageText string
	err := o.breaker.Execute(ctx, func(callCtx context.Context) error {
		texts, err := o.vision.ExtractPages(callCtx, doc.Data, []int{page})
		if err != nil {
			return err
		}
		pageText = texts[page]
		return nil
	})
	return pageText, err
}

// needsOCR decides whether the document should be escalated to full OCR.
// The method recommendation reflects the pre-vision analysis; the character
// counts reflect the final text, vision replacements included.
func (o *Orchestrator) needsOCR(report quality.DocumentQualityReport, pageTexts []string) bool {
	if report.ExtractionMethod == quality.MethodOCR {
		return true
	}

	totalChars := 0
	for _, text := range pageTexts {
		totalChars += len(text)
	}
	if totalChars < o.cfg.Thresholds.OCRMinTotalChars {
		return true
	}

	if len(pageTexts) > 0 {
		avgCharsPerPage := float64(totalChars) / float64(len(pageTexts))
		density := avgCharsPerPage / o.cfg.Thresholds.OCRCharsPerPageBudget
		if density < o.cfg.Thresholds.OCRDensityRatio {
			return true
		}
	}

	return false
}

func (o *Orchestrator) finalize(doc *Document, pageTexts []string, report quality.DocumentQualityReport, visionPagesUsed []int, needsOCR bool, start time.Time) *ExtractionResult {
	emptyPages := 0
	for _, text := range pageTexts {
		if strings.TrimSpace(text) == "" {
			emptyPages++
		}
	}
	nativePages := len(pageTexts) - len(visionPagesUsed) - emptyPages

	ocrStatus := StatusNotNeeded
	if needsOCR {
		ocrStatus = StatusPending
	}

	if visionPagesUsed == nil {
		visionPagesUsed = []int{}
	}

	return &ExtractionResult{
		Success:          true,
		ID:               uuid.NewString(),
		Content:          strings.TrimSpace(strings.Join(pageTexts, "\n\n")),
		PageTexts:        pageTexts,
		TotalPages:       len(pageTexts),
		QualityReport:    &report,
		ExtractionMethod: report.ExtractionMethod,
		NeedsOCR:         needsOCR,
		OCRStatus:        ocrStatus,
		VisionPagesUsed:  visionPagesUsed,
		Metadata: ResultMetadata{
			Source:         doc.Path,
			FileSize:       int64(len(doc.Data)),
			NativePages:    nativePages,
			VisionPages:    len(visionPagesUsed),
			EmptyPages:     emptyPages,
			ProcessingTime: time.Since(start).Seconds(),
			Timestamp:      time.Now(),
		},
	}
}
