package quality

import (
	"fmt"
	"math"
	"strings"
)

// ExtractionMethod is the recommended extraction strategy for a document.
type ExtractionMethod string

const (
	// MethodNative means the text layer alone is trustworthy
	MethodNative ExtractionMethod = "native"
	// MethodHybrid means some pages should be re-extracted with vision
	MethodHybrid ExtractionMethod = "hybrid"
	// MethodVision means vision re-extraction across the document
	MethodVision ExtractionMethod = "vision"
	// MethodOCR means the document needs full OCR
	MethodOCR ExtractionMethod = "ocr"
)

// QualitySummary buckets the document's pages by score band.
type QualitySummary struct {
	// SuccessfulPages scored at or above the vision fallback threshold
	SuccessfulPages int `json:"successful_pages"`

	// PoorQualityPages scored below the threshold but above the failed band
	PoorQualityPages int `json:"poor_quality_pages"`

	// FailedPages scored in the failed band (near-unusable extraction)
	FailedPages int `json:"failed_pages"`
}

// DocumentQualityReport aggregates per-page quality metrics into a
// document-level assessment and a recommended extraction method.
type DocumentQualityReport struct {
	// TotalPages is the number of pages analyzed
	TotalPages int `json:"total_pages"`

	// PageMetrics holds the per-page assessments in page order
	PageMetrics []PageQualityMetrics `json:"page_metrics"`

	// OverallScore is the rounded mean of all page scores (0 if no pages)
	OverallScore int `json:"overall_score"`

	// ProblematicPages lists the 1-indexed pages flagged for vision fallback
	ProblematicPages []int `json:"problematic_pages"`

	// ExtractionMethod is the recommended strategy for this document
	ExtractionMethod ExtractionMethod `json:"extraction_method"`

	// Summary buckets pages by score band
	Summary QualitySummary `json:"summary"`
}

// Aggregator runs the page analyzer across a document and derives the
// document-level report.
type Aggregator struct {
	analyzer   *Analyzer
	thresholds Thresholds
}

// NewAggregator creates an Aggregator with the given thresholds.
func NewAggregator(thresholds Thresholds) *Aggregator {
	return &Aggregator{
		analyzer:   NewAnalyzer(thresholds),
		thresholds: thresholds,
	}
}

// Thresholds returns the thresholds this aggregator was built with.
func (g *Aggregator) Thresholds() Thresholds {
	return g.thresholds
}

// AnalyzePage exposes the underlying page analyzer.
func (g *Aggregator) AnalyzePage(text string, pageNumber int) PageQualityMetrics {
	return g.analyzer.AnalyzePage(text, pageNumber)
}

// AnalyzeDocument scores every page (1-indexed) and derives the overall
// score, the problematic page list, and the recommended extraction method.
func (g *Aggregator) AnalyzeDocument(pageTexts []string) DocumentQualityReport {
	report := DocumentQualityReport{
		TotalPages:       len(pageTexts),
		PageMetrics:      make([]PageQualityMetrics, 0, len(pageTexts)),
		ProblematicPages: []int{},
	}

	scoreTotal := 0
	for i, text := range pageTexts {
		metrics := g.analyzer.AnalyzePage(text, i+1)
		report.PageMetrics = append(report.PageMetrics, metrics)
		scoreTotal += metrics.QualityScore

		if metrics.NeedsVisionFallback {
			report.ProblematicPages = append(report.ProblematicPages, metrics.PageNumber)
		}

		switch {
		case metrics.QualityScore >= g.thresholds.VisionFallbackScore:
			report.Summary.SuccessfulPages++
		case metrics.QualityScore >= g.thresholds.FailedScoreCeiling:
			report.Summary.PoorQualityPages++
		default:
			report.Summary.FailedPages++
		}
	}

	if report.TotalPages > 0 {
		report.OverallScore = int(math.Round(float64(scoreTotal) / float64(report.TotalPages)))
	}

	report.ExtractionMethod = g.chooseMethod(
		report.TotalPages,
		report.Summary.FailedPages,
		len(report.ProblematicPages),
		report.OverallScore,
	)

	return report
}

// chooseMethod picks the recommended extraction method. Rules are evaluated
// in order and the first match wins.
func (g *Aggregator) chooseMethod(totalPages, failedPages, problematicPages, overallScore int) ExtractionMethod {
	if totalPages == 0 {
		return MethodNative
	}
	if float64(failedPages) > g.thresholds.FailedMajorityFraction*float64(totalPages) {
		return MethodOCR
	}
	if problematicPages > 0 {
		return MethodHybrid
	}
	if overallScore < g.thresholds.HybridOverallScore {
		return MethodHybrid
	}
	return MethodNative
}

// GenerateQualitySummary renders a human-readable report. Purely
// informational - it plays no part in method selection.
func GenerateQualitySummary(report DocumentQualityReport) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Document quality report\n")
	fmt.Fprintf(&sb, "  Pages analyzed:     %d\n", report.TotalPages)
	fmt.Fprintf(&sb, "  Overall score:      %d/100\n", report.OverallScore)
	fmt.Fprintf(&sb, "  Successful pages:   %d\n", report.Summary.SuccessfulPages)
	fmt.Fprintf(&sb, "  Poor quality pages: %d\n", report.Summary.PoorQualityPages)
	fmt.Fprintf(&sb, "  Failed pages:       %d\n", report.Summary.FailedPages)
	fmt.Fprintf(&sb, "  Recommended method: %s\n", report.ExtractionMethod)

	if len(report.ProblematicPages) > 0 {
		pages := make([]string, len(report.ProblematicPages))
		for i, p := range report.ProblematicPages {
			pages[i] = fmt.Sprintf("%d", p)
		}
		fmt.Fprintf(&sb, "  Problematic pages:  %s\n", strings.Join(pages, ", "))
	}

	return sb.String()
}
