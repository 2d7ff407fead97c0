// Package quality scores extracted page text with garbled-text heuristics
// and aggregates the per-page scores into a document-level extraction-method
// recommendation.
package quality

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds holds the tuned scoring constants used by the analyzer and
// aggregator. The defaults reflect observed extraction behaviour across a
// large document corpus - do not adjust them without re-validating against
// real documents.
type Thresholds struct {
	// VisionFallbackScore is the quality score below which a page is
	// flagged for vision re-extraction
	VisionFallbackScore int `yaml:"vision_fallback_score"`

	// FailedScoreCeiling is the score below which a page counts as failed
	// (31 and above but below VisionFallbackScore counts as poor quality)
	FailedScoreCeiling int `yaml:"failed_score_ceiling"`

	// VeryShortChars and ShortChars are the character counts below which
	// the very-short (-40) and short (-25) penalties apply
	VeryShortChars int `yaml:"very_short_chars"`
	ShortChars     int `yaml:"short_chars"`

	// MinAvgCharsPerLine flags fragmented line structure when the page has
	// more than FragmentedMinLines lines
	MinAvgCharsPerLine float64 `yaml:"min_avg_chars_per_line"`
	FragmentedMinLines int     `yaml:"fragmented_min_lines"`

	// SpecialCharHighRatio and SpecialCharModerateRatio bound the share of
	// characters outside the expected text alphabet
	SpecialCharHighRatio     float64 `yaml:"special_char_high_ratio"`
	SpecialCharModerateRatio float64 `yaml:"special_char_moderate_ratio"`

	// SingleCharWordHighRatio and SingleCharWordModerateRatio bound the
	// share of one-character words (a common symptom of broken kerning)
	SingleCharWordHighRatio     float64 `yaml:"single_char_word_high_ratio"`
	SingleCharWordModerateRatio float64 `yaml:"single_char_word_moderate_ratio"`

	// MinAvgWordLength applies when the page has more than
	// MinWordsForAvgCheck words
	MinAvgWordLength    float64 `yaml:"min_avg_word_length"`
	MinWordsForAvgCheck int     `yaml:"min_words_for_avg_check"`

	// NoParagraphMinChars and NoParagraphMaxLines detect wall-of-text pages
	// with no blank-line gaps
	NoParagraphMinChars int `yaml:"no_paragraph_min_chars"`
	NoParagraphMaxLines int `yaml:"no_paragraph_max_lines"`

	// UniqueWordHighRatio / UniqueWordLowRatio bound vocabulary diversity
	// when the page has more than MinWordsForUniqueCheck words
	UniqueWordHighRatio    float64 `yaml:"unique_word_high_ratio"`
	UniqueWordLowRatio     float64 `yaml:"unique_word_low_ratio"`
	MinWordsForUniqueCheck int     `yaml:"min_words_for_unique_check"`

	// MaxWhitespaceRuns and MaxCamelCaseJoins are the artifact counts
	// tolerated before the respective -5 penalties apply
	MaxWhitespaceRuns int `yaml:"max_whitespace_runs"`
	MaxCamelCaseJoins int `yaml:"max_camel_case_joins"`

	// FailedMajorityFraction is the share of failed pages beyond which the
	// whole document is routed to OCR
	FailedMajorityFraction float64 `yaml:"failed_majority_fraction"`

	// HybridOverallScore routes the document to hybrid extraction when the
	// mean score falls below it, even with no individually problematic page
	HybridOverallScore int `yaml:"hybrid_overall_score"`

	// OCRMinTotalChars and the chars-per-page density budget drive the
	// final needs-OCR determination
	OCRMinTotalChars      int     `yaml:"ocr_min_total_chars"`
	OCRCharsPerPageBudget float64 `yaml:"ocr_chars_per_page_budget"`
	OCRDensityRatio       float64 `yaml:"ocr_density_ratio"`
}

// DefaultThresholds returns the pinned production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VisionFallbackScore:         61,
		FailedScoreCeiling:          31,
		VeryShortChars:              50,
		ShortChars:                  100,
		MinAvgCharsPerLine:          10,
		FragmentedMinLines:          3,
		SpecialCharHighRatio:        0.3,
		SpecialCharModerateRatio:    0.2,
		SingleCharWordHighRatio:     0.3,
		SingleCharWordModerateRatio: 0.15,
		MinAvgWordLength:            3,
		MinWordsForAvgCheck:         10,
		NoParagraphMinChars:         200,
		NoParagraphMaxLines:         5,
		UniqueWordHighRatio:         0.95,
		UniqueWordLowRatio:          0.2,
		MinWordsForUniqueCheck:      20,
		MaxWhitespaceRuns:           5,
		MaxCamelCaseJoins:           5,
		FailedMajorityFraction:      0.5,
		HybridOverallScore:          70,
		OCRMinTotalChars:            100,
		OCRCharsPerPageBudget:       500,
		OCRDensityRatio:             0.1,
	}
}

// LoadThresholdsFile reads threshold overrides from a YAML file. Fields not
// present in the file keep their default values.
func LoadThresholdsFile(path string) (Thresholds, error) {
	thresholds := DefaultThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return thresholds, fmt.Errorf("failed to read thresholds file: %w", err)
	}

	if err := yaml.Unmarshal(data, &thresholds); err != nil {
		return thresholds, fmt.Errorf("failed to parse thresholds file: %w", err)
	}

	return thresholds, nil
}
