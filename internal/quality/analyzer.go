package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Penalty amounts subtracted from the starting score of 100. Like the
// thresholds these are tuned values pinned by tests.
const (
	penaltyVeryShort           = 40
	penaltyShort               = 25
	penaltyFragmentedLines     = 20
	penaltySpecialCharHigh     = 30
	penaltySpecialCharModerate = 15
	penaltySingleCharHigh      = 25
	penaltySingleCharModerate  = 10
	penaltyShortWords          = 15
	penaltyNoParagraphs        = 10
	penaltySuspiciousPattern   = 20
	penaltyWordDiversity       = 15
	penaltyWhitespaceArtifact  = 5
	penaltyCamelCaseArtifact   = 5
)

// PageQualityMetrics captures the quality assessment of a single page's
// extracted text.
type PageQualityMetrics struct {
	// PageNumber is the 1-indexed page this assessment belongs to
	PageNumber int `json:"page_number"`

	// CharCount is the number of characters (runes) on the page
	CharCount int `json:"char_count"`

	// WordCount is the number of whitespace-separated tokens
	WordCount int `json:"word_count"`

	// LineCount is the number of newline-separated lines
	LineCount int `json:"line_count"`

	// SpecialCharRatio is the share of characters outside the expected
	// text alphabet
	SpecialCharRatio float64 `json:"special_char_ratio"`

	// QualityScore is the heuristic confidence in the extraction, 0-100
	QualityScore int `json:"quality_score"`

	// NeedsVisionFallback is true when the score falls below the vision
	// fallback threshold
	NeedsVisionFallback bool `json:"needs_vision_fallback"`

	// Issues lists the detected quality problems in human-readable form
	Issues []string `json:"issues,omitempty"`
}

// Analyzer scores extracted page text. It is a pure computation - no I/O,
// and malformed input degrades the score rather than failing.
type Analyzer struct {
	thresholds Thresholds
}

// NewAnalyzer creates an Analyzer with the given thresholds.
func NewAnalyzer(thresholds Thresholds) *Analyzer {
	return &Analyzer{thresholds: thresholds}
}

var (
	// A run of Unicode replacement characters signals decode failure.
	replacementRunPattern = regexp.MustCompile("�{3,}")

	// A long unbroken run of non-ASCII usually means mis-mapped glyphs.
	nonASCIIRunPattern = regexp.MustCompile(`[^\x00-\x7F]{20,}`)

	// Runs of horizontal whitespace inside a line are layout artifacts.
	whitespaceRunPattern = regexp.MustCompile(`[ \t]{4,}`)

	// A lowercase letter immediately followed by uppercase inside a word
	// suggests words were joined when spaces were lost.
	camelCaseJoinPattern = regexp.MustCompile(`[a-z][A-Z]`)
)

// AnalyzePage scores one page of extracted text. The score starts at 100
// and each detected issue subtracts a fixed penalty; the result is clamped
// to [0,100].
func (a *Analyzer) AnalyzePage(text string, pageNumber int) PageQualityMetrics {
	t := a.thresholds

	metrics := PageQualityMetrics{
		PageNumber: pageNumber,
		CharCount:  utf8.RuneCountInString(text),
	}

	// An empty page cannot be assessed further - worst score, straight to
	// the fallback tier.
	if metrics.CharCount == 0 {
		metrics.QualityScore = 0
		metrics.NeedsVisionFallback = true
		metrics.Issues = []string{"no text extracted"}
		return metrics
	}

	lines := strings.Split(text, "\n")
	words := strings.Fields(text)
	metrics.LineCount = len(lines)
	metrics.WordCount = len(words)
	metrics.SpecialCharRatio = specialCharRatio(text, metrics.CharCount)

	score := 100

	if metrics.CharCount < t.VeryShortChars {
		score -= penaltyVeryShort
		metrics.Issues = append(metrics.Issues, fmt.Sprintf("very little text (%d chars)", metrics.CharCount))
	} else if metrics.CharCount < t.ShortChars {
		score -= penaltyShort
		metrics.Issues = append(metrics.Issues, fmt.Sprintf("little text (%d chars)", metrics.CharCount))
	}

	if metrics.LineCount > t.FragmentedMinLines {
		avgCharsPerLine := float64(metrics.CharCount) / float64(metrics.LineCount)
		if avgCharsPerLine < t.MinAvgCharsPerLine {
			score -= penaltyFragmentedLines
			metrics.Issues = append(metrics.Issues, fmt.Sprintf("fragmented lines (%.1f chars/line)", avgCharsPerLine))
		}
	}

	if metrics.SpecialCharRatio > t.SpecialCharHighRatio {
		score -= penaltySpecialCharHigh
		metrics.Issues = append(metrics.Issues, fmt.Sprintf("high special character ratio (%.2f)", metrics.SpecialCharRatio))
	} else if metrics.SpecialCharRatio > t.SpecialCharModerateRatio {
		score -= penaltySpecialCharModerate
		metrics.Issues = append(metrics.Issues, fmt.Sprintf("elevated special character ratio (%.2f)", metrics.SpecialCharRatio))
	}

	if metrics.WordCount > 0 {
		singleCharRatio := singleCharWordRatio(words)
		if singleCharRatio > t.SingleCharWordHighRatio {
			score -= penaltySingleCharHigh
			metrics.Issues = append(metrics.Issues, fmt.Sprintf("many single-character words (%.2f)", singleCharRatio))
		} else if singleCharRatio > t.SingleCharWordModerateRatio {
			score -= penaltySingleCharModerate
			metrics.Issues = append(metrics.Issues, fmt.Sprintf("elevated single-character words (%.2f)", singleCharRatio))
		}
	}

	if metrics.WordCount > t.MinWordsForAvgCheck {
		avgWordLen := averageWordLength(words)
		if avgWordLen < t.MinAvgWordLength {
			score -= penaltyShortWords
			metrics.Issues = append(metrics.Issues, fmt.Sprintf("short average word length (%.1f)", avgWordLen))
		}
	}

	if metrics.CharCount > t.NoParagraphMinChars &&
		!strings.Contains(text, "\n\n") &&
		metrics.LineCount <= t.NoParagraphMaxLines {
		score -= penaltyNoParagraphs
		metrics.Issues = append(metrics.Issues, "no paragraph breaks")
	}

	if issue, found := detectSuspiciousPattern(text); found {
		score -= penaltySuspiciousPattern
		metrics.Issues = append(metrics.Issues, issue)
	}

	if metrics.WordCount > t.MinWordsForUniqueCheck {
		uniqueRatio := uniqueWordRatio(words)
		if uniqueRatio > t.UniqueWordHighRatio {
			score -= penaltyWordDiversity
			metrics.Issues = append(metrics.Issues, fmt.Sprintf("abnormally diverse vocabulary (%.2f unique)", uniqueRatio))
		} else if uniqueRatio < t.UniqueWordLowRatio {
			score -= penaltyWordDiversity
			metrics.Issues = append(metrics.Issues, fmt.Sprintf("abnormally repetitive vocabulary (%.2f unique)", uniqueRatio))
		}
	}

	if len(whitespaceRunPattern.FindAllStringIndex(text, -1)) > t.MaxWhitespaceRuns {
		score -= penaltyWhitespaceArtifact
		metrics.Issues = append(metrics.Issues, "excessive whitespace artifacts")
	}

	if len(camelCaseJoinPattern.FindAllStringIndex(text, -1)) > t.MaxCamelCaseJoins {
		score -= penaltyCamelCaseArtifact
		metrics.Issues = append(metrics.Issues, "joined-word artifacts")
	}

	metrics.QualityScore = clampScore(score)
	metrics.NeedsVisionFallback = metrics.QualityScore < t.VisionFallbackScore

	return metrics
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// isExpectedChar reports whether r belongs to the alphabet of cleanly
// extracted text: letters, digits, space, and common punctuation.
func isExpectedChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case ' ', '.', ',', '!', '?', ':', ';', '-', '(', ')', '[', ']', '{', '}', '"', '\'':
		return true
	}
	return false
}

func specialCharRatio(text string, charCount int) float64 {
	special := 0
	for _, r := range text {
		if !isExpectedChar(r) {
			special++
		}
	}
	return float64(special) / float64(charCount)
}

func singleCharWordRatio(words []string) float64 {
	single := 0
	for _, w := range words {
		if utf8.RuneCountInString(w) == 1 {
			single++
		}
	}
	return float64(single) / float64(len(words))
}

func averageWordLength(words []string) float64 {
	total := 0
	for _, w := range words {
		total += utf8.RuneCountInString(w)
	}
	return float64(total) / float64(len(words))
}

func uniqueWordRatio(words []string) float64 {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

// detectSuspiciousPattern reports the first matching garbled-text signature.
// Only the first match counts - a page riddled with several signatures is
// penalized once here (the ratio checks above catch the rest).
func detectSuspiciousPattern(text string) (string, bool) {
	if replacementRunPattern.MatchString(text) {
		return "run of replacement characters", true
	}
	if nonASCIIRunPattern.MatchString(text) {
		return "long run of non-ASCII characters", true
	}
	if found, r, n := longestCharRun(text); found {
		return fmt.Sprintf("character %q repeated %d times", r, n), true
	}
	return "", false
}

// longestCharRun looks for any character (other than newline) repeated 10 or
// more times consecutively. Implemented as a scan because RE2 has no
// backreferences.
func longestCharRun(text string) (bool, rune, int) {
	const runLimit = 10
	var prev rune
	run := 0
	for _, r := range text {
		if r == '\n' {
			prev, run = 0, 0
			continue
		}
		if r == prev {
			run++
			if run >= runLimit {
				return true, r, run
			}
		} else {
			prev, run = r, 1
		}
	}
	return false, 0, 0
}
