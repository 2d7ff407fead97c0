package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectorhq/docstract/internal/quality"
	"github.com/lectorhq/docstract/internal/resilience"
)

const cleanPage = "The quick brown fox jumps over the lazy dog near the river bank.\n" +
	"It watches the water move slowly past the stones and the reeds.\n\n" +
	"Later that day the fox returns to the den to rest until evening.\n" +
	"The quiet forest settles as the light fades over the distant hills."

const recoveredPage = "Recovered page content transcribed by the vision model, with enough " +
	"meaningful words to read like a real paragraph of document text."

// fakeNative serves canned per-page text.
type fakeNative struct {
	pages    []string
	countErr error
	pageErrs map[int]error
}

func (f *fakeNative) PageCount(ctx context.Context, doc *Document) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.pages), nil
}

func (f *fakeNative) ExtractPage(ctx context.Context, doc *Document, pageNumber int) (string, error) {
	if err, ok := f.pageErrs[pageNumber]; ok {
		return "", err
	}
	return f.pages[pageNumber-1], nil
}

// fakeVision records calls and serves canned page texts.
type fakeVision struct {
	mu    sync.Mutex
	calls [][]int

	texts  map[int]string
	err    error
	delays map[int]time.Duration
}

func (f *fakeVision) ExtractPages(ctx context.Context, docBytes []byte, pageNumbers []int) (map[int]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]int(nil), pageNumbers...))
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	result := make(map[int]string)
	for _, page := range pageNumbers {
		if d, ok := f.delays[page]; ok {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if text, ok := f.texts[page]; ok {
			result[page] = text
		}
	}
	return result, nil
}

func (f *fakeVision) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPipelineConfig() *Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 2
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	cfg.VisionTimeout = time.Second
	cfg.CacheEnabled = false
	return cfg
}

func newTestOrchestrator(native NativeExtractor, vision VisionService) (*Orchestrator, *resilience.CircuitBreaker) {
	cfg := testPipelineConfig()
	breaker := resilience.NewCircuitBreaker(cfg.BreakerFailureThreshold, cfg.BreakerOpenTimeout, cfg.BreakerHalfOpenSuccesses)
	return NewOrchestrator(cfg, native, vision, breaker, testLogger()), breaker
}

func TestExtractWithFallbackVisionRecoversProblematicPage(t *testing.T) {
	native := &fakeNative{pages: []string{cleanPage, "", cleanPage}}
	vision := &fakeVision{texts: map[int]string{2: recoveredPage}}
	orch, _ := newTestOrchestrator(native, vision)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("pdf-bytes")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{VisionEnabled: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, 3, result.TotalPages)
	require.Len(t, result.PageTexts, 3)

	// Page 2 carries the vision text; pages 1 and 3 keep the native text.
	assert.Equal(t, cleanPage, result.PageTexts[0])
	assert.Equal(t, recoveredPage, result.PageTexts[1])
	assert.Equal(t, cleanPage, result.PageTexts[2])

	assert.Equal(t, []int{2}, result.VisionPagesUsed)
	assert.Equal(t, quality.MethodHybrid, result.ExtractionMethod)
	assert.False(t, result.NeedsOCR)
	assert.Equal(t, StatusNotNeeded, result.OCRStatus)

	// The quality report reflects the native pass.
	require.NotNil(t, result.QualityReport)
	assert.Equal(t, []int{2}, result.QualityReport.ProblematicPages)

	assert.Equal(t, 2, result.Metadata.NativePages)
	assert.Equal(t, 1, result.Metadata.VisionPages)
	assert.Equal(t, 0, result.Metadata.EmptyPages)
	assert.Equal(t, int64(len(doc.Data)), result.Metadata.FileSize)
	assert.Equal(t, 1, vision.callCount())
}

func TestExtractWithFallbackOCRDocumentSkipsVision(t *testing.T) {
	native := &fakeNative{pages: []string{"", "", "", cleanPage}}
	vision := &fakeVision{texts: map[int]string{1: recoveredPage}}
	orch, _ := newTestOrchestrator(native, vision)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("pdf-bytes")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{VisionEnabled: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, quality.MethodOCR, result.ExtractionMethod)
	assert.True(t, result.NeedsOCR)
	assert.Equal(t, StatusPending, result.OCRStatus)
	assert.Empty(t, result.VisionPagesUsed)
	assert.Equal(t, 0, vision.callCount(), "majority-failed documents must not burn vision budget")
}

func TestExtractWithFallbackDocumentOpenFailureIsFatal(t *testing.T) {
	native := &fakeNative{countErr: errors.New("corrupt xref table")}
	orch, _ := newTestOrchestrator(native, nil)

	doc := &Document{Path: "/tmp/broken.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{})

	require.Error(t, err)
	assert.Nil(t, result)

	var openErr *DocumentOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "/tmp/broken.pdf", openErr.Source)
}

func TestExtractWithFallbackPageFailureDegradesToEmpty(t *testing.T) {
	native := &fakeNative{
		pages:    []string{cleanPage, cleanPage, cleanPage},
		pageErrs: map[int]error{2: errors.New("content stream error")},
	}
	orch, _ := newTestOrchestrator(native, nil)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "", result.PageTexts[1])
	assert.Equal(t, 1, result.Metadata.EmptyPages)
	assert.Contains(t, result.QualityReport.ProblematicPages, 2)
}

func TestExtractWithFallbackVisionFailureKeepsNativeText(t *testing.T) {
	native := &fakeNative{pages: []string{cleanPage, "Hi", cleanPage}}
	vision := &fakeVision{err: errors.New("503 service unavailable")}
	orch, _ := newTestOrchestrator(native, vision)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{VisionEnabled: true})
	require.NoError(t, err)

	assert.True(t, result.Success, "vision outage degrades quality, never fails the run")
	assert.Equal(t, "Hi", result.PageTexts[1])
	assert.Empty(t, result.VisionPagesUsed)
	assert.Equal(t, 0, result.Metadata.VisionPages)
	// Retried once per the config.
	assert.Equal(t, 2, vision.callCount())
}

func TestExtractWithFallbackOpenBreakerFailsFast(t *testing.T) {
	native := &fakeNative{pages: []string{cleanPage, "", cleanPage}}
	vision := &fakeVision{texts: map[int]string{2: recoveredPage}}
	orch, breaker := newTestOrchestrator(native, vision)

	// Trip the breaker before the run, as a previous document's failures
	// would have.
	for range 5 {
		_ = breaker.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("down")
		})
	}
	require.Equal(t, resilience.StateOpen, breaker.State())

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{VisionEnabled: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.VisionPagesUsed)
	assert.Equal(t, 0, vision.callCount(), "open breaker must reject before the service is called")
}

func TestExtractWithFallbackVisionDisabled(t *testing.T) {
	native := &fakeNative{pages: []string{cleanPage, "", cleanPage}}
	vision := &fakeVision{texts: map[int]string{2: recoveredPage}}
	orch, _ := newTestOrchestrator(native, vision)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{VisionEnabled: false})
	require.NoError(t, err)

	assert.Equal(t, 0, vision.callCount())
	assert.Empty(t, result.VisionPagesUsed)
	assert.Equal(t, "", result.PageTexts[1])
}

func TestExtractWithFallbackPreservesPageOrderUnderConcurrency(t *testing.T) {
	pageTwo := fmt.Sprintf("%s Page two specific marker.", recoveredPage)
	pageThree := fmt.Sprintf("%s Page three specific marker.", recoveredPage)

	native := &fakeNative{pages: []string{cleanPage, "", "", cleanPage}}
	vision := &fakeVision{
		texts: map[int]string{2: pageTwo, 3: pageThree},
		// Page 2 finishes after page 3.
		delays: map[int]time.Duration{2: 30 * time.Millisecond},
	}
	orch, _ := newTestOrchestrator(native, vision)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{VisionEnabled: true, Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, pageTwo, result.PageTexts[1])
	assert.Equal(t, pageThree, result.PageTexts[2])
	assert.Equal(t, []int{2, 3}, result.VisionPagesUsed)
}

func TestExtractWithFallbackNeedsOCRFromLowTotalChars(t *testing.T) {
	// A single well-formed but tiny page: healthy score, too little text.
	native := &fakeNative{pages: []string{"Quarterly revenue increased across both divisions during spring."}}
	orch, _ := newTestOrchestrator(native, nil)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, quality.MethodOCR, result.ExtractionMethod)
	assert.True(t, result.NeedsOCR, "under 100 total chars always needs OCR")
	assert.Equal(t, StatusPending, result.OCRStatus)
}

func TestExtractWithFallbackNeedsOCRFromLowDensity(t *testing.T) {
	// Ten pages of ~40 chars each: above the total-chars floor but far below
	// the per-page density expected of a text document.
	page := "Short page content of about forty chars"
	pages := make([]string, 10)
	for i := range pages {
		pages[i] = page
	}
	native := &fakeNative{pages: pages}
	orch, _ := newTestOrchestrator(native, nil)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.True(t, result.NeedsOCR)
}

func TestExtractWithFallbackContentJoinsPages(t *testing.T) {
	native := &fakeNative{pages: []string{cleanPage, cleanPage}}
	orch, _ := newTestOrchestrator(native, nil)

	doc := &Document{Path: "/tmp/doc.pdf", Data: []byte("x")}
	result, err := orch.ExtractWithFallback(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.Equal(t, cleanPage+"\n\n"+cleanPage, result.Content)
	assert.Equal(t, quality.MethodNative, result.ExtractionMethod)
	assert.False(t, result.NeedsOCR)
}
