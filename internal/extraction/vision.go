package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Default vision inference settings.
const (
	defaultVisionMaxTokens   = 16384
	defaultVisionTemperature = 0.1
)

const visionPromptTemplate = `You are an expert at reading document pages whose embedded text layer is damaged or missing.

The document below is provided as base64-encoded PDF data. Extract the full visible text of pages %s only.

Rules:
- Transcribe the text faithfully, preserving reading order and paragraph breaks.
- Do not summarise, translate, or comment on the content.
- Omit a page from the response if it genuinely contains no readable text.

Respond with a single JSON object mapping page numbers to extracted text, for example:
{
  "3": "text of page 3",
  "7": "text of page 7"
}

Document (base64 PDF):
%s`

// OpenAIVision is the OpenAI-compatible VisionService. Requests are
// rate-limited client-side so that bursts of problematic pages do not trip
// provider quotas before the circuit breaker gets a say.
type OpenAIVision struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

// NewOpenAIVision creates a vision client from the pipeline configuration.
// It errors when the vision tier is not configured; callers should check
// cfg.VisionConfigured() first if they want to skip the tier instead.
func NewOpenAIVision(cfg *Config, logger *logrus.Logger) (*OpenAIVision, error) {
	if !cfg.VisionConfigured() {
		return nil, fmt.Errorf("vision service not configured: required %s, %s, %s",
			EnvVisionAPIBase, EnvVisionModel, EnvVisionAPIKey)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.VisionAPIKey),
		option.WithBaseURL(cfg.VisionAPIBase),
	}
	client := openai.NewClient(opts...)

	rpm := cfg.VisionRateLimit
	if rpm <= 0 {
		rpm = DefaultVisionRPM
	}

	return &OpenAIVision{
		client:      &client,
		model:       cfg.VisionModel,
		maxTokens:   defaultVisionMaxTokens,
		temperature: defaultVisionTemperature,
		timeout:     cfg.VisionTimeout,
		limiter:     rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:      logger,
	}, nil
}

// ExtractPages asks the vision model to re-read the given pages. Pages the
// model could not read are simply absent from the returned map.
func (v *OpenAIVision) ExtractPages(ctx context.Context, docBytes []byte, pageNumbers []int) (map[int]string, error) {
	if len(pageNumbers) == 0 {
		return map[int]string{}, nil
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	prompt := v.buildPrompt(docBytes, pageNumbers)

	response, err := v.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: v.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(v.maxTokens)),
		Temperature: openai.Float(v.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("vision extraction failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned from vision model")
	}

	pages, err := parseVisionResponse(response.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vision response: %w", err)
	}

	v.logger.WithFields(logrus.Fields{
		"pages_requested": len(pageNumbers),
		"pages_returned":  len(pages),
	}).Debug("Vision extraction completed")

	return pages, nil
}

func (v *OpenAIVision) buildPrompt(docBytes []byte, pageNumbers []int) string {
	pageList := make([]string, len(pageNumbers))
	for i, page := range pageNumbers {
		pageList[i] = strconv.Itoa(page)
	}

	encoded := base64.StdEncoding.EncodeToString(docBytes)
	return fmt.Sprintf(visionPromptTemplate, strings.Join(pageList, ", "), encoded)
}

// parseVisionResponse extracts the page-to-text JSON object from the model
// response, tolerating surrounding prose and code fences.
func parseVisionResponse(response string) (map[int]string, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}

	pages := make(map[int]string, len(raw))
	for key, text := range raw {
		page, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || page < 1 {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages[page] = text
	}

	return pages, nil
}
