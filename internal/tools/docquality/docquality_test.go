package docquality

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestExecuteAnalyzesPages(t *testing.T) {
	tool := &DocumentQualityTool{}

	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]interface{}{
		"page_texts": []interface{}{
			"The quarterly report covers revenue, costs, and staffing changes across all three regional divisions during the period.",
			"",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	textContent, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var payload struct {
		Report struct {
			TotalPages       int    `json:"total_pages"`
			ProblematicPages []int  `json:"problematic_pages"`
			ExtractionMethod string `json:"extraction_method"`
		} `json:"report"`
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent.Text), &payload))

	assert.Equal(t, 2, payload.Report.TotalPages)
	assert.Equal(t, []int{2}, payload.Report.ProblematicPages)
	assert.Equal(t, "hybrid", payload.Report.ExtractionMethod)
	assert.Contains(t, payload.Summary, "Pages analyzed")
}

func TestExecuteValidation(t *testing.T) {
	tool := &DocumentQualityTool{}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing page_texts", map[string]interface{}{}},
		{"wrong container type", map[string]interface{}{"page_texts": "one page"}},
		{"non-string element", map[string]interface{}{"page_texts": []interface{}{"ok", 7}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, tt.args)
			assert.Error(t, err)
		})
	}
}

func TestDefinition(t *testing.T) {
	tool := &DocumentQualityTool{}
	def := tool.Definition()

	assert.Equal(t, "document_quality", def.Name)
	assert.NotEmpty(t, def.Description)
}
