package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/config"
)

const defaultVisionModel = "claude-sonnet-4-5-20250929"

// Image is a validated upload ready for the provider
type Image struct {
	Data      []byte
	MediaType string
}

// Analyzer is the vision model boundary. Implementations return the raw
// model text; parsing and domain lowering happen in the extractor.
type Analyzer interface {
	Analyze(ctx context.Context, kind findings.AnalysisKind, image Image) (string, error)
}

// AnthropicAnalyzer calls the Anthropic API with one image block and one
// instruction block per analysis
type AnthropicAnalyzer struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicAnalyzer creates the provider client
func NewAnthropicAnalyzer(cfg config.VisionConfig) *AnthropicAnalyzer {
	model := defaultVisionModel
	if cfg.Model != "" {
		model = cfg.Model
	}
	return &AnthropicAnalyzer{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  anthropic.Model(model),
	}
}

// Analyze sends the image to the model and returns the raw response text
func (a *AnthropicAnalyzer) Analyze(ctx context.Context, kind findings.AnalysisKind, image Image) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(kind)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(image.MediaType, base64.StdEncoding.EncodeToString(image.Data)),
				anthropic.NewTextBlock(userPrompt(kind)),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision provider error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in vision response")
}
