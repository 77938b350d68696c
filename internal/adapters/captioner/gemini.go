package captioner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiCaptioner captions images through the Google Gemini API.
type GeminiCaptioner struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	logger    *zap.Logger
}

// NewGeminiCaptioner creates a new Gemini caption client.
func NewGeminiCaptioner(apiKey, modelName string, maxTokens int, logger *zap.Logger) (*GeminiCaptioner, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &GeminiCaptioner{
		client:    client,
		model:     model,
		modelName: modelName,
		logger:    logger,
	}, nil
}

// Close closes the Gemini client.
func (c *GeminiCaptioner) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Caption returns a one-line caption for the image.
func (c *GeminiCaptioner) Caption(ctx context.Context, image []byte, mimeType string) (string, error) {
	format := strings.TrimPrefix(mimeType, "image/")

	resp, err := c.model.GenerateContent(ctx,
		genai.ImageData(format, image),
		genai.Text(captionPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from Gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	caption := strings.TrimSpace(b.String())
	c.logger.Debug("Captioned image",
		zap.String("model", c.modelName),
		zap.Int("image_bytes", len(image)),
		zap.Int("caption_len", len(caption)))
	return caption, nil
}
