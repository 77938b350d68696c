// Package captioner provides the optional OCR/captioning adapters. Both
// implementations answer the same question: given image bytes, what short
// text describes or transcribes them.
package captioner

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const captionPrompt = "Describe this image from an email in one short sentence. " +
	"If the image contains readable text, transcribe that text instead. " +
	"Respond with the caption only."

// OpenAICaptioner captions images through the OpenAI vision chat API.
type OpenAICaptioner struct {
	client    *openai.Client
	modelName string
	maxTokens int
	logger    *zap.Logger
}

// NewOpenAICaptioner creates a new OpenAI caption client.
func NewOpenAICaptioner(apiKey, modelName string, maxTokens int, logger *zap.Logger) *OpenAICaptioner {
	return &OpenAICaptioner{
		client:    openai.NewClient(apiKey),
		modelName: modelName,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Caption returns a one-line caption for the image, or an empty string when
// the model has nothing to say about it.
func (c *OpenAICaptioner) Caption(ctx context.Context, image []byte, mimeType string) (string, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	req := openai.ChatCompletionRequest{
		Model:     c.modelName,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: captionPrompt,
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI},
					},
				},
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("Captioned image",
		zap.String("model", c.modelName),
		zap.Int("image_bytes", len(image)),
		zap.Int("caption_len", len(caption)))
	return caption, nil
}
