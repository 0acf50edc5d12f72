// Package gemini adapts the Gemini API to character chat: persona system
// prompts, streamed replies and scene prompts for image generation.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const imagePromptModel = "gemini-2.5-flash"

var (
	ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not configured")
	ErrEmptyResponse = errors.New("gemini returned empty text")
)

type ChatRequest struct {
	// Model is the upstream API model identifier.
	Model     string
	Character Character
	UserName  string
	History   []HistoryMessage
	Message   string
}

type Client struct {
	genai  *genai.Client
	logger *zap.Logger
}

// NewClient builds a client. An empty key yields a client whose calls fail
// with ErrMissingAPIKey, so the rest of the API can still serve.
func NewClient(ctx context.Context, apiKey string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{logger: logger}
	if strings.TrimSpace(apiKey) == "" {
		logger.Warn("gemini api key missing; chat and image prompts are disabled")
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.genai = client
	return c, nil
}

// StreamReply streams the character's reply, calling onDelta for each
// non-empty text fragment in order. An onDelta error stops the stream.
func (c *Client) StreamReply(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	if c.genai == nil {
		return ErrMissingAPIKey
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(BuildSystemPrompt(req.Character, req.UserName), genai.RoleUser),
	}
	contents := buildContents(req.History, req.Message)

	chunks := 0
	for resp, err := range c.genai.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return fmt.Errorf("gemini stream (%s): %w", req.Model, err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		if err := onDelta(text); err != nil {
			return err
		}
	}

	c.logger.Debug("gemini stream finished", zap.String("model", req.Model), zap.Int("chunks", chunks))
	return nil
}

// GenerateImagePrompt asks the model to describe the latest scene of the
// conversation as an illustration prompt.
func (c *Client) GenerateImagePrompt(ctx context.Context, character Character, history []HistoryMessage) (string, error) {
	if c.genai == nil {
		return "", ErrMissingAPIKey
	}

	resp, err := c.genai.Models.GenerateContent(ctx, imagePromptModel,
		genai.Text(buildImagePrompt(character, history)), nil)
	if err != nil {
		return "", fmt.Errorf("generate image prompt: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
