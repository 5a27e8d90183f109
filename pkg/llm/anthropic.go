package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides access to Anthropic models through the Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

var _ LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient creates an Anthropic-backed LLM client.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger.Named("llm-anthropic"),
	}, nil
}

// GenerateResponse generates a chat completion response. An empty model uses
// the configured default.
func (c *AnthropicClient) GenerateResponse(ctx context.Context, model string, prompt string, systemMessage string, temperature float64) (string, error) {
	if model == "" {
		model = c.model
	}
	temp := float32(temperature)

	c.logger.Debug("LLM request",
		zap.String("model", model),
		zap.Int("prompt_len", len(prompt)))

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		System:      systemMessage,
		MaxTokens:   4096,
		Temperature: &temp,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("create messages: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("message response contained no text block")
}

// GetModel returns the configured default model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// NewClientFromConfig selects the backend by cfg.Provider. An empty or
// unknown provider defaults to the OpenAI-compatible client.
func NewClientFromConfig(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	if cfg.Provider == "anthropic" {
		return NewAnthropicClient(cfg, logger)
	}
	return NewClient(cfg, logger)
}
