package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hession/pepper/internal/logger"
	"github.com/hession/pepper/internal/memory"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const (
	// DefaultBaseURL is the OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout bounds a single request attempt
	DefaultTimeout = 120 * time.Second
	// DefaultMaxRetries is how often the SDK retries 429 and 5xx responses
	DefaultMaxRetries = 2
)

// Client LLM client for OpenAI-compatible chat completion APIs
type Client struct {
	api         openai.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-attempt request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the number of SDK retries; 0 disables retrying
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// Usage token accounting reported by the API
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// ChatResponse chat response
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// New creates a new LLM client. maxTokens <= 0 leaves the limit to the provider.
func New(apiKey, baseURL, model string, temperature float64, maxTokens int, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.api = openai.NewClient(
		option.WithAPIKey(apiKey),
		// The SDK resolves paths relative to the base URL
		option.WithBaseURL(c.baseURL+"/"),
		option.WithMaxRetries(c.maxRetries),
		option.WithRequestTimeout(c.timeout),
	)
	return c
}

// Model returns the model name
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the API base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Temperature returns the sampling temperature
func (c *Client) Temperature() float64 {
	return c.temperature
}

// WithTemperature returns a shallow copy of c using the given temperature.
// The copy shares the underlying HTTP client.
func (c *Client) WithTemperature(temperature float64) *Client {
	clone := *c
	clone.temperature = temperature
	return &clone
}

// Chat sends a chat request
func (c *Client) Chat(ctx context.Context, turns []memory.Turn) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    convertTurns(turns),
		Model:       c.model,
		Temperature: param.NewOpt(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		apiErr := Classify(err)
		logger.Warn("Chat completion failed: model=%s, kind=%s, status=%d, elapsed=%s",
			c.model, apiErr.Kind, apiErr.StatusCode, time.Since(start).Round(time.Millisecond))
		return nil, apiErr
	}

	if len(resp.Choices) == 0 {
		return nil, &APIError{Kind: KindOther, Message: "API returned empty response"}
	}

	choice := resp.Choices[0]
	logger.Debug("Chat completion: model=%s, prompt_tokens=%d, completion_tokens=%d, elapsed=%s",
		c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start).Round(time.Millisecond))

	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Complete sends turns and returns only the reply text
func (c *Client) Complete(ctx context.Context, turns []memory.Turn) (string, error) {
	resp, err := c.Chat(ctx, turns)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// String describes the client for logs
func (c *Client) String() string {
	return fmt.Sprintf("%s@%s (temperature %.1f)", c.model, c.baseURL, c.temperature)
}

// convertTurns maps conversation turns to SDK message params
func convertTurns(turns []memory.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case memory.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case memory.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}
