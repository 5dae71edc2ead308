// Package grok is the client for the xAI Grok API: chat completions and
// image generation over an explicitly owned, pooled HTTP client.
package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/config"
	"github.com/parsascontentcorner/grokgate/internal/models"
	"github.com/parsascontentcorner/grokgate/internal/ratelimit"
)

const (
	chatEndpoint  = "/chat/completions"
	imageEndpoint = "/images/generations"

	maxErrorBody = 2048
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("grok API key is not configured")

// APIError is a non-2xx response from the Grok API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grok API returned status %d: %s", e.StatusCode, e.Body)
}

// ChatRequest is one chat completion call.
type ChatRequest struct {
	SystemPrompt string
	UserContent  string
	Temperature  float64
	MaxTokens    int
}

// ChatResult is the first choice of a completion and its token accounting.
type ChatResult struct {
	Content string
	Usage   models.TokenUsage
}

// ImageResult lists the generated image URLs.
type ImageResult struct {
	URLs []string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage models.TokenUsage `json:"usage"`
}

type imagePayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Client talks to the Grok API. It owns its *http.Client; call Close when
// the process shuts down.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	chatModel   string
	imageModel  string
	rateLimiter *ratelimit.RateLimiter
	logger      *zap.Logger
}

// NewClient creates a client with its own connection pool.
func NewClient(cfg config.GrokConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.IdleConnTimeout = 90 * time.Second

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:    cfg.APIBase,
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		logger:     logger,
	}
}

// SetRateLimiter sets the outbound throttle
func (c *Client) SetRateLimiter(rl *ratelimit.RateLimiter) {
	c.rateLimiter = rl
}

// SetBaseURL points the client at another API root (used for testing)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// ChatModel is the model name sent with chat calls.
func (c *Client) ChatModel() string { return c.chatModel }

// ImageModel is the model name sent with image calls.
func (c *Client) ImageModel() string { return c.imageModel }

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Chat sends a system prompt and a user message and returns the first choice.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	payload := chatPayload{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserContent},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatResponse
	if err := c.post(ctx, chatEndpoint, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("grok returned no choices")
	}

	c.logger.Debug("chat completion",
		zap.String("model", c.chatModel),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)

	return &ChatResult{
		Content: resp.Choices[0].Message.Content,
		Usage:   resp.Usage,
	}, nil
}

// GenerateImage asks for one image and returns its URLs.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	var resp imageResponse
	if err := c.post(ctx, imageEndpoint, imagePayload{Model: c.imageModel, Prompt: prompt, N: 1}, &resp); err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL != "" {
			urls = append(urls, d.URL)
		}
	}

	c.logger.Debug("image generation",
		zap.String("model", c.imageModel),
		zap.Int("url_count", len(urls)),
	)

	return &ImageResult{URLs: urls}, nil
}

// post makes a rate-limited JSON request and decodes a 2xx body into out.
func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, endpoint); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call grok: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeaders(endpoint, resp.Header)
		if resp.StatusCode == http.StatusTooManyRequests {
			return c.rateLimiter.HandleRateLimitResponse(endpoint, resp.Header)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode grok response: %w", err)
	}
	return nil
}
