package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/intelforge/intelforge/internal/config"
)

const (
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// rateLimitBackoffMultiplier drives the longer 3^n delays after a 429
	rateLimitBackoffMultiplier = 3
)

// APIError represents an error returned by the completion service
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm error: %s", e.Message)
}

// Client talks to an OpenAI-compatible chat completion endpoint with rate
// limiting and retry with exponential backoff. It satisfies the Completer
// contract the engine consumes.
type Client struct {
	cfg            config.ModelConfig
	apiKey         string
	httpClient     *http.Client
	limiter        *rate.Limiter
	logger         *slog.Logger
	maxRetries     int
	baseRetryDelay time.Duration
}

// NewClient creates a completion client for the configured model endpoint
func NewClient(cfg config.ModelConfig, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		},
		limiter:        newLimiter(cfg.RateLimitPerMinute),
		logger:         logger.With("component", "llm"),
		maxRetries:     cfg.MaxRetries,
		baseRetryDelay: DefaultBaseRetryDelay,
	}
}

// Complete sends one completion request, returning the response text, its
// token usage, and any structured data extracted from a fenced JSON block.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	messages := make([]chatMessage, 0, 3)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	if len(req.Context) > 0 {
		messages = append(messages, chatMessage{
			Role:    "user",
			Content: "Accumulated context:\n\n" + strings.Join(req.Context, "\n\n---\n\n"),
		})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxOutputTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = c.cfg.Temperature
	}

	wireReq := chatCompletionRequest{
		Model:       c.cfg.ModelName,
		Messages:    messages,
		Temperature: &temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   maxTokens,
		N:           1,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay
			if apiErr, ok := lastErr.(*APIError); ok && apiErr.StatusCode == http.StatusTooManyRequests {
				backoff = time.Duration(math.Pow(rateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}

			c.logger.Warn("Retrying completion request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"model", c.cfg.ModelName)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.doRequest(ctx, wireReq)
		if err == nil {
			return c.toResult(resp), nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); !ok || !apiErr.Retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		c.logger.Warn("Completion request without API key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
			Retryable:  true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := isStatusCodeRetryable(httpResp.StatusCode)

		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &APIError{
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Type:       errResp.Error.Type,
				Code:       errResp.Error.Code,
				Retryable:  retryable,
			}
		}
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  retryable,
		}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned in response")
	}
	return &resp, nil
}

func (c *Client) toResult(resp *chatCompletionResponse) *CompletionResult {
	choice := resp.Choices[0]
	return &CompletionResult{
		Text: choice.Message.Content,
		Usage: Usage{
			PromptTokens:   resp.Usage.PromptTokens,
			ResponseTokens: resp.Usage.CompletionTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		},
		Extracted:    ExtractStructured(choice.Message.Content),
		FinishReason: choice.FinishReason,
	}
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
