package llm

import "context"

// CompletionRequest carries one phase's prompt to the model
type CompletionRequest struct {
	Prompt    string
	System    string
	Context   []string // bounded context blocks (recent archives, progress)
	MaxTokens int
	// Temperature is sent as given; zero means deterministic sampling.
	// A negative value selects the configured model default.
	Temperature float64
}

// Usage is the token accounting attached to a completion
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// CompletionResult is the model's answer plus opaque structured data parsed
// from its fenced JSON block, when present.
type CompletionResult struct {
	Text         string
	Usage        Usage
	Extracted    map[string]any
	FinishReason string
}

// Completer is the completion-service contract the engine consumes.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// chatCompletionRequest is the OpenAI-compatible wire request. Temperature is
// a pointer so an explicit 0 survives serialization.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	N           int           `json:"n,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the OpenAI-compatible wire response
type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// errorResponse is the OpenAI-compatible error envelope
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
