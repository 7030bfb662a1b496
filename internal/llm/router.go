// Package llm provides the provider-agnostic LLM router used by the query
// expander.
//
// DESIGN: One Complete() entry point for all supported providers
// (anthropic, openai, gemini, bedrock, or any openai-compatible local
// server). Task types route to a preferred provider so cheap work like
// query generation can stay on a local model while anything heavier goes
// to a hosted one.
package llm

import (
	"context"
	"time"
)

// TaskType routes a request to the provider configured for that kind of
// work.
type TaskType string

const (
	TaskQueryGeneration TaskType = "QUERY_GENERATION"
	TaskSummarization   TaskType = "SUMMARIZATION"
	TaskGeneral         TaskType = "GENERAL"
)

// CompletionRequest is one text-generation call.
type CompletionRequest struct {
	Prompt      string
	System      string
	TaskType    TaskType
	Temperature float64
	MaxTokens   int

	// ForceProvider bypasses task routing when set.
	ForceProvider string

	// Model overrides the provider's configured model when set.
	Model string

	Timeout time.Duration
}

// Usage is token accounting for one call. Estimated is true when the
// provider response carried no usage block and the counts came from
// local tokenization.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	Estimated    bool `json:"estimated,omitempty"`
}

// CompletionResult is the router's normalized response.
type CompletionResult struct {
	Content  string  `json:"content"`
	Model    string  `json:"model"`
	Provider string  `json:"provider"`
	Usage    Usage   `json:"usage"`
	CostUSD  float64 `json:"cost_usd"`
}

// Router is the external-collaborator contract the expander depends on.
type Router interface {
	// Complete runs one text-generation call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// GenerateEmbedding returns an embedding vector for text.
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)

	// HealthCheckAll probes every configured provider.
	HealthCheckAll(ctx context.Context) map[string]bool
}
