package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/scholarpipe/scholarpipe/internal/monitoring"
)

const (
	// DefaultTimeout for LLM API calls.
	DefaultTimeout = 60 * time.Second

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500

	// anthropicVersion is the Anthropic API version header value.
	anthropicVersion = "2023-06-01"

	// tokenEncoding is the tokenizer used for usage estimation when a
	// provider response carries no usage block.
	tokenEncoding = "cl100k_base"
)

// ProviderConfig describes one upstream LLM provider.
type ProviderConfig struct {
	// Kind selects the wire format: "anthropic", "openai", "gemini",
	// "bedrock". Local openai-compatible servers use "openai".
	Kind string `yaml:"kind"`

	Endpoint          string `yaml:"endpoint"`
	EmbeddingEndpoint string `yaml:"embedding_endpoint,omitempty"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	EmbeddingModel    string `yaml:"embedding_model,omitempty"`
	Region            string `yaml:"region,omitempty"` // bedrock only

	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// RouterConfig wires providers and task routing.
type RouterConfig struct {
	Providers       map[string]ProviderConfig `yaml:"providers"`
	DefaultProvider string                    `yaml:"default_provider"`

	// TaskProviders maps a task type to the provider preferred for it,
	// e.g. QUERY_GENERATION -> a cheap local model.
	TaskProviders map[TaskType]string `yaml:"task_providers"`

	Timeout time.Duration `yaml:"timeout"`
}

// HTTPRouter is the concrete Router over plain HTTP provider APIs.
type HTTPRouter struct {
	cfg    RouterConfig
	client *http.Client
	logger *monitoring.Logger
}

// NewHTTPRouter builds a router. The http.Client is shared across calls;
// timeouts come from per-request contexts.
func NewHTTPRouter(cfg RouterConfig, logger *monitoring.Logger) (*HTTPRouter, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("default_provider is required")
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default_provider %q is not configured", cfg.DefaultProvider)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = monitoring.Nop()
	}
	return &HTTPRouter{cfg: cfg, client: &http.Client{}, logger: logger}, nil
}

// resolveProvider picks the provider for a request: forced > task routing
// > default.
func (r *HTTPRouter) resolveProvider(req CompletionRequest) (string, ProviderConfig, error) {
	name := req.ForceProvider
	if name == "" {
		name = r.cfg.TaskProviders[req.TaskType]
	}
	if name == "" {
		name = r.cfg.DefaultProvider
	}
	pc, ok := r.cfg.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("provider %q is not configured", name)
	}
	return name, pc, nil
}

// Complete runs one text-generation call against the resolved provider.
func (r *HTTPRouter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	name, pc, err := r.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = pc.Model
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for provider %q", name)
	}

	body, err := buildRequestBody(pc.Kind, model, req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", name, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuthHeaders(httpReq, pc.Kind, pc.APIKey)

	client := r.client
	if pc.Kind == "bedrock" {
		client, err = r.bedrockClient(pc.Region)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", name, err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := string(respBody)
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, fmt.Errorf("%s API returned status %d: %s", name, resp.StatusCode, errBody)
	}

	result, err := parseResponse(pc.Kind, respBody)
	if err != nil {
		return nil, err
	}
	result.Provider = name
	if result.Model == "" {
		result.Model = model
	}

	// Providers that omit usage (common on local servers) get a local
	// tokenizer estimate so cost accounting stays populated.
	if result.Usage.InputTokens == 0 && result.Usage.OutputTokens == 0 {
		result.Usage = estimateUsage(req.System+req.Prompt, result.Content)
	}
	result.CostUSD = float64(result.Usage.InputTokens)/1000*pc.InputCostPer1K +
		float64(result.Usage.OutputTokens)/1000*pc.OutputCostPer1K

	r.logger.Debug().
		Str("provider", name).
		Str("model", result.Model).
		Int("input_tokens", result.Usage.InputTokens).
		Int("output_tokens", result.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("llm completion finished")
	return result, nil
}

// GenerateEmbedding calls the default provider's embedding endpoint
// (openai wire format, which local servers also speak).
func (r *HTTPRouter) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	pc := r.cfg.Providers[r.cfg.DefaultProvider]
	if pc.EmbeddingEndpoint == "" {
		return nil, fmt.Errorf("provider %q has no embedding endpoint", r.cfg.DefaultProvider)
	}
	body, err := json.Marshal(&openAIEmbeddingRequest{Model: pc.EmbeddingModel, Input: text})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.EmbeddingEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeaders(req, "openai", pc.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d", resp.StatusCode)
	}
	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no vectors")
	}
	return parsed.Data[0].Embedding, nil
}

// HealthCheckAll probes each provider endpoint for reachability. Any HTTP
// response counts as healthy; only transport failures mark a provider down.
func (r *HTTPRouter) HealthCheckAll(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(r.cfg.Providers))
	for name, pc := range r.cfg.Providers {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, pc.Endpoint, nil)
		if err != nil {
			cancel()
			out[name] = false
			continue
		}
		resp, err := r.client.Do(req)
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()
		out[name] = err == nil
	}
	return out
}

func (r *HTTPRouter) bedrockClient(region string) (*http.Client, error) {
	transport, err := NewBedrockSigningTransport(region, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bedrock signing transport: %w", err)
	}
	return &http.Client{Transport: transport}, nil
}

func setAuthHeaders(req *http.Request, kind, apiKey string) {
	switch kind {
	case "anthropic":
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	case "bedrock":
		// Auth is handled by the SigV4 signing transport.
	case "gemini":
		req.Header.Set("x-goog-api-key", apiKey)
	default: // openai-compatible
		if apiKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
		}
	}
}

func buildRequestBody(kind, model string, req CompletionRequest) ([]byte, error) {
	switch kind {
	case "anthropic", "bedrock":
		// Bedrock with Anthropic models speaks the same Messages API;
		// the anthropic_version field differs and model lives in the URL.
		body := &anthropicRequest{
			Model:       model,
			MaxTokens:   req.MaxTokens,
			System:      req.System,
			Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
			Temperature: req.Temperature,
		}
		if kind == "bedrock" {
			body.Model = ""
			body.AnthropicVersion = "bedrock-2023-05-31"
		}
		return json.Marshal(body)
	case "gemini":
		var system *geminiContent
		if req.System != "" {
			system = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
		}
		return json.Marshal(&geminiRequest{
			SystemInstruction: system,
			Contents: []geminiContent{
				{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
			},
			GenerationConfig: &geminiGenerationConfig{
				MaxOutputTokens: req.MaxTokens,
				Temperature:     req.Temperature,
			},
		})
	default: // openai-compatible
		msgs := []openAIMessage{}
		if req.System != "" {
			msgs = append(msgs, openAIMessage{Role: "system", Content: req.System})
		}
		msgs = append(msgs, openAIMessage{Role: "user", Content: req.Prompt})
		return json.Marshal(&openAIChatRequest{
			Model:       model,
			Messages:    msgs,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	}
}

func parseResponse(kind string, body []byte) (*CompletionResult, error) {
	result := &CompletionResult{}
	switch kind {
	case "anthropic", "bedrock":
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse anthropic response: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("anthropic API error: %s", resp.Error.Message)
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				result.Content += block.Text
			}
		}
		result.Model = resp.Model
		result.Usage.InputTokens = resp.Usage.InputTokens
		result.Usage.OutputTokens = resp.Usage.OutputTokens
	case "gemini":
		var resp geminiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse gemini response: %w", err)
		}
		if len(resp.Candidates) == 0 {
			return nil, fmt.Errorf("gemini response carried no candidates")
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			result.Content += part.Text
		}
		result.Usage.InputTokens = resp.UsageMetadata.PromptTokenCount
		result.Usage.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	default: // openai-compatible
		var resp openAIChatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse openai response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai response carried no choices")
		}
		result.Content = resp.Choices[0].Message.Content
		result.Model = resp.Model
		result.Usage.InputTokens = resp.Usage.PromptTokens
		result.Usage.OutputTokens = resp.Usage.CompletionTokens
	}
	if result.Content == "" {
		return nil, fmt.Errorf("empty completion returned")
	}
	return result, nil
}

// estimateUsage tokenizes locally when the provider omitted usage.
func estimateUsage(input, output string) Usage {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		// Rough bytes/4 fallback if the encoding tables are unavailable.
		return Usage{InputTokens: len(input) / 4, OutputTokens: len(output) / 4, Estimated: true}
	}
	return Usage{
		InputTokens:  len(enc.Encode(input, nil, nil)),
		OutputTokens: len(enc.Encode(output, nil, nil)),
		Estimated:    true,
	}
}

var _ Router = (*HTTPRouter)(nil)
