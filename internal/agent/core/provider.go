package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
)

// NewLLMProvider creates an LLM provider from configuration.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key not configured (llm.api_key or OPENAI_API_KEY)")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		return &OpenAIProvider{
			apiKey:  cfg.APIKey,
			baseURL: baseURL,
			client:  &http.Client{Timeout: timeout},
			logger:  log.New(log.Writer(), "[LLM] ", log.LstdFlags),
		}, nil
	case "anthropic":
		return nil, fmt.Errorf("anthropic provider not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// OpenAIProvider talks to the OpenAI chat completions API directly.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate returns just the response text.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, opts GenerateOptions) (string, error) {
	text, _, _, err := p.GenerateWithTokens(ctx, prompt, model, opts)
	return text, err
}

// GenerateWithTokens returns the response text along with token usage.
func (p *OpenAIProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, opts GenerateOptions) (string, int64, int64, error) {
	reqBody := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, 0, fmt.Errorf("reading llm response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, 0, fmt.Errorf("decoding llm response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", 0, 0, fmt.Errorf("llm error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, 0, fmt.Errorf("llm request returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("llm response contained no choices")
	}

	return parsed.Choices[0].Message.Content, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil
}

// Per-1K-token pricing. Unknown models fall back to gpt-4o-mini rates.
var modelCosts = map[string][2]float64{
	"gpt-4o-mini": {0.00015, 0.0006},
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4.1":     {0.002, 0.008},
}

// CalculateCost estimates the dollar cost of a call.
func (p *OpenAIProvider) CalculateCost(model string, inputTokens, outputTokens int64) float64 {
	rates, ok := modelCosts[model]
	if !ok {
		rates = modelCosts["gpt-4o-mini"]
	}
	return float64(inputTokens)/1000*rates[0] + float64(outputTokens)/1000*rates[1]
}
