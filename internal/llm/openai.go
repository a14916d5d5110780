package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/transport"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	http        *transport.Client
}

// NewOpenAI builds a client from the llm config section.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &OpenAI{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        transport.New(cfg.Timeout, cfg.MaxRetries, 500*time.Millisecond),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            int64 `json:"prompt_tokens"`
		CompletionTokens        int64 `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens          int64 `json:"reasoning_tokens"`
			AcceptedPredictionTokens int64 `json:"accepted_prediction_tokens"`
			RejectedPredictionTokens int64 `json:"rejected_prediction_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	if o.apiKey == "" {
		return Response{}, errors.New("llm api key not configured")
	}
	body := chatRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: req.Schema.Name, Schema: req.Schema.Definition},
		}
	}

	var out chatResponse
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := o.http.DoJSON(ctx, http.MethodPost, o.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	resp := Response{Usage: mapUsage(out)}
	if len(out.Choices) == 0 {
		return resp, errors.New("chat completion: no choices")
	}
	resp.Text = out.Choices[0].Message.Content
	resp.Think = out.Choices[0].Message.ReasoningContent
	return resp, nil
}

func mapUsage(out chatResponse) budget.Usage {
	d := out.Usage.CompletionTokensDetails
	accepted := out.Usage.CompletionTokens - d.ReasoningTokens - d.RejectedPredictionTokens
	if accepted < 0 {
		accepted = 0
	}
	return budget.Usage{
		PromptTokens:    out.Usage.PromptTokens,
		ReasoningTokens: d.ReasoningTokens,
		AcceptedTokens:  accepted,
		RejectedTokens:  d.RejectedPredictionTokens,
	}
}
