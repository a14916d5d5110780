package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/knowledge"
)

// ChatRequest is the chat completions request body. The budget fields are
// extensions; standard clients never send them.
type ChatRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	VerificationID string        `json:"verification_id,omitempty"`
	BudgetTokens   *int64        `json:"budget_tokens,omitempty"`
	MaxAttempts    *int          `json:"max_attempts,omitempty"`
	NoDirectAnswer bool          `json:"no_direct_answer,omitempty"`
}

type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts either a plain string or an array of
// {"type":"text","text":...} parts. Non-text parts are dropped.
type MessageContent string

func (m *MessageContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = MessageContent(s)
		return nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("message content must be a string or an array of parts: %w", err)
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	*m = MessageContent(strings.Join(texts, "\n"))
	return nil
}

// Usage is the token report in every completion response.
type Usage struct {
	PromptTokens            int64                   `json:"prompt_tokens"`
	CompletionTokens        int64                   `json:"completion_tokens"`
	TotalTokens             int64                   `json:"total_tokens"`
	CompletionTokensDetails CompletionTokensDetails `json:"completion_tokens_details"`
}

type CompletionTokensDetails struct {
	ReasoningTokens          int64 `json:"reasoning_tokens"`
	AcceptedPredictionTokens int64 `json:"accepted_prediction_tokens"`
	RejectedPredictionTokens int64 `json:"rejected_prediction_tokens"`
}

func usageOf(u budget.Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens(),
		TotalTokens:      u.TotalTokens(),
		CompletionTokensDetails: CompletionTokensDetails{
			ReasoningTokens:          u.ReasoningTokens,
			AcceptedPredictionTokens: u.AcceptedTokens,
			RejectedPredictionTokens: u.RejectedTokens,
		},
	}
}

type AssistantMessage struct {
	Role        string                `json:"role"`
	Content     string                `json:"content"`
	Type        string                `json:"type,omitempty"`
	Annotations []knowledge.Reference `json:"annotations,omitempty"`
}

type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	Logprobs     interface{}      `json:"logprobs"`
	FinishReason string           `json:"finish_reason"`
}

// ChatCompletion is the non-streaming response.
type ChatCompletion struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
	VisitedURLs       []string `json:"visitedURLs"`
	ReadURLs          []string `json:"readURLs"`
	NumURLs           int      `json:"numURLs"`
}

// Delta is the incremental message of a stream chunk. An empty Delta
// marshals to {}.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
}

type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        Delta       `json:"delta"`
	Logprobs     interface{} `json:"logprobs"`
	FinishReason *string     `json:"finish_reason"`
}

// ChatCompletionChunk is one server-sent event of a streaming response.
type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint"`
	Choices           []ChunkChoice `json:"choices"`
	Usage             *Usage        `json:"usage,omitempty"`
	VisitedURLs       []string      `json:"visitedURLs,omitempty"`
	ReadURLs          []string      `json:"readURLs,omitempty"`
	NumURLs           int           `json:"numURLs,omitempty"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}
