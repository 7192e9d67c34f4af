// Package llm suggests candidate fill-in sentences for a target word
// through an OpenAI-compatible chat API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tclam/worksheet/internal/llm/prompts"
)

// suggestResult is the JSON object the model is instructed to return.
type suggestResult struct {
	Sentences []string `json:"sentences"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// SuggestSentences asks the model for n example sentences for word,
// each carrying the word wrapped in 【】. Sentences that come back
// without the target word are dropped; ones with a bare target get the
// delimiters restored.
func (c *Client) SuggestSentences(ctx context.Context, word, level string, n int) ([]string, error) {
	word = prompts.SanitizeWord(word)
	if word == "" {
		return nil, fmt.Errorf("empty target word")
	}

	systemPrompt, err := prompts.BuildSuggestPrompt(prompts.ForLevel(level), word, level, n)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: word},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "word", word, "raw", raw)

	var result suggestResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	sentences := NormalizeSentences(result.Sentences, word)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("LLM returned no usable sentences for %q", word)
	}
	return sentences, nil
}

// NormalizeSentences cleans model output: trims whitespace, drops
// sentences missing the target word, and wraps a bare target in 【】
// when the model forgot the delimiters.
func NormalizeSentences(raw []string, word string) []string {
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		marked := "【" + word + "】"
		switch {
		case strings.Contains(s, marked):
		case strings.Contains(s, word):
			s = strings.Replace(s, word, marked, 1)
		default:
			slog.Warn("dropping suggestion without target word", "word", word, "sentence", s)
			continue
		}
		out = append(out, s)
	}
	return out
}
