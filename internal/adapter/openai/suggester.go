// Package openai implements the assisted-matching suggester port against an
// OpenAI-compatible chat completion endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/finback/autoclerk/internal/config"
	"github.com/finback/autoclerk/internal/port/suggester"
	"github.com/finback/autoclerk/internal/resilience"
)

const systemPrompt = `You match financial documents to ledger records.
Reply with a single JSON object and nothing else:
{"source_type": "...", "source_id": "...", "amount": 0, "confidence": 0.0, "reasoning": "..."}
confidence is your own estimate in [0, 1]. If no candidate fits, use an
empty source_id and confidence 0.`

// Suggester asks a chat model for a best-guess candidate. Responses are
// parsed strictly; anything malformed is an error the cascade treats as
// "no result".
type Suggester struct {
	client  openai.Client
	model   string
	breaker *resilience.Breaker
}

// NewSuggester creates a Suggester from the collaborator configuration.
func NewSuggester(cfg config.OpenAI) *Suggester {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Suggester{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

// SetBreaker attaches a circuit breaker to completion calls.
func (s *Suggester) SetBreaker(b *resilience.Breaker) {
	s.breaker = b
}

// Suggest sends the subject prompt and parses the model's JSON reply.
func (s *Suggester) Suggest(ctx context.Context, prompt string) (suggester.Suggestion, error) {
	var resp *openai.ChatCompletion
	call := func() error {
		var err error
		resp, err = s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(s.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(prompt),
			},
		})
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return suggester.Suggestion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return suggester.Suggestion{}, fmt.Errorf("chat completion: empty response")
	}

	return parseSuggestion(resp.Choices[0].Message.Content)
}

// parseSuggestion decodes the model reply, tolerating markdown code fences
// some models insist on emitting.
func parseSuggestion(content string) (suggester.Suggestion, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var sug suggester.Suggestion
	if err := json.Unmarshal([]byte(content), &sug); err != nil {
		return suggester.Suggestion{}, fmt.Errorf("parse suggestion: %w", err)
	}

	if sug.Confidence < 0 {
		sug.Confidence = 0
	}
	if sug.Confidence > 1 {
		sug.Confidence = 1
	}
	return sug, nil
}
