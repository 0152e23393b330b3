// Package summarize calls the external summarization backend. The backend is
// any OpenAI-compatible chat completions endpoint; the caller controls the
// deadline through the context and maps errors to user-facing messages with
// Classify.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	systemPrompt = "You are a helpful assistant that summarizes text concisely and accurately."
	userPrefix   = "Please summarize the following text:\n\n"

	maxTokens   = 250
	temperature = 0.7
)

// Summarizer produces a summary for a piece of text. Implementations must
// honor context cancellation so a lost timeout race releases its resources.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
}

func NewClient(url, apiKey, model string) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{},
	}
}

func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrefix + text},
		},
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no summary generated")
	}
	return result.Choices[0].Message.Content, nil
}
