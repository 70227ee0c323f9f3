// Package ai calls an OpenAI-compatible chat completions endpoint to turn
// a player question into an answer.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const retryDelay = 2 * time.Second

// ErrEmptyResponse is reported when the endpoint answers 200 with no
// choices. Not retried: the request was accepted, the model just gave
// nothing back.
var ErrEmptyResponse = errors.New("empty choices in response")

// HTTPError is a non-2xx status from the AI endpoint. Terminal for the
// call; a bad request will not get better by resending it.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ai http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("ai http %d", e.Status)
}

type ChatResult struct {
	Answer string
	Model  string
}

type Client struct {
	url         string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	httpClient  *http.Client
	sleep       func(time.Duration) // injectable for tests
}

type Options struct {
	URL         string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

func NewClient(opts Options) *Client {
	return &Client{
		url:         opts.URL,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		maxRetries:  opts.MaxRetries,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		sleep:       time.Sleep,
	}
}

// Complete sends one system+user message pair and returns the first
// choice. Transport failures are retried with a fixed pause; HTTP errors
// and empty responses are terminal.
func (c *Client) Complete(ctx context.Context, systemPrompt, question string) (*ChatResult, error) {
	payload, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": question},
		},
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		result, err := c.send(ctx, payload)
		if err == nil {
			return result, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt < c.maxRetries-1 {
			c.sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) send(ctx context.Context, payload []byte) (*ChatResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var decoded struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &ChatResult{
		Answer: decoded.Choices[0].Message.Content,
		Model:  model,
	}, nil
}

// transportError marks a timeout or connection failure, the only class
// of AI-side error worth resending.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "send request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

func errorMessage(body []byte) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return strings.TrimSpace(string(body))
}
