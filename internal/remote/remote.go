// Package remote is the client side of the cloud variable store API:
// connect to a work, read a variable, write a variable. Calls are
// stateless; transient failures are retried here, logical rejections
// from the remote are returned to the caller untouched.
package remote

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

// retryDelay is the fixed pause between attempts of a retried call.
const retryDelay = 2 * time.Second

// ErrMaxRetries is reported when a retried call exhausts all attempts.
var ErrMaxRetries = errors.New("max retries exceeded")

// RejectedError is a logical failure returned by the remote itself
// ({success:false} with an error code). It is never retried.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote rejected (%s)", e.Code)
}

type ConnectResult struct {
	OnlineUsers int `json:"onlineUsers"`
}

type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type Client struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
	sleep      func(time.Duration) // injectable for tests
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
		sleep:      time.Sleep,
	}
}

// Connect attaches to a work. No retry here; callers decide what a failed
// connect means (fatal at startup, counted during reconnect).
func (c *Client) Connect(ctx context.Context, workID int64) (*ConnectResult, error) {
	data, err := c.post(ctx, "/connection/connect", map[string]any{"workId": workID})
	if err != nil {
		return nil, err
	}
	var out ConnectResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode connect data: %w", err)
		}
	}
	return &out, nil
}

// GetVariable reads the named variable, retrying transient failures.
func (c *Client) GetVariable(ctx context.Context, workID int64, name string) (*Variable, error) {
	var out *Variable
	err := c.withRetry(func() error {
		data, err := c.post(ctx, "/var/get", map[string]any{"workId": workID, "name": name})
		if err != nil {
			return err
		}
		var v Variable
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode variable data: %w", err)
		}
		out = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetVariable writes the named variable, retrying transient failures.
// kind is the remote's variable type ("public"/"private"), echoed back
// from a previous get.
func (c *Client) SetVariable(ctx context.Context, workID int64, name, value, kind string) error {
	if kind == "" {
		kind = "public"
	}
	return c.withRetry(func() error {
		_, err := c.post(ctx, "/var/set", map[string]any{
			"workId": workID,
			"name":   name,
			"value":  value,
			"type":   kind,
		})
		return err
	})
}

// withRetry runs call up to maxRetries times with a fixed pause between
// attempts. A RejectedError aborts immediately: the remote answered, it
// just said no.
func (c *Client) withRetry(call func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return err
		}
		lastErr = err
		if attempt < c.maxRetries-1 {
			c.sleep(retryDelay)
		}
	}
	return fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		code := env.Error
		if code == "" {
			code = "UNKNOWN_ERROR"
		}
		return nil, &RejectedError{Code: code, Message: env.Message}
	}
	return env.Data, nil
}
