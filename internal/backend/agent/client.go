// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent implements the remote agent backend over an SSE delta stream.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Configuration constants for the agent connection.
const (
	// DefaultTimeout is the default timeout for connection establishment.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient connect errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second
)

// ErrNotConnected is returned when a message is sent before the agent
// connection is established.
var ErrNotConnected = errors.New("agent is not connected")

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError represents an error that occurred during streaming, preserving
// any partial content received before the error.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds agent client configuration.
type Config struct {
	// BaseURL is the agent endpoint base URL.
	BaseURL string

	// AgentName is the remote persona this client addresses.
	AgentName string

	// Timeout bounds connection establishment (default: 60s).
	Timeout time.Duration

	// MaxRetries for transient connect failures (default: 3).
	MaxRetries int
}

// Client implements backend.AgentBackend over an SSE delta stream.
//
// The Client is safe for concurrent use: each SendMessage owns an independent
// response body and fragment channel.
type Client struct {
	config Config

	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	httpClient *http.Client

	mu        sync.RWMutex
	connected bool
}

// NewClient creates a new agent client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// =============================================================================
// CONNECTION STATE
// =============================================================================

// Connected reports whether the agent connection has been established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect performs the agent handshake. Retries transient failures with
// exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.handshake(ctx); err != nil {
			lastErr = err
			continue
		}

		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		return nil
	}
	return fmt.Errorf("agent connect failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

// Close drops the connection state.
func (c *Client) Close() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// handshake checks the agent card endpoint.
func (c *Client) handshake(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.config.BaseURL+"/agents/"+c.config.AgentName, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent handshake returned %s", resp.Status)
	}
	return nil
}

// =============================================================================
// MESSAGE REQUEST
// =============================================================================

// messageRequest is the outbound message body.
type messageRequest struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

// openStream POSTs the message and returns the SSE response body.
func (c *Client) openStream(ctx context.Context, prompt string) (*http.Response, error) {
	body, err := json.Marshal(messageRequest{
		Agent:   c.config.AgentName,
		Message: prompt,
		Stream:  true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("agent message returned %s", resp.Status)
	}
	return resp, nil
}
