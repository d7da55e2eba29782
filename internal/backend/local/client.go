// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package local implements the direct-model chat backend over the provider's
// local HTTP API.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/envoyhq/envoy-core/internal/backend"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the provider client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "provider is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the provider client.
type ClientConfig struct {
	// BaseURL is the provider API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on some platforms.
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// StreamTimeout for establishing streaming connections (default: 5s)
	StreamTimeout time.Duration

	// DefaultModel to use if a request names none (default: "llama3.2:3b")
	DefaultModel string

	// RequestsPerSecond caps outbound request rate (default: 4)
	RequestsPerSecond float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:           "http://127.0.0.1:11434",
		Timeout:           30 * time.Second,
		StreamTimeout:     5 * time.Second,
		DefaultModel:      "llama3.2:3b",
		RequestsPerSecond: 4,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client implements backend.ChatBackend over the provider's HTTP API.
//
// The Client is safe for concurrent use. Streaming requests are
// context-controlled and not subject to the non-streaming timeout.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	streaming  *http.Client
	limiter    *rate.Limiter

	mu          sync.RWMutex
	loadedModel string
	ready       bool
}

// NewClient creates a new provider client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new provider client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.StreamTimeout == 0 {
		config.StreamTimeout = 5 * time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "llama3.2:3b"
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 4
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		// Streaming responses outlive any sane fixed timeout; the context
		// carried by the request controls their lifetime instead.
		streaming: &http.Client{},
		limiter:   rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}
}

// =============================================================================
// STATUS
// =============================================================================

// Ready reports whether a model is loaded and the provider is reachable.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LoadedModel returns the identifier of the currently-loaded model.
func (c *Client) LoadedModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedModel
}

// Describe returns a human-readable provider description.
func (c *Client) Describe() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedModel == "" {
		return "local provider (no model loaded)"
	}
	return "local provider (" + c.loadedModel + ")"
}

// =============================================================================
// MODEL LOADING
// =============================================================================

// loadResponse is one NDJSON progress line from the model load endpoint.
type loadResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
	Error    string  `json:"error,omitempty"`
}

// LoadModel loads a model, reporting 0.0-1.0 progress with a status string.
// Blocks until the load completes, fails, or ctx is cancelled.
func (c *Client) LoadModel(ctx context.Context, modelID string, progress backend.ProgressFunc) error {
	if modelID == "" {
		modelID = c.config.DefaultModel
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"model": modelID, "stream": true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/models/load", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streaming.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &ClientError{Type: ErrTypeModelNotFound, Message: "model not found: " + modelID}
	}
	if resp.StatusCode != http.StatusOK {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "unexpected status " + resp.Status}
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var line loadResponse
		if err := dec.Decode(&line); err != nil {
			// The stream must end with an explicit done line; EOF before it
			// means the load was severed, not completed.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return &ClientError{Type: ErrTypeConnection, Message: "model load interrupted before completion", Cause: err}
			}
			return c.classifyTransportError(err)
		}
		if line.Error != "" {
			return &ClientError{Type: ErrTypeUnknown, Message: line.Error}
		}
		if progress != nil {
			progress(backend.LoadProgress{Fraction: line.Progress, Status: line.Status})
		}
		if line.Done {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.loadedModel = modelID
	c.ready = true
	c.mu.Unlock()

	if progress != nil {
		progress(backend.LoadProgress{Fraction: 1.0, Status: "ready"})
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// classifyTransportError maps transport failures onto the error taxonomy.
func (c *Client) classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ClientError{Type: ErrTypeConnection, Message: "cannot reach provider", Cause: err}
}
