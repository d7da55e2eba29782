// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/envoyhq/envoy-core/internal/backend"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatMessage is the wire form of one conversation turn.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for the streaming chat endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatChunk is one NDJSON line of the streaming response.
type chatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done          bool   `json:"done"`
	Error         string `json:"error,omitempty"`
	TotalDuration int64  `json:"total_duration,omitempty"`
	EvalCount     int    `json:"eval_count,omitempty"`
	EvalDuration  int64  `json:"eval_duration,omitempty"`
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream sends a chat request and returns a fragment channel.
//
// The producer goroutine closes the channel when the stream ends. A mid-flight
// failure is delivered as a single fragment with Err set. Cancellation via ctx
// stops both the reader and the underlying HTTP body.
func (c *Client) ChatStream(ctx context.Context, req backend.ChatRequest) (<-chan backend.Fragment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.config.DefaultModel
	}

	wire := chatRequest{Model: model, Stream: true}
	if req.SystemPrompt != "" {
		wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, h := range req.History {
		wire.Messages = append(wire.Messages, chatMessage{Role: h.Role, Content: h.Content})
	}
	wire.Messages = append(wire.Messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streaming.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, &ClientError{Type: ErrTypeModelNotFound, Message: "model not found: " + model}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "unexpected status " + resp.Status}
	}

	out := make(chan backend.Fragment)
	go c.readStream(ctx, resp.Body, model, out)
	return out, nil
}

// readStream parses NDJSON lines into fragments until done, error, or cancel.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, model string, out chan<- backend.Fragment) {
	defer close(out)
	defer body.Close()

	start := time.Now()
	var firstToken time.Time

	reader := bufio.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				return
			}
			if len(bytes.TrimSpace(line)) == 0 {
				c.emit(ctx, out, backend.Fragment{Err: c.classifyTransportError(err)})
				return
			}
			// Fall through and try to parse the final unterminated line.
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
			// Skip malformed lines
			continue
		}

		if chunk.Error != "" {
			c.emit(ctx, out, backend.Fragment{Err: &ClientError{Type: ErrTypeUnknown, Message: chunk.Error}})
			return
		}

		if chunk.Message.Content != "" {
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			if !c.emit(ctx, out, backend.Fragment{Content: chunk.Message.Content}) {
				return
			}
		}

		if chunk.Done {
			stats := &backend.Stats{
				Model:           model,
				Provider:        "local",
				TokensGenerated: chunk.EvalCount,
				TotalDuration:   time.Duration(chunk.TotalDuration),
			}
			if stats.TotalDuration == 0 {
				stats.TotalDuration = time.Since(start)
			}
			if !firstToken.IsZero() {
				stats.TimeToFirstToken = firstToken.Sub(start)
			}
			if evalSec := time.Duration(chunk.EvalDuration).Seconds(); evalSec > 0 {
				stats.TokensPerSecond = float64(chunk.EvalCount) / evalSec
			}
			c.emit(ctx, out, backend.Fragment{Done: true, Stats: stats})
			return
		}
	}
}

// emit sends a fragment unless the consumer is gone. Returns false on cancel.
func (c *Client) emit(ctx context.Context, out chan<- backend.Fragment, f backend.Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
