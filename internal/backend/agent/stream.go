// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/envoyhq/envoy-core/internal/backend"
)

// STREAMING: Robust SSE parsing with error handling

// MaxChunkSize is the maximum allowed size for a single SSE chunk (64KB).
const MaxChunkSize = 64 * 1024

// =============================================================================
// WIRE TYPES
// =============================================================================

// deltaChunk is one decoded SSE data payload from the agent.
type deltaChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

// SendMessage sends a prompt to the agent and returns a fragment channel of
// text deltas. The channel is closed when the stream ends; a mid-flight
// failure is delivered as a fragment whose Err is a *StreamError carrying the
// partial content received so far.
func (c *Client) SendMessage(ctx context.Context, prompt string) (<-chan backend.Fragment, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	resp, err := c.openStream(ctx, prompt)
	if err != nil {
		return nil, err
	}

	out := make(chan backend.Fragment)
	go c.readSSE(ctx, resp.Body, out)
	return out, nil
}

// readSSE parses data: lines into fragments until [DONE], error, or cancel.
func (c *Client) readSSE(ctx context.Context, body io.ReadCloser, out chan<- backend.Fragment) {
	defer close(out)
	defer body.Close()

	start := time.Now()
	var firstToken time.Time
	var partial strings.Builder
	tokenCount := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), MaxChunkSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)

		if bytes.Equal(data, []byte("[DONE]")) {
			c.emitDone(ctx, out, start, firstToken, tokenCount)
			return
		}

		var chunk deltaChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed events
			continue
		}

		if chunk.Error != "" {
			c.emit(ctx, out, backend.Fragment{Err: &StreamError{
				Partial: partial.String(),
				Err:     errors.New(chunk.Error),
			}})
			return
		}

		if chunk.Delta != "" {
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			partial.WriteString(chunk.Delta)
			tokenCount++
			if !c.emit(ctx, out, backend.Fragment{Content: chunk.Delta}) {
				return
			}
		}

		if chunk.Done {
			c.emitDone(ctx, out, start, firstToken, tokenCount)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		c.emit(ctx, out, backend.Fragment{Err: &StreamError{Partial: partial.String(), Err: err}})
		return
	}

	// Stream closed without a terminator; treat as a normal completion.
	c.emitDone(ctx, out, start, firstToken, tokenCount)
}

// emitDone sends the final fragment with computed statistics.
func (c *Client) emitDone(ctx context.Context, out chan<- backend.Fragment, start, firstToken time.Time, tokens int) {
	stats := &backend.Stats{
		Provider:        "agent:" + c.config.AgentName,
		TokensGenerated: tokens,
		TotalDuration:   time.Since(start),
	}
	if !firstToken.IsZero() {
		stats.TimeToFirstToken = firstToken.Sub(start)
	}
	if sec := stats.TotalDuration.Seconds(); sec > 0 {
		stats.TokensPerSecond = float64(tokens) / sec
	}
	c.emit(ctx, out, backend.Fragment{Done: true, Stats: stats})
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
