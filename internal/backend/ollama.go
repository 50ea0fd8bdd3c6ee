// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError is an error from the Ollama client.
type ClientError struct {
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

// ErrNotRunning indicates the Ollama server is unreachable.
var ErrNotRunning = &ClientError{Message: "Ollama is not running"}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// OllamaConfig holds connection settings for the Ollama backend.
type OllamaConfig struct {
	// BaseURL of the Ollama API. Explicit IPv4 avoids IPv6
	// resolution issues with "localhost" on Windows.
	BaseURL string

	// Model to generate with.
	Model string

	// Timeout for non-streaming requests.
	Timeout time.Duration
}

// DefaultOllamaConfig returns the default connection settings.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL: "http://127.0.0.1:11434",
		Model:   "llama3.2:3b",
		Timeout: 2 * time.Minute,
	}
}

// =============================================================================
// OLLAMA GENERATOR
// =============================================================================

// Ollama implements Generator against a local Ollama server.
//
// Each Handle keeps the conversation history that has flowed through
// it, so the server sees prior turns. A recreated handle starts from
// just the system instructions.
type Ollama struct {
	config     OllamaConfig
	httpClient *http.Client
}

// NewOllama creates an Ollama generator.
func NewOllama(config OllamaConfig) *Ollama {
	def := DefaultOllamaConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}

	return &Ollama{
		config: config,
		// No client-level timeout: streaming responses stay open for
		// the whole generation. Per-request contexts bound everything.
		httpClient: &http.Client{},
	}
}

// Availability probes the server and checks the configured model is
// present. An unreachable server and a missing model both map to
// ReasonModelNotReady: in either case the fix is on the model side,
// not the device.
func (o *Ollama) Availability(ctx context.Context) Availability {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, o.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return Availability{Reason: ReasonUnknown}
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Availability{Reason: ReasonModelNotReady}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Availability{Reason: ReasonUnknown}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return Availability{Reason: ReasonUnknown}
	}

	for _, m := range tags.Models {
		if m.Name == o.config.Model || strings.HasPrefix(m.Name, o.config.Model+":") {
			return Availability{Available: true}
		}
	}
	return Availability{Reason: ReasonModelNotReady}
}

// CreateContext creates a fresh handle bound to instructions.
func (o *Ollama) CreateContext(instructions string) (Handle, error) {
	return &ollamaHandle{instructions: instructions}, nil
}

// ollamaHandle carries the per-conversation state the server needs on
// every request: instructions plus the turns seen so far.
type ollamaHandle struct {
	mu           sync.Mutex
	instructions string
	history      []wireMessage
}

func (h *ollamaHandle) Instructions() string {
	return h.instructions
}

// messagesFor builds the wire message list for a new prompt.
func (h *ollamaHandle) messagesFor(prompt string) []wireMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := make([]wireMessage, 0, len(h.history)+2)
	if h.instructions != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: h.instructions})
	}
	msgs = append(msgs, h.history...)
	msgs = append(msgs, wireMessage{Role: "user", Content: prompt})
	return msgs
}

// record commits a completed turn into the handle's history.
func (h *ollamaHandle) record(prompt, response string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history,
		wireMessage{Role: "user", Content: prompt},
		wireMessage{Role: "assistant", Content: response},
	)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message wireMessage `json:"message"`
	Done    bool        `json:"done"`
}

// =============================================================================
// GENERATION
// =============================================================================

// Respond issues a single blocking chat request.
func (o *Ollama) Respond(ctx context.Context, h Handle, prompt string, opts Options) (string, error) {
	oh, ok := h.(*ollamaHandle)
	if !ok {
		return "", &ClientError{Message: "handle was not created by this backend"}
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	body, err := o.doChat(reqCtx, oh.messagesFor(prompt), false, opts)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", &ClientError{Message: "invalid response", Cause: err}
	}

	oh.record(prompt, resp.Message.Content)
	return resp.Message.Content, nil
}

// StreamRespond issues a streaming chat request. Each emitted Chunk
// carries the cumulative response text; the channel closes when the
// server reports done, an error occurs, or ctx is cancelled.
func (o *Ollama) StreamRespond(ctx context.Context, h Handle, prompt string, opts Options) (<-chan Chunk, error) {
	oh, ok := h.(*ollamaHandle)
	if !ok {
		return nil, &ClientError{Message: "handle was not created by this backend"}
	}

	body, err := o.doChat(ctx, oh.messagesFor(prompt), true, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer body.Close()

		var acc strings.Builder
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var resp chatResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				// Skip malformed lines; the done marker decides
				// when the stream is over.
				continue
			}

			if resp.Message.Content != "" {
				acc.WriteString(resp.Message.Content)
				select {
				case out <- Chunk{Text: acc.String()}:
				case <-ctx.Done():
					return
				}
			}

			if resp.Done {
				oh.record(prompt, acc.String())
				return
			}
		}

		if err := scanner.Err(); err != nil {
			// A cancelled context surfaces as a read error on the
			// body; report it as the cancellation it is.
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		// Stream ended without a done marker; keep what we have.
		oh.record(prompt, acc.String())
	}()

	return out, nil
}

// doChat sends a chat request and returns the response body.
func (o *Ollama) doChat(ctx context.Context, msgs []wireMessage, stream bool, opts Options) (io.ReadCloser, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    o.config.Model,
		Messages: msgs,
		Stream:   stream,
		Options:  &wireOptions{Temperature: opts.Temperature},
	})
	if err != nil {
		return nil, &ClientError{Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, ErrNotRunning
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ClientError{
			Message: fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	return resp.Body, nil
}
