// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
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

// Is matches any ClientError of the same type, so errors.Is(err,
// ErrNotRunning) holds for wrapped transport failures too.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Type == e.Type
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
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// ProbeTimeout bounds ModelIsAvailable.
const ProbeTimeout = 5 * time.Second

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 5m, local models are slow)
	Timeout time.Duration

	// ProbeTimeout bounds availability probes (default: 5s)
	ProbeTimeout time.Duration

	// Options are sent with every chat request when non-nil.
	Options *Options
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://127.0.0.1:11434",
		Timeout:      5 * time.Minute,
		ProbeTimeout: ProbeTimeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API. It does not retry:
// failures surface to the caller unchanged.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	// streamClient has no overall timeout; streams are bounded by ctx.
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = ProbeTimeout
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{Type: ErrTypeConnection, Message: "unexpected status from Ollama: " + resp.Status}
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to list models: " + resp.Status}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// ShowModel asks the backend whether a model is installed.
func (c *Client) ShowModel(ctx context.Context, name string) error {
	resp, err := c.post(ctx, c.httpClient, "/api/show", ShowModelRequest{Model: name})
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

// ModelIsAvailable probes whether a model is installed. The probe is bounded
// by the configured probe timeout; expiry or any error yields false.
func (c *Client) ModelIsAvailable(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		done <- result{err: c.ShowModel(ctx, name)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Printf("MODEL_PROBE | model=%s available=false err=%q", name, r.err.Error())
			return false
		}
		log.Printf("MODEL_PROBE | model=%s available=true", name)
		return true
	case <-ctx.Done():
		log.Printf("MODEL_PROBE | model=%s available=false err=timeout", name)
		return false
	}
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// ChatStream starts a streaming chat request. The returned stream must be
// closed by the caller. Cancelling ctx aborts the underlying request.
func (c *Client) ChatStream(ctx context.Context, modelName string, messages []model.Message, descs []tools.Descriptor) (*FragmentStream, error) {
	body := ChatRequest{
		Model:    modelName,
		Messages: ToWireMessages(messages),
		Stream:   true,
		Tools:    ToWireTools(descs),
		Options:  c.config.Options,
	}

	resp, err := c.post(ctx, c.streamClient, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	return NewFragmentStream(ctx, resp.Body), nil
}

// ChatOnce sends a non-streaming chat request and returns the complete reply
// as a conversation message. Pass nil descs to request a plain text answer.
func (c *Client) ChatOnce(ctx context.Context, modelName string, messages []model.Message, descs []tools.Descriptor) (model.Message, error) {
	body := ChatRequest{
		Model:    modelName,
		Messages: ToWireMessages(messages),
		Stream:   false,
		Tools:    ToWireTools(descs),
		Options:  c.config.Options,
	}

	resp, err := c.post(ctx, c.httpClient, "/api/chat", body)
	if err != nil {
		return model.Message{}, err
	}
	defer drainAndClose(resp.Body)

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.Message{}, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if result.Error != "" {
		return model.Message{}, classifyAPIError(result.Error)
	}
	return FromWireMessage(result.Message), nil
}

// post sends a JSON body and returns the response when the status is 200.
// Any other status is converted to a ClientError and the body is closed.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, transportError(err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}
	var apiErr OllamaError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return nil, classifyAPIError(apiErr.Error)
	}
	return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "request failed: " + resp.Status}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
}

func classifyAPIError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "not found") && strings.Contains(lower, "model") {
		return &ClientError{Type: ErrTypeModelNotFound, Message: msg}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: msg}
}

func errorType(err error) ErrorType {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	return ErrTypeUnknown
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errorType(err) == ErrTypeModelNotFound
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errorType(err) == ErrTypeNotRunning
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errorType(err) == ErrTypeTimeout
}

// IsBackendUnavailable reports whether err means the backend could not be
// reached or stopped responding.
func IsBackendUnavailable(err error) bool {
	switch errorType(err) {
	case ErrTypeNotRunning, ErrTypeTimeout, ErrTypeConnection:
		return true
	}
	return false
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	r.Close()
}
