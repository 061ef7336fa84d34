// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the primestream API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/history"
	"github.com/jeranaias/primestream/internal/tasks"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the API client.
type ClientError struct {
	Type    ErrorType
	Status  int
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

// Is matches sentinel errors by type.
func (e *ClientError) Is(target error) bool {
	var t *ClientError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Type != ErrTypeUnknown
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeNotFound
	ErrTypeUnauthorized
	ErrTypeRateLimited
	ErrTypeInvalidRequest
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning   = &ClientError{Type: ErrTypeNotRunning, Message: "primestream server is not reachable"}
	ErrTimeout      = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrTaskNotFound = &ClientError{Type: ErrTypeNotFound, Message: "task not found"}
	ErrUnauthorized = &ClientError{Type: ErrTypeUnauthorized, Message: "unauthorized"}
	ErrRateLimited  = &ClientError{Type: ErrTypeRateLimited, Message: "rate limited"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL is the address of a locally running server.
const DefaultBaseURL = "http://127.0.0.1:5001"

// ClientConfig holds configuration options for the client.
type ClientConfig struct {
	// BaseURL is the server base URL (default: http://127.0.0.1:5001)
	BaseURL string

	// Timeout for non-streaming requests (default: 10s). Streams are bounded
	// only by their context.
	Timeout time.Duration

	// AuthToken is sent as a bearer token when set.
	AuthToken string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a primestream server. It is safe for concurrent use.
//
// Example:
//
//	c := client.NewClient()
//	resp, err := c.Submit(ctx, client.SubmitRequest{UpperBound: 1_000_000})
//	for ev := range c.Stream(ctx, resp.TaskID) {
//	    ...
//	}
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// API TYPES
// =============================================================================

// SubmitRequest is the body of POST /api/prime.
type SubmitRequest struct {
	UpperBound uint64  `json:"upper_bound"`
	BatchSize  *uint32 `json:"batch_size,omitempty"`
	Visualise  bool    `json:"visualise,omitempty"`
}

// TaskResponse pairs a task id with its state.
type TaskResponse struct {
	TaskID uuid.UUID   `json:"task_id"`
	State  tasks.State `json:"state"`
}

// Snapshot is one decoded stream snapshot keyed by task id.
type Snapshot map[uuid.UUID]tasks.State

// History is the body of GET /api/history.
type History struct {
	Enabled bool               `json:"enabled"`
	Counts  map[tasks.Kind]int `json:"counts,omitempty"`
	Records []history.Record   `json:"records"`
}

type healthResponse struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Health calls the liveness probe and returns its message.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Submit starts a prime calculation. It returns as soon as the task is registered.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*TaskResponse, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/prime", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task returns the current state of one task.
func (c *Client) Task(ctx context.Context, id uuid.UUID) (tasks.State, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+id.String(), nil, &resp); err != nil {
		return tasks.State{}, err
	}
	return resp.State, nil
}

// Tasks returns a one-shot snapshot of every task.
func (c *Client) Tasks(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// History returns archived outcomes, newest first. limit <= 0 uses the
// server default.
func (c *Client) History(ctx context.Context, limit int) (*History, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp History
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &ClientError{Type: ErrTypeInvalidRequest, Message: "failed to marshal request", Cause: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeNotRunning, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	return req, nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// statusError turns a non-200 response into a ClientError, using the server's
// error message when the body carries one.
func statusError(resp *http.Response) error {
	message := resp.Status
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error.Message != "" {
		message = body.Error.Message
	}

	errType := ErrTypeInvalidResponse
	switch {
	case resp.StatusCode == http.StatusNotFound:
		errType = ErrTypeNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		errType = ErrTypeUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = ErrTypeRateLimited
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		errType = ErrTypeInvalidRequest
	}

	return &ClientError{
		Type:    errType,
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("%s (%d)", message, resp.StatusCode),
	}
}

// IsNotFound checks if an error is a task not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsNotRunning checks if an error indicates the server is unreachable.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// drainAndClose lets the connection be reused.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	r.Close()
}
