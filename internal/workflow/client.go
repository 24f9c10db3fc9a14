package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RawResult is the undecoded flow response body.
type RawResult map[string]any

// Parameters carries per-invocation component overrides, keyed by flow
// component slot ID.
type Parameters map[string]map[string]any

// Client invokes a hosted LLM flow over its synchronous run API.
type Client struct {
	baseURL     string
	flowID      string
	apiKey      string
	inputSlotID string
	httpClient  *http.Client
	timeout     time.Duration
	logger      *zap.Logger
}

// ClientOptions configures a flow client.
type ClientOptions struct {
	BaseURL     string
	FlowID      string
	APIKey      string
	InputSlotID string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewClient constructs a flow client. The client is safe for concurrent use.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     opts.BaseURL,
		flowID:      opts.FlowID,
		apiKey:      opts.APIKey,
		inputSlotID: opts.InputSlotID,
		httpClient:  &http.Client{Timeout: timeout},
		timeout:     timeout,
		logger:      logger,
	}
}

// WithFlow returns a client for a different flow sharing the same endpoint,
// credentials, and timeout. The scheduler uses this for the trigger flow.
func (c *Client) WithFlow(flowID, inputSlotID string) *Client {
	clone := *c
	clone.flowID = flowID
	if inputSlotID != "" {
		clone.inputSlotID = inputSlotID
	}
	return &clone
}

func (c *Client) runEndpoint() string {
	return fmt.Sprintf("%s/api/v1/run/%s", c.baseURL, c.flowID)
}

// RunFlow invokes the flow synchronously. The input payload is serialized
// into the designated input slot; extraParams are merged on top as
// additional component overrides.
func (c *Client) RunFlow(ctx context.Context, sessionID string, input any, extraParams Parameters) (RawResult, error) {
	inputValue, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal flow input: %w", err)
	}

	tweaks := map[string]any{
		c.inputSlotID: map[string]any{"input_value": string(inputValue)},
	}
	for component, params := range extraParams {
		tweaks[component] = params
	}

	payload := map[string]any{
		"output_type": "chat",
		"input_type":  "chat",
		"session_id":  sessionID,
		"tweaks":      tweaks,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal flow request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runEndpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build flow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	c.logger.Info("running flow",
		zap.String("session_id", sessionID),
		zap.String("flow_id", c.flowID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, &TimeoutError{Err: err}
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	var raw RawResult
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode flow response: %w", err)}
	}
	return raw, nil
}

// SendContinuation posts a follow-up message on an existing session. A
// non-JSON message is wrapped as {"message": <text>} so the flow always
// receives an object.
func (c *Client) SendContinuation(ctx context.Context, sessionID, message string) (RawResult, error) {
	var input any
	if err := json.Unmarshal([]byte(message), &input); err != nil {
		input = map[string]any{"message": message}
	}
	return c.RunFlow(ctx, sessionID, input, nil)
}

func isClientTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
