package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Message is a single chat message as returned by the platform API.
type Message struct {
	UserID          string `json:"user"`
	Text            string `json:"text"`
	Timestamp       string `json:"ts"`
	ThreadTimestamp string `json:"thread_ts"`
	BotID           string `json:"bot_id"`
}

// APIError is a platform-level failure: the HTTP call succeeded but the
// platform rejected the operation.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api %s failed: %s", e.Method, e.Code)
}

// Client talks to the chat platform's web API with a bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a chat client. The client is safe for concurrent use.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type apiResponse struct {
	OK        bool      `json:"ok"`
	Error     string    `json:"error"`
	Timestamp string    `json:"ts"`
	Messages  []Message `json:"messages"`
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat api %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return &parsed, &APIError{Method: method, Code: parsed.Error}
	}
	return &parsed, nil
}

// callForm issues a GET-style method that the platform serves off query
// parameters rather than a JSON body.
func (c *Client) callForm(ctx context.Context, method string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat api %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return &parsed, &APIError{Method: method, Code: parsed.Error}
	}
	return &parsed, nil
}

// PostMessage posts to a channel and returns the new message's timestamp.
// threadTS, when non-empty, threads the message under an existing one.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, blocks []Block, threadTS string) (string, error) {
	payload := map[string]any{
		"channel": channelID,
		"text":    text,
	}
	if len(blocks) > 0 {
		payload["blocks"] = blocks
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	resp, err := c.call(ctx, "chat.postMessage", payload)
	if err != nil {
		return "", err
	}
	return resp.Timestamp, nil
}

// PostEphemeral posts a message visible only to one user.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	_, err := c.call(ctx, "chat.postEphemeral", map[string]any{
		"channel": channelID,
		"user":    userID,
		"text":    text,
	})
	return err
}

// UpdateMessage replaces the content of an existing message.
func (c *Client) UpdateMessage(ctx context.Context, channelID, timestamp, text string, blocks []Block) error {
	payload := map[string]any{
		"channel": channelID,
		"ts":      timestamp,
		"text":    text,
	}
	if len(blocks) > 0 {
		payload["blocks"] = blocks
	}
	_, err := c.call(ctx, "chat.update", payload)
	return err
}

// AddReaction adds an emoji reaction. Duplicate reactions are not errors.
func (c *Client) AddReaction(ctx context.Context, channelID, timestamp, emoji string) error {
	_, err := c.call(ctx, "reactions.add", map[string]any{
		"channel":   channelID,
		"timestamp": timestamp,
		"name":      emoji,
	})
	if isIgnorableReactionError(err, "already_reacted") {
		return nil
	}
	return err
}

// RemoveReaction removes an emoji reaction. A missing reaction is not an
// error.
func (c *Client) RemoveReaction(ctx context.Context, channelID, timestamp, emoji string) error {
	_, err := c.call(ctx, "reactions.remove", map[string]any{
		"channel":   channelID,
		"timestamp": timestamp,
		"name":      emoji,
	})
	if isIgnorableReactionError(err, "no_reaction") {
		return nil
	}
	return err
}

// GetMessage fetches a single message by its timestamp.
func (c *Client) GetMessage(ctx context.Context, channelID, timestamp string) (*Message, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("latest", timestamp)
	params.Set("oldest", timestamp)
	params.Set("inclusive", "true")
	params.Set("limit", "1")

	resp, err := c.callForm(ctx, "conversations.history", params)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("message %s not found in channel %s", timestamp, channelID)
	}
	return &resp.Messages[0], nil
}

// GetThreadReplies fetches a threaded message and all of its replies, in
// chronological order.
func (c *Client) GetThreadReplies(ctx context.Context, channelID, timestamp string) ([]Message, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("ts", timestamp)
	params.Set("limit", "200")

	resp, err := c.callForm(ctx, "conversations.replies", params)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func isIgnorableReactionError(err error, code string) bool {
	if err == nil {
		return false
	}
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == code
}
