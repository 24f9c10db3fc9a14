package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(ClientOptions{
		BaseURL:     srv.URL,
		FlowID:      "flow-main",
		APIKey:      "secret-key",
		InputSlotID: "ChatInput-main",
		Timeout:     2 * time.Second,
		Logger:      zap.NewNop(),
	})
}

func TestRunFlowRequestShape(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": "{\"proposals\": []}"}`))
	})

	payload := map[string]any{"command": "/sync", "items": []string{"msg one"}}
	_, err := client.RunFlow(context.Background(), "sess-1", payload, Parameters{
		"JiraReader-x": {"api_token": "tok"},
	})

	require.NoError(t, err)
	assert.Equal(t, "/api/v1/run/flow-main", gotPath)
	assert.Equal(t, "secret-key", gotAPIKey)
	assert.Equal(t, "chat", gotBody["output_type"])
	assert.Equal(t, "chat", gotBody["input_type"])
	assert.Equal(t, "sess-1", gotBody["session_id"])

	tweaks := gotBody["tweaks"].(map[string]any)
	input := tweaks["ChatInput-main"].(map[string]any)["input_value"].(string)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(input), &decoded))
	assert.Equal(t, "/sync", decoded["command"])
	assert.Equal(t, "tok", tweaks["JiraReader-x"].(map[string]any)["api_token"])
}

func TestRunFlowAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flow not found", http.StatusNotFound)
	})

	_, err := client.RunFlow(context.Background(), "sess-1", map[string]any{}, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "flow not found")
}

func TestRunFlowTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.RunFlow(ctx, "sess-1", map[string]any{}, nil)

	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestWithFlowKeepsCredentials(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"message": "{}"}`))
	})

	trigger := client.WithFlow("flow-trigger", "TriggerInput-1")
	_, err := trigger.RunFlow(context.Background(), "poll-1", map[string]any{"action": "check_documents"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "/api/v1/run/flow-trigger", gotPath)
	tweaks := gotBody["tweaks"].(map[string]any)
	assert.Contains(t, tweaks, "TriggerInput-1")
}

func TestSendContinuationWrapsPlainText(t *testing.T) {
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"message": "{}"}`))
	})

	_, err := client.SendContinuation(context.Background(), "sess-1", "approved")

	require.NoError(t, err)
	tweaks := gotBody["tweaks"].(map[string]any)
	input := tweaks["ChatInput-main"].(map[string]any)["input_value"].(string)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(input), &decoded))
	assert.Equal(t, "approved", decoded["message"])
}
