package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/config"
)

func newEventsApp() *fiber.App {
	app := fiber.New()
	handler := NewEventsHandler(nil, config.ChatConfig{MarkEmoji: "ticket"}, zap.NewNop())
	app.Post("/chat/events", handler.Handle)
	return app
}

func TestEventsURLVerification(t *testing.T) {
	app := newEventsApp()
	body := `{"type": "url_verification", "challenge": "c-123"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var parsed map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Equal(t, "c-123", parsed["challenge"])
}

func TestEventsIgnoresUnrelatedReaction(t *testing.T) {
	app := newEventsApp()
	// A non-mark emoji must be acked without touching the mark service;
	// a nil service would panic if it were invoked.
	body := `{"type": "event_callback", "event": {"type": "reaction_added", "reaction": "thumbsup", "user": "U1", "item": {"type": "message", "channel": "C1", "ts": "m1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/chat/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsRejectsMalformedBody(t *testing.T) {
	app := newEventsApp()
	req := httptest.NewRequest(http.MethodPost, "/chat/events", strings.NewReader("not json"))

	resp, err := app.Test(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
