package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func signedHeaders(body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	hdr := http.Header{}
	hdr.Set("X-Slack-Request-Timestamp", ts)
	hdr.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return hdr
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	hdr := signedHeaders(body, time.Now())
	assert.NoError(t, VerifySignature(secret, hdr, body))

	assert.ErrorIs(t, VerifySignature("other-secret", hdr, body), ErrInvalidSignature)

	stale := signedHeaders(body, time.Now().Add(-10*time.Minute))
	assert.ErrorIs(t, VerifySignature(secret, stale, body), ErrInvalidSignature)

	hdr.Set("X-Slack-Signature", "v0=bad")
	assert.ErrorIs(t, VerifySignature(secret, hdr, body), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, http.Header{}, body), ErrInvalidSignature)
}

func webhookContext(body []byte, hdr http.Header, params map[string]any) *app.Context {
	return &app.Context{
		Mode:   app.ModeWebhook,
		Params: params,
		Auth: &app.AuthHandle{Load: func(context.Context) (credentials.Data, error) {
			return credentials.Data{FieldSigningSecret: secret, FieldBotToken: "xoxb-1"}, nil
		}},
		Webhook: &app.WebhookRequest{Method: http.MethodPost, Headers: hdr, Body: body},
	}
}

func eventBody(t *testing.T, event map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type":     "event_callback",
		"event_id": "Ev01",
		"team_id":  "T1",
		"event":    event,
	})
	require.NoError(t, err)
	return body
}

func TestNewMessage(t *testing.T) {
	body := eventBody(t, map[string]any{
		"type": "message", "user": "U1", "text": "invoice paid", "channel": "C1", "ts": "1700000000.000100",
	})
	c := webhookContext(body, signedHeaders(body, time.Now()), map[string]any{"channel": "C1"})
	require.NoError(t, newMessage(context.Background(), c))

	items := c.TriggerItems()
	require.Len(t, items, 1)
	assert.Equal(t, "Ev01", items[0].Meta.InternalID)
	out := items[0].Output()
	assert.Equal(t, "invoice paid", out["text"])
	assert.Equal(t, "1700000000.000100", out["threadTs"])
}

func TestNewMessageIgnoresOtherEvents(t *testing.T) {
	cases := map[string]map[string]any{
		"other channel": {"type": "message", "channel": "C2", "ts": "1"},
		"bot echo":      {"type": "message", "channel": "C1", "bot_id": "B1", "ts": "1"},
		"edit":          {"type": "message", "channel": "C1", "subtype": "message_changed", "ts": "1"},
		"reaction":      {"type": "reaction_added", "channel": "C1"},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			body := eventBody(t, ev)
			c := webhookContext(body, signedHeaders(body, time.Now()), map[string]any{"channel": "C1"})
			require.NoError(t, newMessage(context.Background(), c))
			assert.Empty(t, c.TriggerItems())
		})
	}
}

func TestNewMessageRejectsBadSignature(t *testing.T) {
	body := eventBody(t, map[string]any{"type": "message", "channel": "C1", "ts": "1"})
	hdr := signedHeaders(body, time.Now())
	hdr.Set("X-Slack-Signature", "v0=forged")
	c := webhookContext(body, hdr, nil)
	assert.ErrorIs(t, newMessage(context.Background(), c), ErrInvalidSignature)
	assert.Empty(t, c.TriggerItems())
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["channel"] == "C404" {
			_, _ = io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
			return
		}
		assert.Equal(t, "1.2", body["thread_ts"])
		_, _ = io.WriteString(w, `{"ok":true,"ts":"1.3","channel":"C1"}`)
	}))
	defer srv.Close()
	client := httpclient.NewFactory(0).New(httpclient.Binding{AppKey: "slack", BaseURL: srv.URL})

	c := &app.Context{HTTP: client, Params: map[string]any{"channel": "C1", "text": "done", "threadTs": "1.2"}}
	require.NoError(t, sendMessage(context.Background(), c))
	out, _ := c.ActionItem()
	assert.Equal(t, "1.3", out["ts"])

	c = &app.Context{HTTP: client, Params: map[string]any{"channel": "C404", "text": "x"}}
	assert.ErrorContains(t, sendMessage(context.Background(), c), "channel_not_found")
}
