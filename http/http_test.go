package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/dispatch"
	"github.com/awantoch/flowhook/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type states map[uuid.UUID]dispatch.State

func (s states) State(id uuid.UUID) dispatch.State {
	if st, ok := s[id]; ok {
		return st
	}
	return dispatch.StateInactive
}

func newTestServer(t *testing.T, st states) (*Server, chan dispatch.Delivery) {
	t.Helper()
	bus := event.NewInProcEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
	})
	got := make(chan dispatch.Delivery, 1)
	require.NoError(t, bus.Subscribe(ctx, constants.TopicWebhookDelivered, func(ctx context.Context, msg *event.Message) error {
		var d dispatch.Delivery
		if err := msg.Decode(&d); err != nil {
			return err
		}
		got <- d
		return nil
	}))
	return NewServer(":0", st, bus), got
}

func TestWebhookAccepted(t *testing.T) {
	flowID := uuid.New()
	s, got := newTestServer(t, states{flowID: dispatch.StateWebhookRegistered})

	req := httptest.NewRequest(http.MethodPut, "/webhooks/flows/"+flowID.String()+"?source=test", strings.NewReader(`{"id":"evt-1"}`))
	req.Header.Set("X-Signature", "abc")
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRequestID))
	select {
	case d := <-got:
		assert.Equal(t, flowID, d.FlowID)
		assert.Equal(t, http.MethodPut, d.Method)
		assert.Equal(t, `{"id":"evt-1"}`, string(d.Body))
		assert.Equal(t, "test", d.Query.Get("source"))
		assert.Equal(t, "abc", d.Headers.Get("X-Signature"))
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not published")
	}
}

func TestWebhookRejected(t *testing.T) {
	polling := uuid.New()
	s, _ := newTestServer(t, states{polling: dispatch.StatePolling})

	for name, path := range map[string]string{
		"bad id":   "/webhooks/flows/not-a-uuid",
		"inactive": "/webhooks/flows/" + uuid.NewString(),
		"polling":  "/webhooks/flows/" + polling.String(),
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
			assert.GreaterOrEqual(t, w.Code, 400)
			assert.Less(t, w.Code, 500)
		})
	}
}

func TestWebhookPayloadTooLarge(t *testing.T) {
	flowID := uuid.New()
	s, _ := newTestServer(t, states{flowID: dispatch.StateWebhookRegistered})
	body := strings.Repeat("x", MaxWebhookBody+1)
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/flows/"+flowID.String(), strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, states{})

	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, constants.RouteHealth, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, constants.RouteMetrics, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
