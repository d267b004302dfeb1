package httprequest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(params map[string]any) *app.Context {
	return &app.Context{
		Params: params,
		HTTP:   httpclient.NewFactory(0).New(httpclient.Binding{AppKey: "http-request"}),
	}
}

func TestCustomRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.Equal(t, "7", r.URL.Query().Get("page"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		w.Header().Set("X-Result", "stored")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":99}`)
	}))
	defer srv.Close()

	c := newContext(map[string]any{
		"method":  "put",
		"url":     srv.URL + "/records",
		"headers": map[string]any{"X-Token": "secret"},
		"query":   map[string]any{"page": float64(7)},
		"data":    map[string]any{"status": "ok"},
	})
	require.NoError(t, customRequest(context.Background(), c))
	out, ok := c.ActionItem()
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, out["status"])
	assert.Equal(t, "stored", out["headers"].(map[string]any)["X-Result"])
	assert.Equal(t, float64(99), out["data"].(map[string]any)["id"])
}

func TestCustomRequestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := customRequest(context.Background(), newContext(map[string]any{"method": "GET", "url": srv.URL}))
	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
	assert.True(t, errs.IsRetryable(err))
}

func TestCustomRequestRejectsRelativeURL(t *testing.T) {
	assert.Error(t, customRequest(context.Background(), newContext(map[string]any{"url": "/relative"})))
}
