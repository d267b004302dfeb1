// Package httpclient builds per-connection HTTP clients that inject auth and
// recover from an expired token by refreshing once and replaying the request.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Authorizer adds auth to an outgoing request from the connection's material.
type Authorizer interface {
	Authorize(req *http.Request, data credentials.Data) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(req *http.Request, data credentials.Data) error

func (f AuthorizerFunc) Authorize(req *http.Request, data credentials.Data) error {
	return f(req, data)
}

// Refresher obtains and persists new material after a 401. staleFingerprint is
// the fingerprint of the material the rejected request was sent with.
type Refresher interface {
	Refresh(ctx context.Context, staleFingerprint string) (credentials.Data, error)
}

// CredentialSource loads the current material of the bound connection.
type CredentialSource func(ctx context.Context) (credentials.Data, error)

// Binding ties a client to an app and, optionally, a connection.
type Binding struct {
	AppKey      string
	BaseURL     string
	Header      http.Header
	Credentials CredentialSource
	Authorizer  Authorizer
	Refresher   Refresher
}

type Factory struct {
	Transport http.RoundTripper
	Timeout   time.Duration
}

// NewFactory returns a factory whose clients are traced with otelhttp.
func NewFactory(timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &Factory{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// HTTPClient returns a plain client sharing the factory transport.
func (f *Factory) HTTPClient() *http.Client {
	return &http.Client{Transport: f.Transport, Timeout: f.Timeout}
}

func (f *Factory) New(b Binding) *Client {
	return &Client{binding: b, http: f.HTTPClient()}
}

type Client struct {
	binding Binding
	http    *http.Client
}

type Request struct {
	Method string
	// Path is joined to the base URL unless it is absolute.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is sent as is for []byte, string and url.Values (form encoded);
	// anything else is JSON encoded.
	Body any
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Data returns the decoded JSON body, or the body as a string when it is not JSON.
func (r *Response) Data() any {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return string(r.Body)
	}
	return v
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Do sends r. A 401 triggers one refresh and one replay; a second 401 is
// reported as reauthentication required.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	target, err := c.resolveURL(r.Path, r.Query)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	refreshed := false
	for {
		var data credentials.Data
		if c.binding.Credentials != nil {
			if data, err = c.binding.Credentials(ctx); err != nil {
				return nil, fmt.Errorf("load credentials: %w", err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if body == nil {
			req.Body = http.NoBody
		}
		for k, vs := range c.binding.Header {
			req.Header[k] = append([]string(nil), vs...)
		}
		for k, vs := range r.Header {
			req.Header[k] = append([]string(nil), vs...)
		}
		if contentType != "" && req.Header.Get(constants.HeaderContentType) == "" {
			req.Header.Set(constants.HeaderContentType, contentType)
		}
		if c.binding.Authorizer != nil && data != nil {
			if err := c.binding.Authorizer.Authorize(req, data); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(req)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized && c.binding.Refresher != nil {
			httpErr := &errs.HTTPError{Status: resp.Status, Method: method, URL: target, Body: resp.Body}
			if refreshed {
				return nil, errs.NewAuthError(errs.ReauthenticationRequired, c.binding.AppKey, httpErr)
			}
			refreshed = true
			utils.DebugCtx(ctx, "access token rejected, refreshing", "app", c.binding.AppKey, "url", target)
			if _, err := c.binding.Refresher.Refresh(ctx, data.Fingerprint()); err != nil {
				if errs.IsReauthenticationRequired(err) {
					return nil, errs.NewAuthError(errs.ReauthenticationRequired, c.binding.AppKey, httpErr)
				}
				return nil, err
			}
			continue
		}
		if resp.Status < 200 || resp.Status >= 300 {
			return nil, &errs.HTTPError{Status: resp.Status, Method: method, URL: target, Body: resp.Body}
		}
		return resp, nil
	}
}

func (c *Client) send(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errs.NetworkError{Op: req.Method + " " + req.URL.Host, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errs.NetworkError{Op: "read body", Err: err}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func (c *Client) resolveURL(path string, query url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if c.binding.BaseURL == "" {
			return "", errors.New("relative request path without a base URL")
		}
		raw = strings.TrimRight(c.binding.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), constants.ContentTypeText, nil
	case url.Values:
		return []byte(b.Encode()), constants.ContentTypeForm, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		return data, "", err
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, constants.ContentTypeJSON, nil
	}
}
