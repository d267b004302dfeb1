package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
)

// Mode tells the context which output rules apply.
type Mode int

const (
	ModeAction Mode = iota
	ModePoll
	ModeWebhook
	// ModeHook is used while registering or removing a provider webhook.
	ModeHook
)

// ItemMeta identifies a trigger item for deduplication.
type ItemMeta struct {
	InternalID string `json:"internalId"`
}

type TriggerItem struct {
	Raw  any      `json:"raw"`
	Meta ItemMeta `json:"meta"`
}

// WebhookRequest is the inbound request a webhook trigger interprets.
type WebhookRequest struct {
	Method  string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// Payload returns the body decoded as JSON, or as a string.
func (w *WebhookRequest) Payload() any {
	return (&httpclient.Response{Body: w.Body}).Data()
}

// AuthHandle reads and writes the connection's credentials.
type AuthHandle struct {
	ConnectionID *uuid.UUID
	Load         func(ctx context.Context) (credentials.Data, error)
	Store        func(ctx context.Context, updates credentials.Data) error
}

var ErrNoConnection = errors.New("step has no connection")

func (h *AuthHandle) Data(ctx context.Context) (credentials.Data, error) {
	if h == nil || h.Load == nil {
		return nil, ErrNoConnection
	}
	return h.Load(ctx)
}

func (h *AuthHandle) Set(ctx context.Context, updates credentials.Data) error {
	if h == nil || h.Store == nil {
		return ErrNoConnection
	}
	return h.Store(ctx, updates)
}

// Context is built fresh for every handler call.
type Context struct {
	Mode      Mode
	App       *App
	Flow      *model.Flow
	Step      *model.Step
	Execution *model.Execution
	// Params holds the resolved step parameters.
	Params      map[string]any
	HTTP        *httpclient.Client
	Auth        *AuthHandle
	Webhook     *WebhookRequest
	CallbackURL string

	mu         sync.Mutex
	output     map[string]any
	outputSet  bool
	items      []TriggerItem
	stopped    bool
	stopReason string
}

func (c *Context) Param(key string) any {
	return c.Params[key]
}

// ParamString returns the parameter formatted as a string.
func (c *Context) ParamString(key string) string {
	return utils.Stringify(c.Params[key])
}

// SetActionItem records the action's output, replacing any earlier value.
func (c *Context) SetActionItem(raw map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = raw
	c.outputSet = true
}

// ActionItem returns the recorded action output.
func (c *Context) ActionItem() (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output, c.outputSet
}

// PushTriggerItem appends an item for poll triggers. A webhook trigger emits
// at most one item, so a later push replaces the earlier one.
func (c *Context) PushTriggerItem(item TriggerItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Mode == ModeWebhook {
		c.items = []TriggerItem{item}
		return
	}
	c.items = append(c.items, item)
}

func (c *Context) TriggerItems() []TriggerItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TriggerItem(nil), c.items...)
}

// Stop ends the execution after this step without failing it.
func (c *Context) Stop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.stopReason = reason
}

func (c *Context) Stopped() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped, c.stopReason
}

// Output returns the item as a step output map. Non-object payloads are
// wrapped under "value".
func (i TriggerItem) Output() map[string]any {
	if m, ok := i.Raw.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": i.Raw}
}
