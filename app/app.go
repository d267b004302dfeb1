// Package app defines the contract every integration plugin implements:
// an App with its auth strategy, triggers and actions.
package app

import (
	"context"
	"time"

	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/credentials"
)

type ArgumentType string

const (
	ArgString   ArgumentType = "string"
	ArgNumber   ArgumentType = "number"
	ArgBoolean  ArgumentType = "boolean"
	ArgDropdown ArgumentType = "dropdown"
	ArgObject   ArgumentType = "object"
	ArgList     ArgumentType = "list"
)

type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Argument describes one step parameter. Variables controls whether
// {{stepId.path}} references inside the value are substituted.
type Argument struct {
	Key         string       `json:"key"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
	Type        ArgumentType `json:"type"`
	Required    bool         `json:"required"`
	Variables   bool         `json:"variables"`
	Default     any          `json:"default,omitempty"`
	Options     []Option     `json:"options,omitempty"`
}

// Field is a connection input the user supplies.
type Field struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
	Default  string `json:"default,omitempty"`
}

type RunFunc func(ctx context.Context, c *Context) error

// Runnable is the capability shared by triggers and actions.
type Runnable interface {
	Schema() []Argument
	Run(ctx context.Context, c *Context) error
}

type TriggerType string

const (
	TriggerPoll    TriggerType = "poll"
	TriggerWebhook TriggerType = "webhook"
)

type Trigger struct {
	Key         string
	Name        string
	Description string
	Type        TriggerType
	// Interval between polls; zero uses the runtime default.
	Interval  time.Duration
	Arguments []Argument
	// Dedup orders and deduplicates poll items. Required for poll triggers.
	Dedup   DedupPolicy
	Handler RunFunc
	// RegisterHook subscribes c.CallbackURL with the provider and returns the
	// provider's hook ID. Nil means the provider is configured out of band.
	RegisterHook   func(ctx context.Context, c *Context) (string, error)
	UnregisterHook func(ctx context.Context, c *Context, hookID string) error
}

func (t *Trigger) Schema() []Argument { return t.Arguments }

func (t *Trigger) Run(ctx context.Context, c *Context) error { return t.Handler(ctx, c) }

type Action struct {
	Key         string
	Name        string
	Description string
	Arguments   []Argument
	Handler     RunFunc
}

func (a *Action) Schema() []Argument { return a.Arguments }

func (a *Action) Run(ctx context.Context, c *Context) error { return a.Handler(ctx, c) }

type App struct {
	Key     string
	Name    string
	BaseURL string
	// BaseURLFunc overrides BaseURL for self-hosted services.
	BaseURLFunc func(data credentials.Data) string
	AuthFields  []Field
	// Auth is nil for apps that need no connection.
	Auth     auth.Strategy
	Triggers []*Trigger
	Actions  []*Action
}

// APIBaseURL returns the API root for a connection's material.
func (a *App) APIBaseURL(data credentials.Data) string {
	if a.BaseURLFunc != nil {
		return a.BaseURLFunc(data)
	}
	return a.BaseURL
}

func (a *App) Trigger(key string) (*Trigger, bool) {
	for _, t := range a.Triggers {
		if t.Key == key {
			return t, true
		}
	}
	return nil, false
}

func (a *App) Action(key string) (*Action, bool) {
	for _, act := range a.Actions {
		if act.Key == key {
			return act, true
		}
	}
	return nil, false
}
