package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/model"
)

var (
	ErrUnknownApp     = errors.New("unknown app")
	ErrUnknownTrigger = errors.New("unknown trigger")
	ErrUnknownAction  = errors.New("unknown action")
)

// Registry holds the installed apps; lookups happen at dispatch time.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*App
}

var _ auth.Apps = (*Registry)(nil)

func NewRegistry(apps ...*App) (*Registry, error) {
	r := &Registry{apps: make(map[string]*App)}
	for _, a := range apps {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an app after checking that it is well formed.
func (r *Registry) Register(a *App) error {
	if a == nil || a.Key == "" {
		return errors.New("app must have a key")
	}
	for _, t := range a.Triggers {
		if t.Handler == nil {
			return fmt.Errorf("app %s: trigger %s has no handler", a.Key, t.Key)
		}
		switch t.Type {
		case TriggerPoll:
			if t.Dedup == nil {
				return fmt.Errorf("app %s: poll trigger %s has no dedup policy", a.Key, t.Key)
			}
		case TriggerWebhook:
		default:
			return fmt.Errorf("app %s: trigger %s has unknown type %q", a.Key, t.Key, t.Type)
		}
	}
	for _, act := range a.Actions {
		if act.Handler == nil {
			return fmt.Errorf("app %s: action %s has no handler", a.Key, act.Key)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.apps[a.Key]; dup {
		return fmt.Errorf("app %s registered twice", a.Key)
	}
	r.apps[a.Key] = a
	return nil
}

func (r *Registry) App(key string) (*App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, key)
	}
	return a, nil
}

// Apps returns the registered apps sorted by key.
func (r *Registry) Apps() []*App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*App, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) Trigger(appKey, key string) (*Trigger, error) {
	a, err := r.App(appKey)
	if err != nil {
		return nil, err
	}
	t, ok := a.Trigger(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownTrigger, appKey, key)
	}
	return t, nil
}

func (r *Registry) Action(appKey, key string) (*Action, error) {
	a, err := r.App(appKey)
	if err != nil {
		return nil, err
	}
	act, ok := a.Action(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAction, appKey, key)
	}
	return act, nil
}

// Runnable looks up the trigger or action a step points at.
func (r *Registry) Runnable(step *model.Step) (Runnable, error) {
	if step.Type == model.StepTrigger {
		return r.Trigger(step.AppKey, step.Key)
	}
	return r.Action(step.AppKey, step.Key)
}

// AuthFor exposes an app's strategy to the auth manager.
func (r *Registry) AuthFor(appKey string) (*auth.AppAuth, error) {
	a, err := r.App(appKey)
	if err != nil {
		return nil, err
	}
	if a.Auth == nil {
		return &auth.AppAuth{AppKey: a.Key, Strategy: &auth.Custom{}, BaseURL: a.APIBaseURL}, nil
	}
	return &auth.AppAuth{AppKey: a.Key, Strategy: a.Auth, BaseURL: a.APIBaseURL}, nil
}
