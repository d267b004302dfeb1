package app

import (
	"context"
	"errors"
	"testing"

	"github.com/awantoch/flowhook/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Context) error { return nil }

func sampleApp() *App {
	return &App{
		Key:     "sample",
		BaseURL: "https://api.example.com",
		Triggers: []*Trigger{
			{Key: "newItems", Type: TriggerPoll, Dedup: NumericIDCursor{Path: "id"}, Handler: noop},
			{Key: "catch", Type: TriggerWebhook, Handler: noop},
		},
		Actions: []*Action{{Key: "doThing", Handler: noop, Arguments: []Argument{{Key: "name", Required: true}}}},
	}
}

func TestRegistryLookups(t *testing.T) {
	r, err := NewRegistry(sampleApp())
	require.NoError(t, err)

	run, err := r.Runnable(&model.Step{Type: model.StepTrigger, AppKey: "sample", Key: "newItems"})
	require.NoError(t, err)
	assert.IsType(t, &Trigger{}, run)

	run, err = r.Runnable(&model.Step{Type: model.StepAction, AppKey: "sample", Key: "doThing"})
	require.NoError(t, err)
	assert.Len(t, run.Schema(), 1)

	_, err = r.Runnable(&model.Step{Type: model.StepAction, AppKey: "sample", Key: "nope"})
	assert.True(t, errors.Is(err, ErrUnknownAction))
	_, err = r.Trigger("missing", "x")
	assert.True(t, errors.Is(err, ErrUnknownApp))

	a, err := r.AuthFor("sample")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", a.BaseURL(nil))
}

func TestRegistryRejectsMalformedApps(t *testing.T) {
	_, err := NewRegistry(sampleApp(), sampleApp())
	assert.Error(t, err, "duplicate key")

	bad := sampleApp()
	bad.Triggers[0].Dedup = nil
	_, err = NewRegistry(bad)
	assert.ErrorContains(t, err, "dedup")

	bad = sampleApp()
	bad.Actions[0].Handler = nil
	_, err = NewRegistry(bad)
	assert.ErrorContains(t, err, "no handler")
}

func TestContextOutputSinks(t *testing.T) {
	c := &Context{Mode: ModeAction}
	_, ok := c.ActionItem()
	assert.False(t, ok)
	c.SetActionItem(map[string]any{"a": 1})
	c.SetActionItem(map[string]any{"b": 2})
	out, ok := c.ActionItem()
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"b": 2}, out)

	poll := &Context{Mode: ModePoll}
	poll.PushTriggerItem(TriggerItem{Raw: 1})
	poll.PushTriggerItem(TriggerItem{Raw: 2})
	assert.Len(t, poll.TriggerItems(), 2)

	hook := &Context{Mode: ModeWebhook}
	hook.PushTriggerItem(TriggerItem{Raw: 1})
	hook.PushTriggerItem(TriggerItem{Raw: 2})
	items := hook.TriggerItems()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Raw)

	c.Stop("no match")
	stopped, reason := c.Stopped()
	assert.True(t, stopped)
	assert.Equal(t, "no match", reason)
}

func TestContextParams(t *testing.T) {
	c := &Context{Params: map[string]any{"n": float64(3), "s": "x"}}
	assert.Equal(t, "3", c.ParamString("n"))
	assert.Equal(t, "x", c.Param("s"))
	assert.Equal(t, "", c.ParamString("missing"))

	_, err := c.Auth.Data(context.Background())
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestWebhookPayload(t *testing.T) {
	w := &WebhookRequest{Body: []byte(`{"id":1}`)}
	assert.Equal(t, map[string]any{"id": float64(1)}, w.Payload())
	w = &WebhookRequest{Body: []byte("plain")}
	assert.Equal(t, "plain", w.Payload())
}

func TestTimestampCursor(t *testing.T) {
	p := TimestampCursor{Path: "attributes.created_at"}
	a, err := p.Cursor(TriggerItem{Raw: map[string]any{"attributes": map[string]any{"created_at": "2024-01-02T10:00:00Z"}}})
	require.NoError(t, err)
	b, err := p.Cursor(TriggerItem{Raw: map[string]any{"attributes": map[string]any{"created_at": "2024-01-02T11:00:00+01:00"}}})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Compare(a, b), "same instant in different zones")

	c, err := TimestampCursor{Path: "ts"}.Cursor(TriggerItem{Raw: map[string]any{"ts": 1704189600.5}})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Compare(c, a))

	_, err = p.Cursor(TriggerItem{Raw: map[string]any{}})
	assert.Error(t, err)
	_, err = TimestampCursor{Path: "ts"}.Cursor(TriggerItem{Raw: map[string]any{"ts": "yesterday"}})
	assert.Error(t, err)
}

func TestNumericIDCursor(t *testing.T) {
	p := NumericIDCursor{Path: "items.0.id"}
	c, err := p.Cursor(TriggerItem{Raw: map[string]any{"items": []any{map[string]any{"id": "42"}}}})
	require.NoError(t, err)
	assert.Equal(t, "42", c)
	assert.Equal(t, -1, p.Compare("9", "10"))
	assert.Equal(t, 1, p.Compare("100", "99"))

	_, err = p.Cursor(TriggerItem{Raw: map[string]any{"items": []any{map[string]any{"id": "abc"}}}})
	assert.Error(t, err)
}
