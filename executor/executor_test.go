package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/resolver"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConns struct {
	store *credentials.MemoryStore
}

func (f *fakeConns) Client(ctx context.Context, appKey string, id *uuid.UUID) (*httpclient.Client, error) {
	if id != nil {
		if _, err := f.store.Get(ctx, *id); err != nil {
			return nil, err
		}
	}
	return httpclient.NewFactory(time.Second).New(httpclient.Binding{AppKey: appKey, BaseURL: "http://127.0.0.1:1"}), nil
}

func (f *fakeConns) Credentials(ctx context.Context, id uuid.UUID) (credentials.Data, error) {
	return f.store.Get(ctx, id)
}

func (f *fakeConns) SetCredentials(ctx context.Context, id uuid.UUID, updates credentials.Data) error {
	return f.store.Set(ctx, id, updates)
}

func newExecutor(t *testing.T, timeout time.Duration, actions ...*app.Action) (*Executor, *fakeConns) {
	t.Helper()
	trigger := &app.Trigger{
		Key: "items", Type: app.TriggerPoll, Dedup: app.NumericIDCursor{Path: "id"},
		Handler: func(ctx context.Context, c *app.Context) error {
			c.PushTriggerItem(app.TriggerItem{Raw: map[string]any{"id": 1}})
			c.PushTriggerItem(app.TriggerItem{Raw: map[string]any{"id": 2}})
			return nil
		},
	}
	reg, err := app.NewRegistry(&app.App{Key: "test", Triggers: []*app.Trigger{trigger}, Actions: actions})
	require.NoError(t, err)
	conns := &fakeConns{store: credentials.NewMemoryStore()}
	return New(reg, conns, timeout), conns
}

func action(key string, args []app.Argument, fn app.RunFunc) *app.Action {
	return &app.Action{Key: key, Arguments: args, Handler: fn}
}

func actionStep(key string, params map[string]any) *model.Step {
	return &model.Step{ID: "s2", Position: 2, Type: model.StepAction, AppKey: "test", Key: key, Parameters: params}
}

func TestRunAction(t *testing.T) {
	echo := action("echo", []app.Argument{{Key: "msg", Required: true, Variables: true}}, func(ctx context.Context, c *app.Context) error {
		c.SetActionItem(map[string]any{"echo": c.ParamString("msg")})
		return nil
	})
	ex, _ := newExecutor(t, time.Second, echo)
	scope := resolver.NewScope()
	require.NoError(t, scope.Set("s1", map[string]any{"name": "Ada"}))

	res := ex.Run(context.Background(), Invocation{Step: actionStep("echo", map[string]any{"msg": "hi {{s1.name}}"}), Scope: scope})
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]any{"msg": "hi Ada"}, res.Input)
	assert.Equal(t, map[string]any{"echo": "hi Ada"}, res.Output)
}

func TestRunWithoutOutputYieldsEmptyMap(t *testing.T) {
	quiet := action("quiet", nil, func(context.Context, *app.Context) error { return nil })
	ex, _ := newExecutor(t, time.Second, quiet)
	res := ex.Run(context.Background(), Invocation{Step: actionStep("quiet", nil)})
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]any{}, res.Output)
}

func TestRunUnknownActionIsMalformed(t *testing.T) {
	ex, _ := newExecutor(t, time.Second)
	res := ex.Run(context.Background(), Invocation{Step: actionStep("ghost", nil)})
	var handlerErr *errs.HandlerError
	require.True(t, errors.As(res.Err, &handlerErr))
	assert.True(t, handlerErr.Malformed)
	assert.Equal(t, errs.Fatal, errs.Classify(res.Err))
}

func TestRunRecoversPanics(t *testing.T) {
	boom := action("boom", nil, func(context.Context, *app.Context) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})
	ex, _ := newExecutor(t, time.Second, boom)
	res := ex.Run(context.Background(), Invocation{Step: actionStep("boom", nil)})
	var handlerErr *errs.HandlerError
	require.True(t, errors.As(res.Err, &handlerErr))
	assert.NotNil(t, handlerErr.Panic)
	assert.NotEmpty(t, handlerErr.Stack)
	assert.Equal(t, errs.Fatal, errs.Classify(res.Err))
}

func TestRunTimeout(t *testing.T) {
	blocking := action("block", nil, func(ctx context.Context, c *app.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	stubborn := action("stubborn", nil, func(ctx context.Context, c *app.Context) error {
		time.Sleep(2 * time.Second)
		return nil
	})
	ex, _ := newExecutor(t, 50*time.Millisecond, blocking, stubborn)

	for _, key := range []string{"block", "stubborn"} {
		start := time.Now()
		res := ex.Run(context.Background(), Invocation{Step: actionStep(key, nil)})
		var timeoutErr *errs.TimeoutError
		require.True(t, errors.As(res.Err, &timeoutErr), key)
		assert.Equal(t, errs.Retryable, errs.Classify(res.Err))
		assert.Less(t, time.Since(start), time.Second, key)
	}
}

func TestRunParentCancellation(t *testing.T) {
	blocking := action("block", nil, func(ctx context.Context, c *app.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ex, _ := newExecutor(t, time.Minute, blocking)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := ex.Run(ctx, Invocation{Step: actionStep("block", nil)})
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRunResolutionErrors(t *testing.T) {
	called := false
	needs := action("needs", []app.Argument{{Key: "to", Required: true, Variables: true}}, func(context.Context, *app.Context) error {
		called = true
		return nil
	})
	ex, _ := newExecutor(t, time.Second, needs)

	res := ex.Run(context.Background(), Invocation{Step: actionStep("needs", map[string]any{"to": "{{s9.email}}"})})
	var unresolved *errs.UnresolvedVariableError
	assert.True(t, errors.As(res.Err, &unresolved))

	res = ex.Run(context.Background(), Invocation{Step: actionStep("needs", nil)})
	var missing *errs.MissingArgumentError
	assert.True(t, errors.As(res.Err, &missing))
	assert.False(t, called)
}

func TestRunClassifiesHandlerErrors(t *testing.T) {
	plain := action("plain", nil, func(context.Context, *app.Context) error { return errors.New("bad input") })
	upstream := action("upstream", nil, func(context.Context, *app.Context) error {
		return fmt.Errorf("create folder: %w", &errs.HTTPError{Status: 503})
	})
	reauth := action("reauth", nil, func(context.Context, *app.Context) error {
		return errs.NewAuthError(errs.ReauthenticationRequired, "test", &errs.HTTPError{Status: 401})
	})
	ex, _ := newExecutor(t, time.Second, plain, upstream, reauth)

	res := ex.Run(context.Background(), Invocation{Step: actionStep("plain", nil)})
	assert.Equal(t, errs.Fatal, errs.Classify(res.Err))
	assert.Equal(t, errs.KindHandler, errs.KindOf(res.Err))

	res = ex.Run(context.Background(), Invocation{Step: actionStep("upstream", nil)})
	assert.Equal(t, errs.Retryable, errs.Classify(res.Err))

	res = ex.Run(context.Background(), Invocation{Step: actionStep("reauth", nil)})
	assert.True(t, errs.IsReauthenticationRequired(res.Err))
}

func TestRunPollTrigger(t *testing.T) {
	ex, _ := newExecutor(t, time.Second)
	step := &model.Step{ID: "s1", Position: 1, Type: model.StepTrigger, AppKey: "test", Key: "items"}
	res := ex.Run(context.Background(), Invocation{Step: step, Mode: app.ModePoll})
	require.NoError(t, res.Err)
	assert.Len(t, res.Items, 2)
}

func TestRunStop(t *testing.T) {
	filter := action("filter", nil, func(ctx context.Context, c *app.Context) error {
		c.Stop("no match")
		return nil
	})
	ex, _ := newExecutor(t, time.Second, filter)
	res := ex.Run(context.Background(), Invocation{Step: actionStep("filter", nil)})
	require.NoError(t, res.Err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "no match", res.StopReason)
}

func TestRunAuthHandle(t *testing.T) {
	rotate := action("rotate", nil, func(ctx context.Context, c *app.Context) error {
		data, err := c.Auth.Data(ctx)
		if err != nil {
			return err
		}
		return c.Auth.Set(ctx, credentials.Data{"counter": data.String("counter") + "1"})
	})
	ex, conns := newExecutor(t, time.Second, rotate)
	id := uuid.New()
	require.NoError(t, conns.store.Set(context.Background(), id, credentials.Data{"counter": "0"}))

	step := actionStep("rotate", nil)
	step.ConnectionID = &id
	res := ex.Run(context.Background(), Invocation{Step: step})
	require.NoError(t, res.Err)
	data, _ := conns.store.Get(context.Background(), id)
	assert.Equal(t, "01", data.String("counter"))

	missing := uuid.New()
	step.ConnectionID = &missing
	res = ex.Run(context.Background(), Invocation{Step: step})
	assert.True(t, errs.IsReauthenticationRequired(res.Err))
}
