package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/blob"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/event"
	"github.com/awantoch/flowhook/executor"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConns struct {
	store *credentials.MemoryStore
}

func (f *fakeConns) Client(ctx context.Context, appKey string, id *uuid.UUID) (*httpclient.Client, error) {
	return httpclient.NewFactory(time.Second).New(httpclient.Binding{AppKey: appKey}), nil
}

func (f *fakeConns) Credentials(ctx context.Context, id uuid.UUID) (credentials.Data, error) {
	return f.store.Get(ctx, id)
}

func (f *fakeConns) SetCredentials(ctx context.Context, id uuid.UUID, updates credentials.Data) error {
	return f.store.Set(ctx, id, updates)
}

type marker struct {
	mu     sync.Mutex
	marked []uuid.UUID
}

func (m *marker) MarkReconnectRequired(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, id)
	return nil
}

type harness struct {
	runner *Runner
	store  *storage.MemoryStorage
	marker *marker
}

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func newHarness(t *testing.T, opts Options, actions ...*app.Action) *harness {
	t.Helper()
	trigger := &app.Trigger{
		Key: "items", Type: app.TriggerPoll, Dedup: app.NumericIDCursor{Path: "id"},
		Handler: func(ctx context.Context, c *app.Context) error {
			c.PushTriggerItem(app.TriggerItem{Raw: map[string]any{"id": 1, "name": "older"}})
			c.PushTriggerItem(app.TriggerItem{Raw: map[string]any{"id": 2, "name": "newest"}})
			return nil
		},
	}
	reg, err := app.NewRegistry(&app.App{Key: "test", Triggers: []*app.Trigger{trigger}, Actions: actions})
	require.NoError(t, err)
	ex := executor.New(reg, &fakeConns{store: credentials.NewMemoryStore()}, time.Second)
	store := storage.NewMemoryStorage()
	m := &marker{}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = fastRetry
	}
	opts.Reconnect = m
	return &harness{runner: NewRunner(store, ex, opts), store: store, marker: m}
}

func echoAction() *app.Action {
	return &app.Action{
		Key:       "echo",
		Arguments: []app.Argument{{Key: "value", Variables: true}},
		Handler: func(ctx context.Context, c *app.Context) error {
			c.SetActionItem(map[string]any{"value": c.Param("value")})
			return nil
		},
	}
}

func failingAction(key string, err error) *app.Action {
	return &app.Action{Key: key, Handler: func(context.Context, *app.Context) error { return err }}
}

func testFlow(actions ...model.Step) *model.Flow {
	id := uuid.New()
	steps := []model.Step{{ID: "trigger", FlowID: id, Position: 0, Type: model.StepTrigger, AppKey: "test", Key: "items"}}
	for i, s := range actions {
		s.FlowID = id
		s.Position = i + 1
		s.Type = model.StepAction
		s.AppKey = "test"
		steps = append(steps, s)
	}
	return &model.Flow{ID: id, Name: "test", Active: true, Steps: steps, CreatedAt: time.Now().UTC()}
}

func (h *harness) execute(t *testing.T, flow *model.Flow, output map[string]any) *model.Execution {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.SaveFlow(ctx, flow))
	exec := model.NewExecution(flow.ID, "item-1", output)
	require.NoError(t, h.store.CreateExecution(ctx, exec))
	_, err := h.runner.Run(ctx, flow, exec)
	require.NoError(t, err)
	got, err := h.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	return got
}

func assertOrdered(t *testing.T, exec *model.Execution) {
	t.Helper()
	for i := 1; i < len(exec.Steps); i++ {
		assert.LessOrEqual(t, exec.Steps[i-1].Position, exec.Steps[i].Position)
	}
}

func TestRunThreadsOutputs(t *testing.T) {
	h := newHarness(t, Options{}, echoAction())
	flow := testFlow(
		model.Step{ID: "first", Key: "echo", Parameters: map[string]any{"value": "{{trigger.id}}"}},
		model.Step{ID: "second", Key: "echo", Parameters: map[string]any{"value": "got {{first.value}}"}},
	)
	exec := h.execute(t, flow, map[string]any{"id": 7})

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	require.Len(t, exec.Steps, 3)
	assertOrdered(t, exec)
	assert.Equal(t, 7, exec.Steps[1].Output["value"])
	assert.Equal(t, "got 7", exec.Steps[2].Output["value"])
	for _, s := range exec.Steps {
		assert.Equal(t, model.StepSuccess, s.Status)
		assert.NotNil(t, s.FinishedAt)
	}
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.FinishedAt)
}

func TestRetryableFailureRecovers(t *testing.T) {
	var calls atomic.Int32
	flaky := &app.Action{Key: "flaky", Handler: func(ctx context.Context, c *app.Context) error {
		if calls.Add(1) < 3 {
			return &errs.HTTPError{Status: 503, Body: []byte("unavailable")}
		}
		c.SetActionItem(map[string]any{"ok": true})
		return nil
	}}
	h := newHarness(t, Options{}, flaky)
	exec := h.execute(t, testFlow(model.Step{ID: "flaky", Key: "flaky"}), nil)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, 3, exec.Steps[1].Attempts)
	assert.Equal(t, true, exec.Steps[1].Output["ok"])
}

func TestRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	down := &app.Action{Key: "down", Handler: func(context.Context, *app.Context) error {
		calls.Add(1)
		return &errs.HTTPError{Status: 502, Body: []byte("bad gateway")}
	}}
	h := newHarness(t, Options{}, down)
	exec := h.execute(t, testFlow(model.Step{ID: "down", Key: "down"}), nil)

	assert.Equal(t, model.ExecutionFailure, exec.Status)
	assert.EqualValues(t, 3, calls.Load())
	step := exec.Steps[1]
	assert.Equal(t, model.StepFailure, step.Status)
	assert.Equal(t, 3, step.Attempts)
	require.NotNil(t, step.Error)
	assert.Equal(t, string(errs.KindHTTP), step.Error.Kind)
	assert.Equal(t, "bad gateway", step.Error.Raw)
}

func TestFatalFailureHalts(t *testing.T) {
	var calls atomic.Int32
	notFound := &app.Action{Key: "missing", Handler: func(context.Context, *app.Context) error {
		calls.Add(1)
		return &errs.HTTPError{Status: 404}
	}}
	h := newHarness(t, Options{}, echoAction(), notFound)
	flow := testFlow(
		model.Step{ID: "a", Key: "echo", Parameters: map[string]any{"value": "x"}},
		model.Step{ID: "b", Key: "missing"},
		model.Step{ID: "c", Key: "echo", Parameters: map[string]any{"value": "never"}},
	)
	exec := h.execute(t, flow, nil)

	assert.Equal(t, model.ExecutionFailure, exec.Status)
	assert.EqualValues(t, 1, calls.Load(), "fatal errors are not retried")
	require.Len(t, exec.Steps, 3, "no step recorded past the fatal failure")
	assertOrdered(t, exec)
	assert.Equal(t, "b", exec.Steps[2].StepID)
	assert.Contains(t, exec.Error, "step b")
}

func TestUnresolvedVariableFails(t *testing.T) {
	h := newHarness(t, Options{}, echoAction())
	flow := testFlow(model.Step{ID: "a", Key: "echo", Parameters: map[string]any{"value": "{{later.id}}"}})
	exec := h.execute(t, flow, nil)

	assert.Equal(t, model.ExecutionFailure, exec.Status)
	require.NotNil(t, exec.Steps[1].Error)
	assert.Equal(t, string(errs.KindUnresolvedVariable), exec.Steps[1].Error.Kind)
	assert.Equal(t, 1, exec.Steps[1].Attempts)
}

func TestReauthenticationMarksConnection(t *testing.T) {
	reauth := failingAction("call", errs.NewAuthError(errs.ReauthenticationRequired, "test", &errs.HTTPError{Status: 401}))
	h := newHarness(t, Options{}, reauth)
	connID := uuid.New()
	exec := h.execute(t, testFlow(model.Step{ID: "call", Key: "call", ConnectionID: &connID}), nil)

	assert.Equal(t, model.ExecutionFailure, exec.Status)
	assert.True(t, exec.ReconnectRequired)
	assert.Equal(t, string(errs.KindReauthenticationRequired), exec.Steps[1].Error.Kind)
	assert.Equal(t, 1, exec.Steps[1].Attempts)
	assert.Equal(t, []uuid.UUID{connID}, h.marker.marked)
}

func TestFilterStopMarksIncomplete(t *testing.T) {
	filter := &app.Action{Key: "filter", Handler: func(ctx context.Context, c *app.Context) error {
		c.Stop("amount below threshold")
		return nil
	}}
	h := newHarness(t, Options{}, filter, echoAction())
	flow := testFlow(
		model.Step{ID: "filter", Key: "filter"},
		model.Step{ID: "after", Key: "echo", Parameters: map[string]any{"value": "x"}},
	)
	exec := h.execute(t, flow, nil)

	assert.Equal(t, model.ExecutionIncomplete, exec.Status)
	assert.Empty(t, exec.Error)
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, model.StepSuccess, exec.Steps[1].Status)
}

func TestRunRejectsFinishedExecution(t *testing.T) {
	h := newHarness(t, Options{}, echoAction())
	flow := testFlow()
	exec := model.NewExecution(flow.ID, "", nil)
	exec.Status = model.ExecutionSuccess
	_, err := h.runner.Run(context.Background(), flow, exec)
	assert.ErrorIs(t, err, ErrExecutionFinished)
}

func TestReplay(t *testing.T) {
	h := newHarness(t, Options{}, echoAction())
	flow := testFlow(model.Step{ID: "a", Key: "echo", Parameters: map[string]any{"value": "{{trigger.name}}"}})
	orig := h.execute(t, flow, map[string]any{"name": "Ada"})

	replay, err := h.runner.Replay(context.Background(), orig.ID)
	require.NoError(t, err)
	require.NotNil(t, replay.ReplayOf)
	assert.Equal(t, orig.ID, *replay.ReplayOf)
	assert.Equal(t, model.ExecutionSuccess, replay.Status)
	assert.NotEqual(t, orig.ID, replay.ID)

	got, err := h.store.GetExecution(context.Background(), replay.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Steps[1].Output["value"])
}

func TestTestRunStopsAtStep(t *testing.T) {
	h := newHarness(t, Options{}, echoAction())
	flow := testFlow(
		model.Step{ID: "a", Key: "echo", Parameters: map[string]any{"value": "{{trigger.name}}"}},
		model.Step{ID: "b", Key: "echo", Parameters: map[string]any{"value": "b"}},
	)
	ctx := context.Background()

	exec, err := h.runner.TestRun(ctx, flow, "a", nil)
	require.NoError(t, err)
	assert.True(t, exec.TestRun)
	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	got, err := h.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "newest", got.Steps[1].Output["value"], "sample is the newest trigger item")

	_, err = h.runner.TestRun(ctx, flow, "ghost", nil)
	assert.ErrorIs(t, err, ErrUnknownStep)

	_, err = h.store.GetWatermark(ctx, flow.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLifecycleEventsAndArchive(t *testing.T) {
	bus := event.NewInProcEventBus()
	defer bus.Close()
	archive, err := blob.NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	completed := make(chan ExecutionEvent, 1)
	require.NoError(t, bus.Subscribe(ctx, constants.TopicExecutionCompleted, func(ctx context.Context, msg *event.Message) error {
		var ev ExecutionEvent
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		completed <- ev
		return nil
	}))

	h := newHarness(t, Options{Events: bus, Archive: archive}, echoAction())
	exec := h.execute(t, testFlow(model.Step{ID: "a", Key: "echo", Parameters: map[string]any{"value": 1}}), nil)

	select {
	case ev := <-completed:
		assert.Equal(t, exec.ID, ev.ExecutionID)
		assert.Equal(t, model.ExecutionSuccess, ev.Status)
		require.NotEmpty(t, ev.ArchiveURL)
		data, err := archive.Get(ctx, ev.ArchiveURL)
		require.NoError(t, err)
		assert.Contains(t, string(data), exec.ID.String())
	case <-time.After(2 * time.Second):
		t.Fatal("completion event not published")
	}
}

func TestStartSurvivesCancellation(t *testing.T) {
	release := make(chan struct{})
	slow := &app.Action{Key: "slow", Handler: func(ctx context.Context, c *app.Context) error {
		<-release
		return ctx.Err()
	}}
	h := newHarness(t, Options{}, slow)
	flow := testFlow(model.Step{ID: "slow", Key: "slow"})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.store.SaveFlow(ctx, flow))
	exec := model.NewExecution(flow.ID, "", nil)
	require.NoError(t, h.store.CreateExecution(ctx, exec))

	h.runner.Start(ctx, flow, exec)
	cancel()
	close(release)
	h.runner.Wait()

	got, err := h.store.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, got.Status)
}
