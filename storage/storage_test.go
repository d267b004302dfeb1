package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Storage {
	t.Helper()
	out := map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"sqlite": func(t *testing.T) Storage {
			s, err := NewSqliteStorage(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Storage {
			s, err := NewPostgresStorage(context.Background(), dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func testFlow(active bool, connID *uuid.UUID) *model.Flow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	return &model.Flow{
		ID:     id,
		Name:   "new transactions to dropbox",
		UserID: "user-1",
		Active: active,
		Steps: []model.Step{
			{ID: "trigger", FlowID: id, Position: 0, Type: model.StepTrigger, AppKey: "fireflyiii", Key: "newTransactions", ConnectionID: connID},
			{ID: "folder", FlowID: id, Position: 1, Type: model.StepAction, AppKey: "dropbox", Key: "createFolder",
				ConnectionID: connID, Parameters: map[string]any{"folder": "/tx/{{trigger.id}}"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFlows(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		active := testFlow(true, nil)
		inactive := testFlow(false, nil)
		inactive.CreatedAt = active.CreatedAt.Add(time.Second)
		require.NoError(t, s.SaveFlow(ctx, active))
		require.NoError(t, s.SaveFlow(ctx, inactive))

		got, err := s.GetFlow(ctx, active.ID)
		require.NoError(t, err)
		assert.Equal(t, active.Name, got.Name)
		assert.True(t, got.Active)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "/tx/{{trigger.id}}", got.Steps[1].Parameters["folder"])
		assert.True(t, active.CreatedAt.Equal(got.CreatedAt))

		all, err := s.ListFlows(ctx, false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, active.ID, all[0].ID)

		onlyActive, err := s.ListFlows(ctx, true)
		require.NoError(t, err)
		require.Len(t, onlyActive, 1)
		assert.Equal(t, active.ID, onlyActive[0].ID)

		active.Active = false
		require.NoError(t, s.SaveFlow(ctx, active))
		got, err = s.GetFlow(ctx, active.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)

		require.NoError(t, s.DeleteFlow(ctx, active.ID))
		_, err = s.GetFlow(ctx, active.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConnections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		conn := &model.Connection{
			ID: uuid.New(), UserID: "user-1", AppKey: "dropbox", Verified: true,
			VerifiedAt: &now, ScreenName: "Ada", ResourceID: "dbid:1", CreatedAt: now, UpdatedAt: now,
		}
		other := &model.Connection{ID: uuid.New(), UserID: "user-2", AppKey: "fireflyiii", CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.SaveConnection(ctx, conn))
		require.NoError(t, s.SaveConnection(ctx, other))

		got, err := s.GetConnection(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.ScreenName)
		require.NotNil(t, got.VerifiedAt)
		assert.True(t, now.Equal(*got.VerifiedAt))

		mine, err := s.ListConnections(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, conn.ID, mine[0].ID)

		inUse, err := s.ConnectionInUse(ctx, conn.ID)
		require.NoError(t, err)
		assert.False(t, inUse)

		require.NoError(t, s.SaveFlow(ctx, testFlow(false, &conn.ID)))
		inUse, err = s.ConnectionInUse(ctx, conn.ID)
		require.NoError(t, err)
		assert.False(t, inUse, "inactive flows do not hold connections")

		require.NoError(t, s.SaveFlow(ctx, testFlow(true, &conn.ID)))
		inUse, err = s.ConnectionInUse(ctx, conn.ID)
		require.NoError(t, err)
		assert.True(t, inUse)

		require.NoError(t, s.DeleteConnection(ctx, other.ID))
		_, err = s.GetConnection(ctx, other.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExecutionsAndSteps(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		flow := testFlow(true, nil)
		exec := model.NewExecution(flow.ID, "tx-1", map[string]any{"id": "tx-1", "amount": 12.5})
		require.NoError(t, s.CreateExecution(ctx, exec))

		assert.ErrorIs(t, s.CreateExecution(ctx, model.NewExecution(flow.ID, "tx-1", nil)), ErrDuplicateTriggerItem)

		test := model.NewExecution(flow.ID, "tx-1", nil)
		test.TestRun = true
		require.NoError(t, s.CreateExecution(ctx, test), "test runs are exempt from dedup")

		replay := model.NewExecution(flow.ID, "tx-1", nil)
		replay.ReplayOf = &exec.ID
		require.NoError(t, s.CreateExecution(ctx, replay), "replays are exempt from dedup")

		has, err := s.HasTriggerItem(ctx, flow.ID, "tx-1")
		require.NoError(t, err)
		assert.True(t, has)
		has, err = s.HasTriggerItem(ctx, flow.ID, "tx-2")
		require.NoError(t, err)
		assert.False(t, has)

		pending, err := s.ListPendingExecutions(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, exec.ID, pending[0].ID)

		started := time.Now().UTC()
		exec.Status = model.ExecutionRunning
		exec.StartedAt = &started
		require.NoError(t, s.SaveExecution(ctx, exec))

		step := model.NewExecutionStep(exec.ID, &flow.Steps[1])
		step.Input = map[string]any{"folder": "/tx/tx-1"}
		step.Attempts = 1
		require.NoError(t, s.SaveExecutionStep(ctx, step))
		require.NoError(t, step.Finish(model.StepFailure, nil, &model.StepError{Kind: "http", Message: "status 409", Raw: "conflict"}))
		step.Attempts = 2
		require.NoError(t, s.SaveExecutionStep(ctx, step))

		trig := model.NewExecutionStep(exec.ID, &flow.Steps[0])
		require.NoError(t, trig.Finish(model.StepSuccess, map[string]any{"id": "tx-1"}, nil))
		require.NoError(t, s.SaveExecutionStep(ctx, trig))

		exec.Status = model.ExecutionFailure
		exec.Error = "status 409"
		finished := time.Now().UTC()
		exec.FinishedAt = &finished
		require.NoError(t, s.SaveExecution(ctx, exec))

		got, err := s.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionFailure, got.Status)
		assert.Equal(t, 12.5, got.TriggerOutput["amount"])
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.FinishedAt)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "trigger", got.Steps[0].StepID)
		assert.Equal(t, model.StepFailure, got.Steps[1].Status)
		assert.Equal(t, 2, got.Steps[1].Attempts)
		require.NotNil(t, got.Steps[1].Error)
		assert.Equal(t, "http", got.Steps[1].Error.Kind)
		assert.Equal(t, "/tx/tx-1", got.Steps[1].Input["folder"])

		gotReplay, err := s.GetExecution(ctx, replay.ID)
		require.NoError(t, err)
		require.NotNil(t, gotReplay.ReplayOf)
		assert.Equal(t, exec.ID, *gotReplay.ReplayOf)

		_, err = s.GetExecution(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.SaveExecution(ctx, model.NewExecution(flow.ID, "", nil)), ErrNotFound)
	})
}

func TestListExecutionsFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		flowA, flowB := uuid.New(), uuid.New()
		base := time.Now().UTC()
		for i := 0; i < 3; i++ {
			e := model.NewExecution(flowA, "", nil)
			e.CreatedAt = base.Add(time.Duration(i) * time.Second)
			if i == 2 {
				e.Status = model.ExecutionSuccess
			}
			require.NoError(t, s.CreateExecution(ctx, e))
		}
		require.NoError(t, s.CreateExecution(ctx, model.NewExecution(flowB, "", nil)))

		all, err := s.ListExecutions(ctx, model.ExecutionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		forA, err := s.ListExecutions(ctx, model.ExecutionFilter{FlowID: &flowA})
		require.NoError(t, err)
		require.Len(t, forA, 3)
		assert.True(t, forA[0].CreatedAt.After(forA[1].CreatedAt), "newest first")

		succeeded, err := s.ListExecutions(ctx, model.ExecutionFilter{FlowID: &flowA, Status: model.ExecutionSuccess})
		require.NoError(t, err)
		assert.Len(t, succeeded, 1)

		limited, err := s.ListExecutions(ctx, model.ExecutionFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestPromoteTriggerItems(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		flowID := uuid.New()

		_, err := s.GetWatermark(ctx, flowID)
		assert.ErrorIs(t, err, ErrNotFound)

		created, err := s.PromoteTriggerItems(ctx, flowID, "100", nil)
		require.NoError(t, err)
		assert.Empty(t, created)
		w, err := s.GetWatermark(ctx, flowID)
		require.NoError(t, err)
		assert.Equal(t, "100", w.Cursor)

		first := []*model.Execution{
			model.NewExecution(flowID, "a", nil),
			model.NewExecution(flowID, "b", nil),
		}
		created, err = s.PromoteTriggerItems(ctx, flowID, "200", first)
		require.NoError(t, err)
		assert.Equal(t, first, created)

		again := []*model.Execution{
			model.NewExecution(flowID, "b", nil),
			model.NewExecution(flowID, "c", nil),
		}
		created, err = s.PromoteTriggerItems(ctx, flowID, "300", again)
		require.NoError(t, err)
		require.Len(t, created, 1, "an item that already has an execution is not reported as created")
		assert.Equal(t, "c", created[0].TriggerItemID)

		w, err = s.GetWatermark(ctx, flowID)
		require.NoError(t, err)
		assert.Equal(t, "300", w.Cursor)

		execs, err := s.ListExecutions(ctx, model.ExecutionFilter{FlowID: &flowID})
		require.NoError(t, err)
		items := map[string]int{}
		for _, e := range execs {
			items[e.TriggerItemID]++
		}
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, items)

		twins := []*model.Execution{
			model.NewExecution(flowID, "d", nil),
			model.NewExecution(flowID, "d", nil),
		}
		created, err = s.PromoteTriggerItems(ctx, flowID, "400", twins)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, twins[0].ID, created[0].ID)
	})
}

func TestWebhookRegistrations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		reg := &model.WebhookRegistration{
			FlowID: uuid.New(), AppKey: "webhook", TriggerKey: "catchHook",
			HookID: "hook-1", CallbackURL: "http://localhost:3000/webhooks/flows/x", CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.SaveWebhookRegistration(ctx, reg))
		got, err := s.GetWebhookRegistration(ctx, reg.FlowID)
		require.NoError(t, err)
		assert.Equal(t, "hook-1", got.HookID)
		assert.Equal(t, reg.CallbackURL, got.CallbackURL)

		require.NoError(t, s.DeleteWebhookRegistration(ctx, reg.FlowID))
		_, err = s.GetWebhookRegistration(ctx, reg.FlowID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNewSqliteStorage_FileCreation(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "dir", "flowhook.db")
	s, err := NewSqliteStorage(dsn)
	require.NoError(t, err)
	defer s.Close()
	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, config.StorageConfig{Driver: constants.StorageDriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = New(ctx, config.StorageConfig{Driver: constants.StorageDriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SqliteStorage{}, s)
	_ = s.Close()

	_, err = New(ctx, config.StorageConfig{Driver: "cassandra"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	s := &sqlStore{dialect: dialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a=$1 AND b=$2", s.rebind("SELECT * FROM t WHERE a=? AND b=?"))
	s.dialect = dialectSQLite
	assert.Equal(t, "a=?", s.rebind("a=?"))
}
