package storage

import (
	"context"
	"errors"

	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateTriggerItem is returned when a flow already has an
	// execution for the same trigger item.
	ErrDuplicateTriggerItem = errors.New("trigger item already has an execution")
)

type Storage interface {
	SaveFlow(ctx context.Context, flow *model.Flow) error
	GetFlow(ctx context.Context, id uuid.UUID) (*model.Flow, error)
	ListFlows(ctx context.Context, activeOnly bool) ([]*model.Flow, error)
	DeleteFlow(ctx context.Context, id uuid.UUID) error

	SaveConnection(ctx context.Context, conn *model.Connection) error
	GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error)
	ListConnections(ctx context.Context, userID string) ([]*model.Connection, error)
	DeleteConnection(ctx context.Context, id uuid.UUID) error
	// ConnectionInUse reports whether an active flow references the connection.
	ConnectionInUse(ctx context.Context, id uuid.UUID) (bool, error)

	// CreateExecution inserts a new execution. Executions of regular runs are
	// unique per flow and trigger item.
	CreateExecution(ctx context.Context, exec *model.Execution) error
	SaveExecution(ctx context.Context, exec *model.Execution) error
	// GetExecution returns the execution with its steps ordered by position.
	GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error)
	// ListExecutions returns executions newest first, without steps.
	ListExecutions(ctx context.Context, filter model.ExecutionFilter) ([]*model.Execution, error)
	// ListPendingExecutions returns executions not yet started, oldest first.
	ListPendingExecutions(ctx context.Context) ([]*model.Execution, error)
	SaveExecutionStep(ctx context.Context, step *model.ExecutionStep) error
	ListExecutionSteps(ctx context.Context, executionID uuid.UUID) ([]*model.ExecutionStep, error)

	GetWatermark(ctx context.Context, flowID uuid.UUID) (*model.Watermark, error)
	// PromoteTriggerItems creates executions and advances the watermark to
	// cursor as one atomic step. Executions whose trigger item already has one
	// are skipped; the returned slice holds only those actually created.
	PromoteTriggerItems(ctx context.Context, flowID uuid.UUID, cursor string, execs []*model.Execution) ([]*model.Execution, error)
	HasTriggerItem(ctx context.Context, flowID uuid.UUID, itemID string) (bool, error)

	SaveWebhookRegistration(ctx context.Context, reg *model.WebhookRegistration) error
	GetWebhookRegistration(ctx context.Context, flowID uuid.UUID) (*model.WebhookRegistration, error)
	DeleteWebhookRegistration(ctx context.Context, flowID uuid.UUID) error

	Close() error
}

// dedupKey is the uniqueness key of an execution, empty when exempt.
func dedupKey(exec *model.Execution) string {
	if exec.TriggerItemID == "" || exec.TestRun || exec.ReplayOf != nil {
		return ""
	}
	return exec.TriggerItemID
}

func flowUsesConnection(flow *model.Flow, id uuid.UUID) bool {
	for _, s := range flow.Steps {
		if s.ConnectionID != nil && *s.ConnectionID == id {
			return true
		}
	}
	return false
}

// New opens the backend named by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case constants.StorageDriverMemory:
		return NewMemoryStorage(), nil
	case "", constants.StorageDriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = constants.DefaultSQLiteDSN
		}
		return NewSqliteStorage(dsn)
	case constants.StorageDriverPostgres:
		return NewPostgresStorage(ctx, cfg.DSN)
	default:
		return nil, utils.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
