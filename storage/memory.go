package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/awantoch/flowhook/model"
	"github.com/google/uuid"
)

// MemoryStorage implements Storage in-memory (for tests and dev mode)
type MemoryStorage struct {
	mu         sync.Mutex
	flows      map[uuid.UUID]*model.Flow
	conns      map[uuid.UUID]*model.Connection
	execs      map[uuid.UUID]*model.Execution
	steps      map[uuid.UUID]map[uuid.UUID]*model.ExecutionStep
	items      map[uuid.UUID]map[string]bool
	watermarks map[uuid.UUID]*model.Watermark
	hooks      map[uuid.UUID]*model.WebhookRegistration
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		flows:      make(map[uuid.UUID]*model.Flow),
		conns:      make(map[uuid.UUID]*model.Connection),
		execs:      make(map[uuid.UUID]*model.Execution),
		steps:      make(map[uuid.UUID]map[uuid.UUID]*model.ExecutionStep),
		items:      make(map[uuid.UUID]map[string]bool),
		watermarks: make(map[uuid.UUID]*model.Watermark),
		hooks:      make(map[uuid.UUID]*model.WebhookRegistration),
	}
}

func copyFlow(f *model.Flow) *model.Flow {
	cp := *f
	cp.Steps = append([]model.Step(nil), f.Steps...)
	return &cp
}

func copyExecution(e *model.Execution) *model.Execution {
	cp := *e
	cp.Steps = nil
	return &cp
}

func (m *MemoryStorage) SaveFlow(ctx context.Context, flow *model.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flow.ID] = copyFlow(flow)
	return nil
}

func (m *MemoryStorage) GetFlow(ctx context.Context, id uuid.UUID) (*model.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFlow(f), nil
}

func (m *MemoryStorage) ListFlows(ctx context.Context, activeOnly bool) ([]*model.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Flow
	for _, f := range m.flows {
		if activeOnly && !f.Active {
			continue
		}
		out = append(out, copyFlow(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) DeleteFlow(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flows, id)
	delete(m.watermarks, id)
	delete(m.hooks, id)
	return nil
}

func (m *MemoryStorage) SaveConnection(ctx context.Context, conn *model.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conn
	m.conns[conn.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStorage) ListConnections(ctx context.Context, userID string) ([]*model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Connection
	for _, c := range m.conns {
		if userID != "" && c.UserID != userID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
	return nil
}

func (m *MemoryStorage) ConnectionInUse(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.flows {
		if f.Active && flowUsesConnection(f, id) {
			return true, nil
		}
	}
	return false, nil
}

// insertExecution requires m.mu.
func (m *MemoryStorage) insertExecution(exec *model.Execution) error {
	if key := dedupKey(exec); key != "" {
		if m.items[exec.FlowID][key] {
			return ErrDuplicateTriggerItem
		}
		if m.items[exec.FlowID] == nil {
			m.items[exec.FlowID] = make(map[string]bool)
		}
		m.items[exec.FlowID][key] = true
	}
	m.execs[exec.ID] = copyExecution(exec)
	return nil
}

func (m *MemoryStorage) CreateExecution(ctx context.Context, exec *model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertExecution(exec)
}

func (m *MemoryStorage) SaveExecution(ctx context.Context, exec *model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.execs[exec.ID]; !ok {
		return ErrNotFound
	}
	m.execs[exec.ID] = copyExecution(exec)
	return nil
}

func (m *MemoryStorage) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyExecution(e)
	for _, s := range m.sortedSteps(id) {
		cp.Steps = append(cp.Steps, *s)
	}
	return cp, nil
}

func (m *MemoryStorage) ListExecutions(ctx context.Context, filter model.ExecutionFilter) ([]*model.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Execution
	for _, e := range m.execs {
		if filter.FlowID != nil && e.FlowID != *filter.FlowID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, copyExecution(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStorage) ListPendingExecutions(ctx context.Context) ([]*model.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Execution
	for _, e := range m.execs {
		if e.Status == model.ExecutionPending {
			out = append(out, copyExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) SaveExecutionStep(ctx context.Context, step *model.ExecutionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[step.ExecutionID] == nil {
		m.steps[step.ExecutionID] = make(map[uuid.UUID]*model.ExecutionStep)
	}
	cp := *step
	m.steps[step.ExecutionID][step.ID] = &cp
	return nil
}

func (m *MemoryStorage) ListExecutionSteps(ctx context.Context, executionID uuid.UUID) ([]*model.ExecutionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ExecutionStep
	for _, s := range m.sortedSteps(executionID) {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// sortedSteps requires m.mu.
func (m *MemoryStorage) sortedSteps(executionID uuid.UUID) []*model.ExecutionStep {
	var out []*model.ExecutionStep
	for _, s := range m.steps[executionID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *MemoryStorage) GetWatermark(ctx context.Context, flowID uuid.UUID) (*model.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watermarks[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStorage) PromoteTriggerItems(ctx context.Context, flowID uuid.UUID, cursor string, execs []*model.Execution) ([]*model.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var created []*model.Execution
	for _, e := range execs {
		if key := dedupKey(e); key != "" && m.items[flowID][key] {
			continue
		}
		if err := m.insertExecution(e); err != nil {
			return nil, err
		}
		created = append(created, e)
	}
	m.watermarks[flowID] = &model.Watermark{FlowID: flowID, Cursor: cursor, UpdatedAt: time.Now().UTC()}
	return created, nil
}

func (m *MemoryStorage) HasTriggerItem(ctx context.Context, flowID uuid.UUID, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[flowID][itemID], nil
}

func (m *MemoryStorage) SaveWebhookRegistration(ctx context.Context, reg *model.WebhookRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *reg
	m.hooks[reg.FlowID] = &cp
	return nil
}

func (m *MemoryStorage) GetWebhookRegistration(ctx context.Context, flowID uuid.UUID) (*model.WebhookRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.hooks[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStorage) DeleteWebhookRegistration(ctx context.Context, flowID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hooks, flowID)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
