package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT FALSE,
	steps TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS connections (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	app_key TEXT NOT NULL,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at BIGINT,
	screen_name TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL,
	status TEXT NOT NULL,
	test_run BOOLEAN NOT NULL DEFAULT FALSE,
	trigger_item_id TEXT NOT NULL DEFAULT '',
	dedup_key TEXT,
	trigger_output TEXT,
	replay_of TEXT,
	reconnect_required BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	started_at BIGINT,
	finished_at BIGINT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS executions_flow_dedup ON executions (flow_id, dedup_key)`,
	`CREATE INDEX IF NOT EXISTS executions_status ON executions (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS execution_steps (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	step_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	app_key TEXT NOT NULL,
	step_key TEXT NOT NULL,
	status TEXT NOT NULL,
	input TEXT,
	output TEXT,
	error TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	started_at BIGINT NOT NULL,
	finished_at BIGINT
)`,
	`CREATE INDEX IF NOT EXISTS execution_steps_execution ON execution_steps (execution_id, position)`,
	`CREATE TABLE IF NOT EXISTS watermarks (
	flow_id TEXT PRIMARY KEY,
	cursor_value TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS webhook_registrations (
	flow_id TEXT PRIMARY KEY,
	app_key TEXT NOT NULL,
	trigger_key TEXT NOT NULL,
	hook_id TEXT NOT NULL DEFAULT '',
	callback_url TEXT NOT NULL,
	created_at BIGINT NOT NULL
)`,
}

// sqlStore is the database/sql implementation shared by the SQLite and
// Postgres backends. Queries are written with ? placeholders.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, utils.Errorf("failed to create schema: %w", err)
		}
	}
	return s, nil
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

// Flows

func (s *sqlStore) SaveFlow(ctx context.Context, flow *model.Flow) error {
	steps, err := json.Marshal(flow.Steps)
	if err != nil {
		return utils.Errorf("failed to encode steps of flow %s: %w", flow.ID, err)
	}
	_, err = s.exec(ctx, s.db, `
INSERT INTO flows (id, name, user_id, active, steps, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name,
	user_id=excluded.user_id,
	active=excluded.active,
	steps=excluded.steps,
	updated_at=excluded.updated_at`,
		flow.ID.String(), flow.Name, flow.UserID, flow.Active, string(steps),
		toNanos(flow.CreatedAt), toNanos(flow.UpdatedAt))
	return err
}

const flowColumns = `id, name, user_id, active, steps, created_at, updated_at`

func scanFlow(row rowScanner) (*model.Flow, error) {
	var (
		f                model.Flow
		id, steps        string
		created, updated int64
	)
	if err := row.Scan(&id, &f.Name, &f.UserID, &f.Active, &steps, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &f.Steps); err != nil {
		return nil, utils.Errorf("failed to decode steps of flow %s: %w", id, err)
	}
	f.CreatedAt = fromNanos(created)
	f.UpdatedAt = fromNanos(updated)
	return &f, nil
}

func (s *sqlStore) GetFlow(ctx context.Context, id uuid.UUID) (*model.Flow, error) {
	f, err := scanFlow(s.queryRow(ctx, s.db, `SELECT `+flowColumns+` FROM flows WHERE id=?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *sqlStore) ListFlows(ctx context.Context, activeOnly bool) ([]*model.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows`
	var args []any
	if activeOnly {
		query += ` WHERE active=?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at`
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteFlow(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range []string{
		`DELETE FROM flows WHERE id=?`,
		`DELETE FROM watermarks WHERE flow_id=?`,
		`DELETE FROM webhook_registrations WHERE flow_id=?`,
	} {
		if _, err := s.exec(ctx, tx, stmt, id.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Connections

func (s *sqlStore) SaveConnection(ctx context.Context, c *model.Connection) error {
	_, err := s.exec(ctx, s.db, `
INSERT INTO connections (id, user_id, app_key, verified, verified_at, screen_name, resource_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id=excluded.user_id,
	app_key=excluded.app_key,
	verified=excluded.verified,
	verified_at=excluded.verified_at,
	screen_name=excluded.screen_name,
	resource_id=excluded.resource_id,
	updated_at=excluded.updated_at`,
		c.ID.String(), c.UserID, c.AppKey, c.Verified, nullableNanos(c.VerifiedAt),
		c.ScreenName, c.ResourceID, toNanos(c.CreatedAt), toNanos(c.UpdatedAt))
	return err
}

const connectionColumns = `id, user_id, app_key, verified, verified_at, screen_name, resource_id, created_at, updated_at`

func scanConnection(row rowScanner) (*model.Connection, error) {
	var (
		c                model.Connection
		id               string
		verifiedAt       sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&id, &c.UserID, &c.AppKey, &c.Verified, &verifiedAt,
		&c.ScreenName, &c.ResourceID, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	c.VerifiedAt = timePtr(verifiedAt)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

func (s *sqlStore) GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	c, err := scanConnection(s.queryRow(ctx, s.db, `SELECT `+connectionColumns+` FROM connections WHERE id=?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *sqlStore) ListConnections(ctx context.Context, userID string) ([]*model.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM connections WHERE id=?`, id.String())
	return err
}

func (s *sqlStore) ConnectionInUse(ctx context.Context, id uuid.UUID) (bool, error) {
	flows, err := s.ListFlows(ctx, true)
	if err != nil {
		return false, err
	}
	for _, f := range flows {
		if flowUsesConnection(f, id) {
			return true, nil
		}
	}
	return false, nil
}

// Executions

// insertExecution reports false when the flow already has an execution for
// the same trigger item.
func (s *sqlStore) insertExecution(ctx context.Context, q querier, e *model.Execution) (bool, error) {
	output, err := encodeJSON(e.TriggerOutput)
	if err != nil {
		return false, utils.Errorf("failed to encode trigger output: %w", err)
	}
	res, err := s.exec(ctx, q, `
INSERT INTO executions (id, flow_id, status, test_run, trigger_item_id, dedup_key, trigger_output,
	replay_of, reconnect_required, error, created_at, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		e.ID.String(), e.FlowID.String(), string(e.Status), e.TestRun, e.TriggerItemID,
		nullString(dedupKey(e)), output, nullUUID(e.ReplayOf), e.ReconnectRequired, e.Error,
		toNanos(e.CreatedAt), nullableNanos(e.StartedAt), nullableNanos(e.FinishedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	inserted, err := s.insertExecution(ctx, s.db, e)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrDuplicateTriggerItem
	}
	return nil
}

func (s *sqlStore) SaveExecution(ctx context.Context, e *model.Execution) error {
	output, err := encodeJSON(e.TriggerOutput)
	if err != nil {
		return utils.Errorf("failed to encode trigger output: %w", err)
	}
	res, err := s.exec(ctx, s.db, `
UPDATE executions SET status=?, trigger_output=?, reconnect_required=?, error=?, started_at=?, finished_at=?
WHERE id=?`,
		string(e.Status), output, e.ReconnectRequired, e.Error,
		nullableNanos(e.StartedAt), nullableNanos(e.FinishedAt), e.ID.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const executionColumns = `id, flow_id, status, test_run, trigger_item_id, trigger_output, replay_of,
	reconnect_required, error, created_at, started_at, finished_at`

func scanExecution(row rowScanner) (*model.Execution, error) {
	var (
		e                  model.Execution
		id, flowID, status string
		output, replayOf   sql.NullString
		created            int64
		started, finished  sql.NullInt64
	)
	if err := row.Scan(&id, &flowID, &status, &e.TestRun, &e.TriggerItemID, &output, &replayOf,
		&e.ReconnectRequired, &e.Error, &created, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if e.FlowID, err = uuid.Parse(flowID); err != nil {
		return nil, err
	}
	if replayOf.Valid {
		r, err := uuid.Parse(replayOf.String)
		if err != nil {
			return nil, err
		}
		e.ReplayOf = &r
	}
	if err := decodeJSON(output, &e.TriggerOutput); err != nil {
		return nil, utils.Errorf("failed to decode trigger output of execution %s: %w", id, err)
	}
	e.Status = model.ExecutionStatus(status)
	e.CreatedAt = fromNanos(created)
	e.StartedAt = timePtr(started)
	e.FinishedAt = timePtr(finished)
	return &e, nil
}

func (s *sqlStore) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	e, err := scanExecution(s.queryRow(ctx, s.db, `SELECT `+executionColumns+` FROM executions WHERE id=?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	steps, err := s.ListExecutionSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		e.Steps = append(e.Steps, *st)
	}
	return e, nil
}

func (s *sqlStore) listExecutions(ctx context.Context, query string, args ...any) ([]*model.Execution, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListExecutions(ctx context.Context, filter model.ExecutionFilter) ([]*model.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.FlowID != nil {
		where = append(where, "flow_id=?")
		args = append(args, filter.FlowID.String())
	}
	if filter.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.listExecutions(ctx, query, args...)
}

func (s *sqlStore) ListPendingExecutions(ctx context.Context) ([]*model.Execution, error) {
	return s.listExecutions(ctx, `SELECT `+executionColumns+` FROM executions WHERE status=? ORDER BY created_at`,
		string(model.ExecutionPending))
}

func (s *sqlStore) SaveExecutionStep(ctx context.Context, st *model.ExecutionStep) error {
	input, err := encodeJSON(st.Input)
	if err != nil {
		return utils.Errorf("failed to encode step input: %w", err)
	}
	output, err := encodeJSON(st.Output)
	if err != nil {
		return utils.Errorf("failed to encode step output: %w", err)
	}
	var stepErr sql.NullString
	if st.Error != nil {
		if stepErr, err = encodeJSON(st.Error); err != nil {
			return utils.Errorf("failed to encode step error: %w", err)
		}
	}
	_, err = s.exec(ctx, s.db, `
INSERT INTO execution_steps (id, execution_id, step_id, position, app_key, step_key, status,
	input, output, error, attempts, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status=excluded.status,
	input=excluded.input,
	output=excluded.output,
	error=excluded.error,
	attempts=excluded.attempts,
	finished_at=excluded.finished_at`,
		st.ID.String(), st.ExecutionID.String(), st.StepID, st.Position, st.AppKey, st.Key,
		string(st.Status), input, output, stepErr, st.Attempts,
		toNanos(st.StartedAt), nullableNanos(st.FinishedAt))
	return err
}

func (s *sqlStore) ListExecutionSteps(ctx context.Context, executionID uuid.UUID) ([]*model.ExecutionStep, error) {
	rows, err := s.query(ctx, s.db, `
SELECT id, execution_id, step_id, position, app_key, step_key, status, input, output, error,
	attempts, started_at, finished_at
FROM execution_steps WHERE execution_id=? ORDER BY position, started_at`, executionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ExecutionStep
	for rows.Next() {
		var (
			st                     model.ExecutionStep
			id, execID, status     string
			input, output, stepErr sql.NullString
			started                int64
			finished               sql.NullInt64
		)
		if err := rows.Scan(&id, &execID, &st.StepID, &st.Position, &st.AppKey, &st.Key, &status,
			&input, &output, &stepErr, &st.Attempts, &started, &finished); err != nil {
			return nil, err
		}
		if st.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if st.ExecutionID, err = uuid.Parse(execID); err != nil {
			return nil, err
		}
		if err := decodeJSON(input, &st.Input); err != nil {
			return nil, err
		}
		if err := decodeJSON(output, &st.Output); err != nil {
			return nil, err
		}
		if stepErr.Valid {
			st.Error = &model.StepError{}
			if err := decodeJSON(stepErr, st.Error); err != nil {
				return nil, err
			}
		}
		st.Status = model.StepStatus(status)
		st.StartedAt = fromNanos(started)
		st.FinishedAt = timePtr(finished)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// Watermarks and trigger items

func (s *sqlStore) GetWatermark(ctx context.Context, flowID uuid.UUID) (*model.Watermark, error) {
	var (
		w       = model.Watermark{FlowID: flowID}
		updated int64
	)
	err := s.queryRow(ctx, s.db, `SELECT cursor_value, updated_at FROM watermarks WHERE flow_id=?`, flowID.String()).
		Scan(&w.Cursor, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.UpdatedAt = fromNanos(updated)
	return &w, nil
}

func (s *sqlStore) PromoteTriggerItems(ctx context.Context, flowID uuid.UUID, cursor string, execs []*model.Execution) ([]*model.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	var created []*model.Execution
	for _, e := range execs {
		inserted, err := s.insertExecution(ctx, tx, e)
		if err != nil {
			return nil, utils.Errorf("failed to promote trigger item %q: %w", e.TriggerItemID, err)
		}
		if inserted {
			created = append(created, e)
		}
	}
	if _, err := s.exec(ctx, tx, `
INSERT INTO watermarks (flow_id, cursor_value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(flow_id) DO UPDATE SET cursor_value=excluded.cursor_value, updated_at=excluded.updated_at`,
		flowID.String(), cursor, toNanos(time.Now())); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *sqlStore) HasTriggerItem(ctx context.Context, flowID uuid.UUID, itemID string) (bool, error) {
	var one int
	err := s.queryRow(ctx, s.db, `SELECT 1 FROM executions WHERE flow_id=? AND dedup_key=?`,
		flowID.String(), itemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Webhook registrations

func (s *sqlStore) SaveWebhookRegistration(ctx context.Context, r *model.WebhookRegistration) error {
	_, err := s.exec(ctx, s.db, `
INSERT INTO webhook_registrations (flow_id, app_key, trigger_key, hook_id, callback_url, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(flow_id) DO UPDATE SET
	app_key=excluded.app_key,
	trigger_key=excluded.trigger_key,
	hook_id=excluded.hook_id,
	callback_url=excluded.callback_url`,
		r.FlowID.String(), r.AppKey, r.TriggerKey, r.HookID, r.CallbackURL, toNanos(r.CreatedAt))
	return err
}

func (s *sqlStore) GetWebhookRegistration(ctx context.Context, flowID uuid.UUID) (*model.WebhookRegistration, error) {
	var (
		r       = model.WebhookRegistration{FlowID: flowID}
		created int64
	)
	err := s.queryRow(ctx, s.db, `
SELECT app_key, trigger_key, hook_id, callback_url, created_at FROM webhook_registrations WHERE flow_id=?`,
		flowID.String()).Scan(&r.AppKey, &r.TriggerKey, &r.HookID, &r.CallbackURL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromNanos(created)
	return &r, nil
}

func (s *sqlStore) DeleteWebhookRegistration(ctx context.Context, flowID uuid.UUID) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM webhook_registrations WHERE flow_id=?`, flowID.String())
	return err
}
