package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/promptfolio.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Definitions ---

// SaveDefinition inserts def or replaces its content, keeping run statistics.
func (s *LibSQLStore) SaveDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition needs an id")
	}
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	triggers, err := marshalSliceOrDefault(def.Triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}
	def.CreatedAt = timeOrNow(def.CreatedAt)
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, description, steps, triggers, active, created_at, updated_at, last_run_at, run_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, steps=excluded.steps,
		   triggers=excluded.triggers, active=excluded.active, updated_at=excluded.updated_at`,
		def.ID, def.Name, nullStr(def.Description), string(steps), string(triggers), def.Active,
		def.CreatedAt, now, nullTime(def.LastRunAt), def.RunCount,
	)
	if err != nil {
		return fmt.Errorf("save definition %s: %w", def.ID, err)
	}
	return nil
}

const definitionColumns = `id, name, description, steps, triggers, active, created_at, last_run_at, run_count`

// LoadDefinition returns the definition with the given ID.
func (s *LibSQLStore) LoadDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", id, err)
	}
	return def, nil
}

// ListDefinitions returns definitions ordered by name.
func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	var args []any
	if filter.ActiveOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// DeleteDefinition removes a definition. Its execution records are kept.
func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete definition %s: %w", id, err)
	}
	return checkRowsAffected(res, "workflow definition", id)
}

// RecordRun increments the run counter and sets the last-run timestamp.
func (s *LibSQLStore) RecordRun(ctx context.Context, id string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET run_count = run_count + 1, last_run_at = ? WHERE id = ?`,
		completedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("record run for %s: %w", id, err)
	}
	return checkRowsAffected(res, "workflow definition", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var (
		description         sql.NullString
		stepsJSON, trigJSON string
		lastRun             sql.NullTime
	)
	if err := row.Scan(&def.ID, &def.Name, &description, &stepsJSON, &trigJSON,
		&def.Active, &def.CreatedAt, &lastRun, &def.RunCount); err != nil {
		return nil, err
	}
	def.Description = description.String
	if err := json.Unmarshal([]byte(stepsJSON), &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps of %s: %w", def.ID, err)
	}
	if err := json.Unmarshal([]byte(trigJSON), &def.Triggers); err != nil {
		return nil, fmt.Errorf("unmarshal triggers of %s: %w", def.ID, err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		def.LastRunAt = &t
	}
	return def, nil
}

// --- Executions ---

// SaveRun upserts an execution record.
func (s *LibSQLStore) SaveRun(ctx context.Context, run *schema.WorkflowExecution) error {
	ctxJSON, err := marshalMapOrDefault(run.Context)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	errsJSON, err := marshalSliceOrDefault(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}
	trailJSON, err := marshalSliceOrDefault(run.Trail)
	if err != nil {
		return fmt.Errorf("marshal run trail: %w", err)
	}

	run.StartedAt = timeOrNow(run.StartedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, status, started_at, started_unix, completed_at, current_step_id, context, errors, trail, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, completed_at=excluded.completed_at, current_step_id=excluded.current_step_id,
		   context=excluded.context, errors=excluded.errors, trail=excluded.trail, updated_at=excluded.updated_at`,
		run.ID, run.WorkflowID, string(run.Status), run.StartedAt, run.StartedAt.UnixNano(), nullTime(run.CompletedAt),
		nullStr(run.CurrentStepID), string(ctxJSON), string(errsJSON), string(trailJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, workflow_id, status, started_at, completed_at, current_step_id, context, errors, trail`

// GetRun returns the execution record with the given ID.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_executions WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns execution records newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowExecution, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_unix >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := `SELECT ` + runColumns + ` FROM workflow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_unix DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*schema.WorkflowExecution
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*schema.WorkflowExecution, error) {
	run := &schema.WorkflowExecution{}
	var (
		status                       string
		completedAt                  sql.NullTime
		currentStep                  sql.NullString
		ctxJSON, errsJSON, trailJSON string
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &status, &run.StartedAt, &completedAt,
		&currentStep, &ctxJSON, &errsJSON, &trailJSON); err != nil {
		return nil, err
	}
	run.Status = schema.ExecutionStatus(status)
	run.CurrentStepID = currentStep.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(ctxJSON), &run.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &run.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal errors of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(trailJSON), &run.Trail); err != nil {
		return nil, fmt.Errorf("unmarshal trail of %s: %w", run.ID, err)
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	if len(run.Trail) == 0 {
		run.Trail = nil
	}
	return run, nil
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing
// per-execution sequence, read and written in one transaction.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, event.WorkflowID, nullStr(event.StepID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns the events of an execution with sequence > since, in order.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.WorkflowID, &stepID, &e.Type,
			&payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalSliceOrDefault[T any](s []T) (json.RawMessage, error) {
	if len(s) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(s)
}

var _ Store = (*LibSQLStore)(nil)
