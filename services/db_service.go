package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newton/shared"
)

// ErrRunNotFound is returned when no run exists for a workflow ID.
var ErrRunNotFound = errors.New("run not found")

// DBService persists run summaries and their event history.
type DBService struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDBService(db *sql.DB, logger *slog.Logger) *DBService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBService{db: db, logger: logger}
}

// CreatePendingRun inserts the initial record. An existing record is left alone.
func (s *DBService) CreatePendingRun(ctx context.Context, workflowID, prompt string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (workflow_id, prompt, phase, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		workflowID, prompt, string(shared.PhaseGenerating), shared.RunStatusPending, now, now)
	if err != nil {
		return fmt.Errorf("create pending run %s: %w", workflowID, err)
	}
	return nil
}

// SaveRun upserts rec. Empty prompt and state keep the stored values.
func (s *DBService) SaveRun(ctx context.Context, rec shared.RunRecord) error {
	var state sql.NullString
	if rec.State != nil {
		b, err := json.Marshal(rec.State)
		if err != nil {
			return fmt.Errorf("encode run state: %w", err)
		}
		state = sql.NullString{String: string(b), Valid: true}
	}
	fixMethod := rec.FixMethod
	if fixMethod == "" {
		fixMethod = shared.FixMethodNone
	}

	query := `
    INSERT INTO runs (workflow_id, prompt, phase, status, output_path, error_kind, retry_count, fix_method, state, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(workflow_id) DO UPDATE SET
        prompt      = COALESCE(NULLIF(excluded.prompt, ''), runs.prompt),
        phase       = excluded.phase,
        status      = excluded.status,
        output_path = excluded.output_path,
        error_kind  = excluded.error_kind,
        retry_count = excluded.retry_count,
        fix_method  = excluded.fix_method,
        state       = COALESCE(excluded.state, runs.state),
        updated_at  = excluded.updated_at;`
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		rec.WorkflowID, rec.Prompt, string(rec.Phase), rec.Status, rec.OutputPath, string(rec.ErrorKind),
		rec.RetryCount, string(fixMethod), state, now, now)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.WorkflowID, err)
	}
	s.logger.Debug("Saved run", "workflow_id", rec.WorkflowID, "status", rec.Status, "phase", rec.Phase)
	return nil
}

// GetRun loads the run record for workflowID.
func (s *DBService) GetRun(ctx context.Context, workflowID string) (*shared.RunRecord, error) {
	var (
		rec        shared.RunRecord
		prompt     sql.NullString
		outputPath sql.NullString
		errorKind  sql.NullString
		fixMethod  string
		phase      string
		state      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT workflow_id, prompt, phase, status, output_path, error_kind, retry_count, fix_method, state, created_at, updated_at
        FROM runs WHERE workflow_id = ?`, workflowID).
		Scan(&rec.WorkflowID, &prompt, &phase, &rec.Status, &outputPath, &errorKind, &rec.RetryCount, &fixMethod, &state, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", workflowID, err)
	}
	rec.Prompt = prompt.String
	rec.Phase = shared.Phase(phase)
	rec.OutputPath = outputPath.String
	rec.ErrorKind = shared.ErrorKind(errorKind.String)
	rec.FixMethod = shared.FixMethod(fixMethod)
	if state.Valid && state.String != "" {
		var ws shared.WorkflowState
		if err := json.Unmarshal([]byte(state.String), &ws); err != nil {
			return nil, fmt.Errorf("decode run state %s: %w", workflowID, err)
		}
		rec.State = &ws
	}
	return &rec, nil
}

// AppendEvent stores ev. Re-delivering the same sequence number is a no-op,
// so activity retries never duplicate history.
func (s *DBService) AppendEvent(ctx context.Context, ev shared.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO run_events (workflow_id, sequence, type, stage, message, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.WorkflowID, ev.Sequence, string(ev.Type), ev.Stage, ev.Message, string(payload), ts)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", ev.WorkflowID, ev.Sequence, err)
	}
	return nil
}

// Events returns the stored events of workflowID with a sequence greater
// than after, in sequence order.
func (s *DBService) Events(ctx context.Context, workflowID string, after int64) ([]shared.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT sequence, type, stage, message, payload, created_at
        FROM run_events WHERE workflow_id = ? AND sequence > ?
        ORDER BY sequence ASC`, workflowID, after)
	if err != nil {
		return nil, fmt.Errorf("query events %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []shared.Event
	for rows.Next() {
		ev := shared.Event{WorkflowID: workflowID}
		var (
			typ     string
			message sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&ev.Sequence, &typ, &ev.Stage, &message, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Type = shared.EventType(typ)
		ev.Message = message.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				s.logger.Warn("Skipping malformed event payload", "workflow_id", workflowID, "sequence", ev.Sequence, "error", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
