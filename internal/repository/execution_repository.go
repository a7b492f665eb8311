package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
)

// ErrAlreadyRunning is returned when a running record already exists for the
// hook event; the queue's redelivery should back off rather than duplicate.
var ErrAlreadyRunning = errors.New("execution already running for hook event")

type ExecutionRepository interface {
	CreateRunning(ctx context.Context, automationID, triggerBindingID, hookEventID string, requestPayload json.RawMessage) (models.ExecutionRecord, error)
	Finalize(ctx context.Context, execID, status string, responsePayload json.RawMessage, errorText string) error
	ListByAutomation(ctx context.Context, automationID string, limit, offset int) ([]models.ExecutionRecord, error)
	GetLast(ctx context.Context, automationID string) (models.ExecutionRecord, error)
}

type executionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) CreateRunning(ctx context.Context, automationID, triggerBindingID, hookEventID string, requestPayload json.RawMessage) (models.ExecutionRecord, error) {
	const query = `
		INSERT INTO flowhook.execution_records (automation_id, trigger_binding_id, hook_event_id, status, request_payload)
		VALUES ($1, $2, $3, 'running', $4)
		RETURNING id, started_at
	`
	rec := models.ExecutionRecord{
		AutomationID:     automationID,
		TriggerBindingID: triggerBindingID,
		HookEventID:      hookEventID,
		Status:           models.ExecutionRunning,
		RequestPayload:   requestPayload,
	}
	var payloadArg interface{}
	if len(requestPayload) > 0 {
		payloadArg = []byte(requestPayload)
	}
	err := r.db.QueryRowContext(ctx, query, automationID, triggerBindingID, hookEventID, payloadArg).
		Scan(&rec.ID, &rec.StartedAt)
	if err != nil {
		// 23505 on the partial index means another delivery of the same
		// hook event is mid-flight.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return rec, ErrAlreadyRunning
		}
		return rec, err
	}
	return rec, nil
}

// Finalize transitions a running record to a terminal status. The WHERE clause
// makes the transition happen at most once.
func (r *executionRepository) Finalize(ctx context.Context, execID, status string, responsePayload json.RawMessage, errorText string) error {
	const query = `
		UPDATE flowhook.execution_records
		SET status          = $1,
		    response_payload = $2,
		    error_text      = NULLIF($3, ''),
		    finished_at     = now()
		WHERE id = $4 AND status = 'running'
	`
	var payloadArg interface{}
	if len(responsePayload) > 0 {
		payloadArg = []byte(responsePayload)
	}
	res, err := r.db.ExecContext(ctx, query, status, payloadArg, errorText, execID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.Ef(engine.KindNotFound, "no running execution record: %s", execID)
	}
	return nil
}

func (r *executionRepository) ListByAutomation(ctx context.Context, automationID string, limit, offset int) ([]models.ExecutionRecord, error) {
	const query = `
		SELECT id, automation_id, trigger_binding_id, hook_event_id, status,
		       request_payload, response_payload, error_text, started_at, finished_at
		FROM flowhook.execution_records
		WHERE automation_id = $1
		ORDER BY started_at DESC
		LIMIT $2
		OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, automationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.ExecutionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanExecutionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *executionRepository) GetLast(ctx context.Context, automationID string) (models.ExecutionRecord, error) {
	const query = `
		SELECT id, automation_id, trigger_binding_id, hook_event_id, status,
		       request_payload, response_payload, error_text, started_at, finished_at
		FROM flowhook.execution_records
		WHERE automation_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, automationID)
	rec, err := scanExecutionRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return rec, engine.Ef(engine.KindNotFound, "no executions for automation: %s", automationID)
		}
		return rec, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecutionRecord(row rowScanner) (models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	var request, response []byte
	var errText sql.NullString
	var finished sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.AutomationID,
		&rec.TriggerBindingID,
		&rec.HookEventID,
		&rec.Status,
		&request,
		&response,
		&errText,
		&rec.StartedAt,
		&finished,
	)
	if err != nil {
		return rec, err
	}
	rec.RequestPayload = request
	rec.ResponsePayload = response
	if errText.Valid {
		rec.ErrorText = &errText.String
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return rec, nil
}
