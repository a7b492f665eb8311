package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
)

type ScheduleRepository interface {
	// PollingJob methods
	ListActivePollingJobs(ctx context.Context) ([]models.PollingJob, error)
	UpdateLastRun(ctx context.Context, jobID string, at time.Time) error
	SetPollingJobStatus(ctx context.Context, jobID, status string) error
	PausePollingJobsByCredential(ctx context.Context, credentialID string) (int64, error)

	// HookEvent methods
	CreateHookEvent(ctx context.Context, triggerBindingID, source string, payload json.RawMessage) (models.HookEvent, error)
	GetHookEvent(ctx context.Context, id string) (models.HookEvent, error)
	MarkHookEventConsumed(ctx context.Context, id string) error
}

type scheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) ListActivePollingJobs(ctx context.Context) ([]models.PollingJob, error) {
	const query = `
		SELECT id, trigger_binding_id, interval_seconds, last_run_at, status
		FROM flowhook.polling_jobs
		WHERE status = 'active'
		ORDER BY last_run_at ASC NULLS FIRST
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.PollingJob
	for rows.Next() {
		var j models.PollingJob
		var lastRun sql.NullTime
		if err := rows.Scan(&j.ID, &j.TriggerBindingID, &j.IntervalSeconds, &lastRun, &j.Status); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			j.LastRunAt = &lastRun.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *scheduleRepository) UpdateLastRun(ctx context.Context, jobID string, at time.Time) error {
	const query = `
		UPDATE flowhook.polling_jobs
		SET last_run_at = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, at, jobID)
	return err
}

func (r *scheduleRepository) SetPollingJobStatus(ctx context.Context, jobID, status string) error {
	const query = `
		UPDATE flowhook.polling_jobs
		SET status = $1
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, status, jobID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.Ef(engine.KindNotFound, "polling job not found: %s", jobID)
	}
	return nil
}

// PausePollingJobsByCredential pauses every polling job whose trigger binding
// depends on a revoked credential.
func (r *scheduleRepository) PausePollingJobsByCredential(ctx context.Context, credentialID string) (int64, error) {
	const query = `
		UPDATE flowhook.polling_jobs pj
		SET status = 'paused'
		FROM flowhook.trigger_bindings tb
		WHERE pj.trigger_binding_id = tb.id
		  AND tb.credential_id = $1
		  AND pj.status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, credentialID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *scheduleRepository) CreateHookEvent(ctx context.Context, triggerBindingID, source string, payload json.RawMessage) (models.HookEvent, error) {
	const query = `
		INSERT INTO flowhook.hook_events (trigger_binding_id, payload, source)
		VALUES ($1, $2, $3)
		RETURNING id, detected_at
	`
	evt := models.HookEvent{
		TriggerBindingID: triggerBindingID,
		Payload:          payload,
		Source:           source,
	}
	var payloadArg interface{}
	if len(payload) > 0 {
		payloadArg = []byte(payload)
	}
	err := r.db.QueryRowContext(ctx, query, triggerBindingID, payloadArg, source).
		Scan(&evt.ID, &evt.DetectedAt)
	if err != nil {
		return evt, err
	}
	return evt, nil
}

func (r *scheduleRepository) GetHookEvent(ctx context.Context, id string) (models.HookEvent, error) {
	const query = `
		SELECT id, trigger_binding_id, payload, source, detected_at, consumed
		FROM flowhook.hook_events
		WHERE id = $1
	`
	var evt models.HookEvent
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&evt.ID,
		&evt.TriggerBindingID,
		&payload,
		&evt.Source,
		&evt.DetectedAt,
		&evt.Consumed,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return evt, engine.Ef(engine.KindNotFound, "hook event not found: %s", id)
		}
		return evt, err
	}
	evt.Payload = payload
	return evt, nil
}

func (r *scheduleRepository) MarkHookEventConsumed(ctx context.Context, id string) error {
	const query = `
		UPDATE flowhook.hook_events
		SET consumed = TRUE
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
