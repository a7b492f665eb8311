package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
)

type AutomationRepository interface {
	GetAutomation(ctx context.Context, id string) (models.Automation, error)
	GetTriggerBinding(ctx context.Context, id string) (models.TriggerBinding, error)
	ListEnabledReactionBindings(ctx context.Context, automationID string) ([]models.ReactionBinding, error)
	GetTriggerParamValues(ctx context.Context, triggerBindingID string) ([]models.ParamValue, error)
	GetReactionParamValues(ctx context.Context, reactionBindingID string) ([]models.ParamValue, error)
	ListAutomations(ctx context.Context, userID string) ([]models.Automation, error)
	SetEnabled(ctx context.Context, userID, automationID string, enabled bool) error
	FindTriggerBindingsByParam(ctx context.Context, capabilityKey, paramName, valueText string) ([]models.TriggerBinding, error)
	DisableReactionsByCredential(ctx context.Context, credentialID string) (int64, error)
}

type automationRepository struct {
	db *sql.DB
}

func NewAutomationRepository(db *sql.DB) AutomationRepository {
	return &automationRepository{db: db}
}

func (r *automationRepository) GetAutomation(ctx context.Context, id string) (models.Automation, error) {
	const query = `
		SELECT id, user_id, name, enabled, created_at, updated_at
		FROM flowhook.automations
		WHERE id = $1
	`
	var a models.Automation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.UserID,
		&a.Name,
		&a.Enabled,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return a, engine.Ef(engine.KindNotFound, "automation not found: %s", id)
		}
		return a, err
	}
	return a, nil
}

func (r *automationRepository) GetTriggerBinding(ctx context.Context, id string) (models.TriggerBinding, error) {
	const query = `
		SELECT id, automation_id, capability_key, credential_id, created_at
		FROM flowhook.trigger_bindings
		WHERE id = $1
	`
	var b models.TriggerBinding
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.AutomationID,
		&b.CapabilityKey,
		&b.CredentialID,
		&b.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return b, engine.Ef(engine.KindNotFound, "trigger binding not found: %s", id)
		}
		return b, err
	}
	return b, nil
}

func (r *automationRepository) ListEnabledReactionBindings(ctx context.Context, automationID string) ([]models.ReactionBinding, error) {
	const query = `
		SELECT id, automation_id, capability_key, credential_id, position, enabled, created_at
		FROM flowhook.reaction_bindings
		WHERE automation_id = $1 AND enabled = TRUE
		ORDER BY position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []models.ReactionBinding
	for rows.Next() {
		var b models.ReactionBinding
		if err := rows.Scan(
			&b.ID,
			&b.AutomationID,
			&b.CapabilityKey,
			&b.CredentialID,
			&b.Position,
			&b.Enabled,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (r *automationRepository) GetTriggerParamValues(ctx context.Context, triggerBindingID string) ([]models.ParamValue, error) {
	const query = `
		SELECT name, value_text, value_json
		FROM flowhook.trigger_param_values
		WHERE trigger_binding_id = $1
		ORDER BY name ASC
	`
	return r.scanParamValues(ctx, query, triggerBindingID)
}

func (r *automationRepository) GetReactionParamValues(ctx context.Context, reactionBindingID string) ([]models.ParamValue, error) {
	const query = `
		SELECT name, value_text, value_json
		FROM flowhook.reaction_param_values
		WHERE reaction_binding_id = $1
		ORDER BY name ASC
	`
	return r.scanParamValues(ctx, query, reactionBindingID)
}

func (r *automationRepository) scanParamValues(ctx context.Context, query, bindingID string) ([]models.ParamValue, error) {
	rows, err := r.db.QueryContext(ctx, query, bindingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []models.ParamValue
	for rows.Next() {
		var v models.ParamValue
		if err := rows.Scan(&v.Name, &v.ValueText, &v.ValueJSON); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *automationRepository) ListAutomations(ctx context.Context, userID string) ([]models.Automation, error) {
	const query = `
		SELECT id, user_id, name, enabled, created_at, updated_at
		FROM flowhook.automations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	automations := []models.Automation{}
	for rows.Next() {
		var a models.Automation
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

func (r *automationRepository) SetEnabled(ctx context.Context, userID, automationID string, enabled bool) error {
	const query = `
		UPDATE flowhook.automations
		SET enabled = $1, updated_at = now()
		WHERE id = $2 AND user_id = $3
	`
	res, err := r.db.ExecContext(ctx, query, enabled, automationID, userID)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.Ef(engine.KindNotFound, "automation not found: %s", automationID)
	}
	return nil
}

// FindTriggerBindingsByParam resolves which trigger bindings a pushed provider
// event belongs to, e.g. twitch.stream_online bindings whose user_login param
// matches the broadcaster in the notification.
func (r *automationRepository) FindTriggerBindingsByParam(ctx context.Context, capabilityKey, paramName, valueText string) ([]models.TriggerBinding, error) {
	const query = `
		SELECT tb.id, tb.automation_id, tb.capability_key, tb.credential_id, tb.created_at
		FROM flowhook.trigger_bindings tb
		JOIN flowhook.trigger_param_values pv ON pv.trigger_binding_id = tb.id
		JOIN flowhook.automations a ON a.id = tb.automation_id
		WHERE tb.capability_key = $1
		  AND pv.name = $2
		  AND lower(pv.value_text) = lower($3)
		  AND a.enabled = TRUE
	`
	rows, err := r.db.QueryContext(ctx, query, capabilityKey, paramName, valueText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []models.TriggerBinding
	for rows.Next() {
		var b models.TriggerBinding
		if err := rows.Scan(&b.ID, &b.AutomationID, &b.CapabilityKey, &b.CredentialID, &b.CreatedAt); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// DisableReactionsByCredential turns off reaction bindings that depend on a
// revoked credential so the executor stops attempting them.
func (r *automationRepository) DisableReactionsByCredential(ctx context.Context, credentialID string) (int64, error) {
	const query = `
		UPDATE flowhook.reaction_bindings
		SET enabled = FALSE
		WHERE credential_id = $1 AND enabled = TRUE
	`
	res, err := r.db.ExecContext(ctx, query, credentialID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
