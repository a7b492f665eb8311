package models

import (
	"encoding/json"
	"time"
)

// Automation is one user rule: a single trigger binding plus an ordered list
// of reaction bindings.
type Automation struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TriggerBinding attaches an automation to one trigger capability.
type TriggerBinding struct {
	ID            string    `json:"id" db:"id"`
	AutomationID  string    `json:"automation_id" db:"automation_id"`
	CapabilityKey string    `json:"capability_key" db:"capability_key"`
	CredentialID  *string   `json:"credential_id" db:"credential_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ReactionBinding is one of an automation's reactions. Position is unique per
// automation and fixes the order of the persisted outcome array.
type ReactionBinding struct {
	ID            string    `json:"id" db:"id"`
	AutomationID  string    `json:"automation_id" db:"automation_id"`
	CapabilityKey string    `json:"capability_key" db:"capability_key"`
	CredentialID  *string   `json:"credential_id" db:"credential_id"`
	Position      int       `json:"position" db:"position"`
	Enabled       bool      `json:"enabled" db:"enabled"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ParamValue is one stored parameter row for a binding. Values arrive from two
// columns; the structured one wins when both are present.
type ParamValue struct {
	Name      string          `json:"name" db:"name"`
	ValueText *string         `json:"value_text" db:"value_text"`
	ValueJSON json.RawMessage `json:"value_json" db:"value_json"`
}

// PollingJob drives periodic trigger checks for one trigger binding.
type PollingJob struct {
	ID               string     `json:"id" db:"id"`
	TriggerBindingID string     `json:"trigger_binding_id" db:"trigger_binding_id"`
	IntervalSeconds  int        `json:"interval_seconds" db:"interval_seconds"`
	LastRunAt        *time.Time `json:"last_run_at" db:"last_run_at"`
	Status           string     `json:"status" db:"status"`
}

const (
	PollingJobActive = "active"
	PollingJobPaused = "paused"
)

// Due reports whether the job should be checked at now. A job that never ran
// is always due.
func (j PollingJob) Due(now time.Time) bool {
	if j.LastRunAt == nil {
		return true
	}
	return now.Sub(*j.LastRunAt) >= time.Duration(j.IntervalSeconds)*time.Second
}

// HookEvent is one detected trigger firing, queued for execution.
type HookEvent struct {
	ID               string          `json:"id" db:"id"`
	TriggerBindingID string          `json:"trigger_binding_id" db:"trigger_binding_id"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	Source           string          `json:"source" db:"source"`
	DetectedAt       time.Time       `json:"detected_at" db:"detected_at"`
	Consumed         bool            `json:"consumed" db:"consumed"`
}

const (
	HookSourcePolling = "polling"
	HookSourceWebhook = "webhook"
)
