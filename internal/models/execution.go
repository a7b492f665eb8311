package models

import (
	"encoding/json"
	"time"
)

// ExecutionRecord is the persisted outcome of one run of an automation.
// Status transitions running -> {success|partial_success|failed|skipped}
// exactly once.
type ExecutionRecord struct {
	ID               string          `json:"id" db:"id"`
	AutomationID     string          `json:"automation_id" db:"automation_id"`
	TriggerBindingID string          `json:"trigger_binding_id" db:"trigger_binding_id"`
	HookEventID      string          `json:"hook_event_id" db:"hook_event_id"`
	Status           string          `json:"status" db:"status"`
	RequestPayload   json.RawMessage `json:"request_payload" db:"request_payload"`
	ResponsePayload  json.RawMessage `json:"response_payload" db:"response_payload"`
	ErrorText        *string         `json:"error_text" db:"error_text"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at" db:"finished_at"`
}

const (
	ExecutionRunning        = "running"
	ExecutionSuccess        = "success"
	ExecutionPartialSuccess = "partial_success"
	ExecutionFailed         = "failed"
	ExecutionSkipped        = "skipped"
)

// ReactionOutcome is one entry of the persisted response payload, ordered by
// the reaction's position regardless of completion order.
type ReactionOutcome struct {
	ReactionBindingID string         `json:"reaction_binding_id"`
	CapabilityKey     string         `json:"capability_key"`
	Position          int            `json:"position"`
	OK                bool           `json:"ok"`
	Output            map[string]any `json:"output,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// TriggerOutcome is the trigger half of the persisted response payload.
type TriggerOutcome struct {
	Triggered bool           `json:"triggered"`
	Output    map[string]any `json:"output,omitempty"`
}

// ExecutionResponse is the response_payload document written on finalize.
type ExecutionResponse struct {
	Trigger   TriggerOutcome    `json:"trigger"`
	Reactions []ReactionOutcome `json:"reactions"`
	Note      string            `json:"note,omitempty"`
}
