package temporal

import "time"

// TaskQueueName is the Temporal task queue carrying automation executions.
const TaskQueueName = "FLOWHOOK_EXECUTIONS"

// Workflow IDs are derived from the hook event so a duplicate enqueue of the
// same detection collapses into the already-running workflow.
const (
	PollWorkflowIDPrefix    = "poll-"
	WebhookWorkflowIDPrefix = "webhook-"
)

// DefaultActivityTimeout bounds a single execution activity attempt.
const DefaultActivityTimeout = 2 * time.Minute

// ExecutionParams is the workflow input for one automation execution.
type ExecutionParams struct {
	HookEventID      string
	TriggerBindingID string
}
