package queue

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	tc "go.temporal.io/sdk/client"

	"github.com/flowhook/flowhook-api/internal/temporal"
	"github.com/flowhook/flowhook-api/internal/temporal/workflows"
)

// Enqueuer hands hook events to the execution queue.
type Enqueuer interface {
	// EnqueueExecution schedules the execution workflow for a hook event.
	// Enqueueing the same event twice is a no-op.
	EnqueueExecution(ctx context.Context, workflowID string, params temporal.ExecutionParams) error
}

// PollWorkflowID derives the deterministic workflow id for a polling
// detection. Re-detection of the same hook event maps to the same id.
func PollWorkflowID(hookEventID string) string {
	return temporal.PollWorkflowIDPrefix + hookEventID
}

// WebhookWorkflowID derives the deterministic workflow id for a webhook
// delivery.
func WebhookWorkflowID(hookEventID string) string {
	return temporal.WebhookWorkflowIDPrefix + hookEventID
}

// TemporalEnqueuer starts execution workflows on a Temporal cluster.
type TemporalEnqueuer struct {
	client tc.Client
	logger zerolog.Logger
}

func NewTemporalEnqueuer(client tc.Client, logger zerolog.Logger) *TemporalEnqueuer {
	return &TemporalEnqueuer{
		client: client,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

func (q *TemporalEnqueuer) EnqueueExecution(ctx context.Context, workflowID string, params temporal.ExecutionParams) error {
	opts := tc.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: temporal.TaskQueueName,
	}

	_, err := q.client.ExecuteWorkflow(ctx, opts, workflows.ExecutionWorkflow, params)
	if err != nil {
		// A duplicate start means the event is already queued or executed.
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			q.logger.Debug().
				Str("workflow_id", workflowID).
				Str("hook_event_id", params.HookEventID).
				Msg("execution already enqueued, skipping")
			return nil
		}
		return err
	}

	q.logger.Info().
		Str("workflow_id", workflowID).
		Str("hook_event_id", params.HookEventID).
		Msg("execution enqueued")
	return nil
}
