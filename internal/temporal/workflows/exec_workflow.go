package workflows

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/flowhook/flowhook-api/internal/temporal"
	"github.com/flowhook/flowhook-api/internal/temporal/activities"
)

// ExecutionWorkflow drives one automation execution for a hook event. The
// workflow is a thin shell: all decisions live in the executor activity, the
// workflow only contributes durability and the retry policy.
func ExecutionWorkflow(ctx workflow.Context, params temporal.ExecutionParams) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting execution workflow", "HookEventID", params.HookEventID, "TriggerBindingID", params.TriggerBindingID)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	err := workflow.ExecuteActivity(ctx, a.ExecuteHookEventActivity, params.HookEventID).Get(ctx, nil)
	if err != nil {
		logger.Error("Execution workflow failed.", "HookEventID", params.HookEventID, "error", err)
		return err
	}

	logger.Info("Execution workflow completed.", "HookEventID", params.HookEventID)
	return nil
}
