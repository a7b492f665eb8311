package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/executor"
)

type Activities struct {
	Executor *executor.Executor
}

// ExecuteHookEventActivity runs one automation execution. Domain outcomes are
// recorded by the executor and complete the activity; infrastructure errors
// are returned so the workflow's retry policy re-attempts the event.
func (a *Activities) ExecuteHookEventActivity(ctx context.Context, hookEventID string) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Executing hook event", "hookEventID", hookEventID)

	err := a.Executor.Execute(ctx, hookEventID)
	if err == nil {
		return nil
	}

	// Validation problems will not heal on retry.
	if engine.IsKind(err, engine.KindValidation) || engine.IsKind(err, engine.KindNotFound) {
		logger.Error("Hook event execution failed permanently", "hookEventID", hookEventID, "error", err)
		return temporal.NewNonRetryableApplicationError(err.Error(), string(engine.KindOf(err)), err)
	}

	logger.Error("Hook event execution failed, will retry", "hookEventID", hookEventID, "error", err)
	return err
}
