package executor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/compiler"
	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/repository"
)

// Executor runs one automation execution end to end: claim the hook event,
// re-verify the trigger, fan reactions out in parallel and record the
// aggregate outcome.
type Executor struct {
	compiler   *compiler.Compiler
	executions repository.ExecutionRepository
	schedules  repository.ScheduleRepository
	tokens     capability.TokenSource

	reactionConcurrency int
	reactionTimeout     time.Duration
	logger              zerolog.Logger
}

func New(
	comp *compiler.Compiler,
	executions repository.ExecutionRepository,
	schedules repository.ScheduleRepository,
	tokens capability.TokenSource,
	cfg config.ExecutorConfig,
	logger zerolog.Logger,
) *Executor {
	return &Executor{
		compiler:            comp,
		executions:          executions,
		schedules:           schedules,
		tokens:              tokens,
		reactionConcurrency: cfg.ReactionConcurrency,
		reactionTimeout:     cfg.ReactionTimeout,
		logger:              logger.With().Str("component", "executor").Logger(),
	}
}

// Execute processes the hook event. Domain outcomes, including failures, are
// recorded on the execution record and return nil; only infrastructure
// errors propagate so the queue retries the attempt.
func (e *Executor) Execute(ctx context.Context, hookEventID string) error {
	event, err := e.schedules.GetHookEvent(ctx, hookEventID)
	if err != nil {
		return err
	}

	compiled, compileErr := e.compiler.Compile(ctx, event.TriggerBindingID)
	if compileErr != nil && !isDomainFailure(compileErr) {
		return compileErr
	}
	if compiled == nil {
		// Binding or automation gone; nothing to attribute a record to.
		e.logger.Warn().
			Err(compileErr).
			Str("hook_event_id", event.ID).
			Msg("hook event references a missing binding, dropping")
		return e.schedules.MarkHookEventConsumed(ctx, event.ID)
	}

	record, err := e.executions.CreateRunning(ctx, compiled.Automation.ID, event.TriggerBindingID, event.ID, event.Payload)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRunning) {
			e.logger.Info().Str("hook_event_id", event.ID).Msg("execution already running, skipping duplicate")
			return nil
		}
		return err
	}

	logger := e.logger.With().
		Str("execution_id", record.ID).
		Str("hook_event_id", event.ID).
		Logger()

	if compileErr != nil {
		return e.finish(ctx, record.ID, event.ID, models.ExecutionFailed, models.ExecutionResponse{
			Note: "compilation failed",
		}, compileErr.Error(), logger)
	}

	if !compiled.Automation.Enabled {
		logger.Info().Str("automation_id", compiled.Automation.ID).Msg("automation disabled, skipping execution")
		return e.finish(ctx, record.ID, event.ID, models.ExecutionSkipped, models.ExecutionResponse{
			Note: "automation disabled",
		}, "", logger)
	}

	// Re-check the trigger so a condition that stopped holding between
	// detection and execution skips instead of firing stale reactions.
	var input map[string]any
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &input); err != nil {
			logger.Warn().Err(err).Msg("hook event payload is not a JSON object, ignoring")
		}
	}

	inv := &capability.Invocation{
		AutomationID: compiled.Automation.ID,
		BindingID:    compiled.Trigger.ID,
		UserID:       compiled.Automation.UserID,
		CredentialID: compiled.Trigger.CredentialID,
		Params:       compiled.TriggerParams,
		Input:        input,
		Tokens:       e.tokens,
		Logger:       logger,
	}

	result, err := compiled.TriggerImpl.Check(ctx, inv)
	if err != nil {
		if isDomainFailure(err) {
			return e.finish(ctx, record.ID, event.ID, models.ExecutionFailed, models.ExecutionResponse{
				Note: "trigger re-check failed",
			}, err.Error(), logger)
		}
		e.failBestEffort(ctx, record.ID, err, logger)
		return err
	}
	if !result.Triggered {
		logger.Info().Msg("trigger condition no longer holds, skipping execution")
		return e.finish(ctx, record.ID, event.ID, models.ExecutionSkipped, models.ExecutionResponse{
			Trigger: models.TriggerOutcome{Triggered: false},
			Note:    "trigger condition no longer holds",
		}, "", logger)
	}

	outcomes := e.runReactions(ctx, compiled, result.Output, logger)

	status, errorText := aggregate(outcomes)
	response := models.ExecutionResponse{
		Trigger:   models.TriggerOutcome{Triggered: true, Output: result.Output},
		Reactions: outcomes,
	}
	if len(outcomes) == 0 {
		response.Note = "no enabled reactions"
	}

	return e.finish(ctx, record.ID, event.ID, status, response, errorText, logger)
}

// runReactions fans the compiled reactions out with bounded parallelism.
// Outcomes keep binding order regardless of completion order.
func (e *Executor) runReactions(ctx context.Context, compiled *compiler.CompiledAutomation, triggerOutput map[string]any, logger zerolog.Logger) []models.ReactionOutcome {
	outcomes := make([]models.ReactionOutcome, len(compiled.Reactions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.reactionConcurrency)

	for i, cr := range compiled.Reactions {
		i, cr := i, cr
		g.Go(func() error {
			outcomes[i] = e.runReaction(gctx, compiled, cr, triggerOutput, logger)
			return nil
		})
	}
	// Workers never return errors; failures live in the outcomes.
	_ = g.Wait()

	return outcomes
}

func (e *Executor) runReaction(ctx context.Context, compiled *compiler.CompiledAutomation, cr compiler.CompiledReaction, triggerOutput map[string]any, logger zerolog.Logger) models.ReactionOutcome {
	outcome := models.ReactionOutcome{
		ReactionBindingID: cr.Binding.ID,
		CapabilityKey:     cr.Binding.CapabilityKey,
		Position:          cr.Binding.Position,
	}

	if cr.Err != nil {
		outcome.Error = cr.Err.Error()
		return outcome
	}

	runCtx, cancel := context.WithTimeout(ctx, e.reactionTimeout)
	defer cancel()

	inv := &capability.Invocation{
		AutomationID: compiled.Automation.ID,
		BindingID:    cr.Binding.ID,
		UserID:       compiled.Automation.UserID,
		CredentialID: cr.Binding.CredentialID,
		Params:       cr.Params,
		Input:        triggerOutput,
		Tokens:       e.tokens,
		Logger:       logger,
	}

	result, err := cr.Reaction.Run(runCtx, inv)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("reaction_binding_id", cr.Binding.ID).
			Str("capability", cr.Binding.CapabilityKey).
			Msg("reaction failed")
		outcome.Error = err.Error()
		return outcome
	}

	outcome.OK = result.OK
	outcome.Output = result.Output
	if !result.OK {
		outcome.Error = "reaction reported failure"
	}
	return outcome
}

// aggregate folds reaction outcomes into the execution status and the joined
// error text.
func aggregate(outcomes []models.ReactionOutcome) (string, string) {
	if len(outcomes) == 0 {
		return models.ExecutionSuccess, ""
	}

	var failures []string
	succeeded := 0
	for _, o := range outcomes {
		if o.OK {
			succeeded++
		} else {
			failures = append(failures, o.CapabilityKey+": "+o.Error)
		}
	}

	switch {
	case len(failures) == 0:
		return models.ExecutionSuccess, ""
	case succeeded == 0:
		return models.ExecutionFailed, strings.Join(failures, "; ")
	default:
		return models.ExecutionPartialSuccess, strings.Join(failures, "; ")
	}
}

func (e *Executor) finish(ctx context.Context, recordID, hookEventID, status string, response models.ExecutionResponse, errorText string, logger zerolog.Logger) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return errors.Wrap(err, "encode execution response")
	}

	if err := e.executions.Finalize(ctx, recordID, status, payload, errorText); err != nil {
		return err
	}
	if err := e.schedules.MarkHookEventConsumed(ctx, hookEventID); err != nil {
		return err
	}

	logger.Info().Str("status", status).Msg("execution finished")
	return nil
}

// failBestEffort records a failure without masking the original error when
// the record update itself fails.
func (e *Executor) failBestEffort(ctx context.Context, recordID string, cause error, logger zerolog.Logger) {
	payload, _ := json.Marshal(models.ExecutionResponse{Note: "execution aborted"})
	if err := e.executions.Finalize(ctx, recordID, models.ExecutionFailed, payload, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to record execution failure")
	}
}

// isDomainFailure reports whether the error is an automation-scoped problem
// that should be recorded on the execution rather than retried.
func isDomainFailure(err error) bool {
	switch engine.KindOf(err) {
	case engine.KindNotFound, engine.KindValidation, engine.KindCredentialExpired:
		return true
	}
	return false
}
