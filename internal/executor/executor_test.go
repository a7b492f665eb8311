package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/compiler"
	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/repository"
)

type fakeAutomations struct {
	repository.AutomationRepository
	automation models.Automation
	trigger    models.TriggerBinding
	reactions  []models.ReactionBinding
}

func (f *fakeAutomations) GetAutomation(ctx context.Context, id string) (models.Automation, error) {
	return f.automation, nil
}

func (f *fakeAutomations) GetTriggerBinding(ctx context.Context, id string) (models.TriggerBinding, error) {
	return f.trigger, nil
}

func (f *fakeAutomations) ListEnabledReactionBindings(ctx context.Context, automationID string) ([]models.ReactionBinding, error) {
	return f.reactions, nil
}

func (f *fakeAutomations) GetTriggerParamValues(ctx context.Context, triggerBindingID string) ([]models.ParamValue, error) {
	return nil, nil
}

func (f *fakeAutomations) GetReactionParamValues(ctx context.Context, reactionBindingID string) ([]models.ParamValue, error) {
	return nil, nil
}

type fakeSchedules struct {
	repository.ScheduleRepository
	event    models.HookEvent
	consumed []string
}

func (f *fakeSchedules) GetHookEvent(ctx context.Context, id string) (models.HookEvent, error) {
	return f.event, nil
}

func (f *fakeSchedules) MarkHookEventConsumed(ctx context.Context, id string) error {
	f.consumed = append(f.consumed, id)
	return nil
}

type fakeExecutions struct {
	repository.ExecutionRepository
	alreadyRunning bool
	finalStatus    string
	finalResponse  models.ExecutionResponse
	finalError     string
}

func (f *fakeExecutions) CreateRunning(ctx context.Context, automationID, triggerBindingID, hookEventID string, payload json.RawMessage) (models.ExecutionRecord, error) {
	if f.alreadyRunning {
		return models.ExecutionRecord{}, repository.ErrAlreadyRunning
	}
	return models.ExecutionRecord{
		ID:           "rec-1",
		AutomationID: automationID,
		HookEventID:  hookEventID,
		Status:       models.ExecutionRunning,
		StartedAt:    time.Now(),
	}, nil
}

func (f *fakeExecutions) Finalize(ctx context.Context, execID, status string, responsePayload json.RawMessage, errorText string) error {
	f.finalStatus = status
	f.finalError = errorText
	return json.Unmarshal(responsePayload, &f.finalResponse)
}

type scriptedTrigger struct {
	triggered bool
	output    map[string]any
}

func (s *scriptedTrigger) Key() capability.Key {
	return capability.Key{Provider: "test", Name: "trigger"}
}
func (s *scriptedTrigger) Params() []capability.ParamSpec { return nil }
func (s *scriptedTrigger) Check(ctx context.Context, inv *capability.Invocation) (capability.TriggerResult, error) {
	return capability.TriggerResult{Triggered: s.triggered, Output: s.output}, nil
}

type scriptedReaction struct {
	name string
	err  error
}

func (s *scriptedReaction) Key() capability.Key {
	return capability.Key{Provider: "test", Name: s.name}
}
func (s *scriptedReaction) Params() []capability.ParamSpec { return nil }
func (s *scriptedReaction) Run(ctx context.Context, inv *capability.Invocation) (capability.ReactionResult, error) {
	if s.err != nil {
		return capability.ReactionResult{}, s.err
	}
	return capability.ReactionResult{OK: true, Output: map[string]any{"ran": s.name}}, nil
}

type testEnv struct {
	executor   *Executor
	schedules  *fakeSchedules
	executions *fakeExecutions
}

func newTestEnv(t *testing.T, trigger capability.Trigger, reactions []capability.Reaction, enabled bool) *testEnv {
	t.Helper()

	reg := capability.NewRegistry(zerolog.Nop())
	reg.RegisterTrigger(trigger)
	bindings := make([]models.ReactionBinding, 0, len(reactions))
	for i, re := range reactions {
		reg.RegisterReaction(re)
		bindings = append(bindings, models.ReactionBinding{
			ID:            re.Key().String() + "-binding",
			AutomationID:  "a-1",
			CapabilityKey: re.Key().String(),
			Position:      i,
			Enabled:       true,
		})
	}
	reg.Freeze()

	automations := &fakeAutomations{
		automation: models.Automation{ID: "a-1", UserID: "u-1", Enabled: enabled},
		trigger:    models.TriggerBinding{ID: "tb-1", AutomationID: "a-1", CapabilityKey: trigger.Key().String()},
		reactions:  bindings,
	}
	schedules := &fakeSchedules{
		event: models.HookEvent{ID: "evt-1", TriggerBindingID: "tb-1", Source: models.HookSourcePolling},
	}
	executions := &fakeExecutions{}

	comp := compiler.New(automations, reg, zerolog.Nop())
	exec := New(comp, executions, schedules, nil, config.ExecutorConfig{
		ReactionConcurrency: 4,
		ReactionTimeout:     time.Second,
	}, zerolog.Nop())

	return &testEnv{executor: exec, schedules: schedules, executions: executions}
}

func TestExecute_AllReactionsSucceed(t *testing.T) {
	env := newTestEnv(t,
		&scriptedTrigger{triggered: true, output: map[string]any{"stream_id": "s1"}},
		[]capability.Reaction{
			&scriptedReaction{name: "first"},
			&scriptedReaction{name: "second"},
		},
		true,
	)

	require.NoError(t, env.executor.Execute(context.Background(), "evt-1"))

	assert.Equal(t, models.ExecutionSuccess, env.executions.finalStatus)
	assert.Empty(t, env.executions.finalError)
	assert.Equal(t, []string{"evt-1"}, env.schedules.consumed)

	resp := env.executions.finalResponse
	assert.True(t, resp.Trigger.Triggered)
	require.Len(t, resp.Reactions, 2)
	assert.Equal(t, "test.first", resp.Reactions[0].CapabilityKey)
	assert.Equal(t, 0, resp.Reactions[0].Position)
	assert.True(t, resp.Reactions[0].OK)
	assert.True(t, resp.Reactions[1].OK)
}

func TestExecute_PartialSuccess(t *testing.T) {
	env := newTestEnv(t,
		&scriptedTrigger{triggered: true},
		[]capability.Reaction{
			&scriptedReaction{name: "first"},
			&scriptedReaction{name: "second", err: engine.E(engine.KindTransientProvider, "discord api returned 500")},
		},
		true,
	)

	require.NoError(t, env.executor.Execute(context.Background(), "evt-1"))

	assert.Equal(t, models.ExecutionPartialSuccess, env.executions.finalStatus)
	assert.Contains(t, env.executions.finalError, "test.second")
	assert.Contains(t, env.executions.finalError, "discord api returned 500")

	resp := env.executions.finalResponse
	require.Len(t, resp.Reactions, 2)
	assert.True(t, resp.Reactions[0].OK)
	assert.False(t, resp.Reactions[1].OK)
	assert.NotEmpty(t, resp.Reactions[1].Error)
}

func TestExecute_AllReactionsFail(t *testing.T) {
	env := newTestEnv(t,
		&scriptedTrigger{triggered: true},
		[]capability.Reaction{
			&scriptedReaction{name: "first", err: engine.E(engine.KindValidation, "bad channel")},
			&scriptedReaction{name: "second", err: engine.E(engine.KindTransientProvider, "timeout")},
		},
		true,
	)

	require.NoError(t, env.executor.Execute(context.Background(), "evt-1"))

	assert.Equal(t, models.ExecutionFailed, env.executions.finalStatus)
	assert.Contains(t, env.executions.finalError, "bad channel")
	assert.Contains(t, env.executions.finalError, "timeout")
}

func TestExecute_TriggerNoLongerHolds(t *testing.T) {
	env := newTestEnv(t,
		&scriptedTrigger{triggered: false},
		[]capability.Reaction{&scriptedReaction{name: "first"}},
		true,
	)

	require.NoError(t, env.executor.Execute(context.Background(), "evt-1"))

	assert.Equal(t, models.ExecutionSkipped, env.executions.finalStatus)
	assert.Empty(t, env.executions.finalResponse.Reactions)
	assert.Equal(t, []string{"evt-1"}, env.schedules.consumed)
}

func TestExecute_DisabledAutomationSkips(t *testing.T) {
	env := newTestEnv(t,
		&scriptedTrigger{triggered: true},
		[]capability.Reaction{&scriptedReaction{name: "first"}},
		false,
	)

	require.NoError(t, env.executor.Execute(context.Background(), "evt-1"))

	assert.Equal(t, models.ExecutionSkipped, env.executions.finalStatus)
	assert.Equal(t, "automation disabled", env.executions.finalResponse.Note)
}

func TestExecute_DuplicateDeliveryIsNoOp(t *testing.T) {
	env := newTestEnv(t,
		&scriptedTrigger{triggered: true},
		[]capability.Reaction{&scriptedReaction{name: "first"}},
		true,
	)
	env.executions.alreadyRunning = true

	require.NoError(t, env.executor.Execute(context.Background(), "evt-1"))

	assert.Empty(t, env.executions.finalStatus, "no finalize on duplicate delivery")
	assert.Empty(t, env.schedules.consumed)
}

func TestAggregate(t *testing.T) {
	ok := models.ReactionOutcome{OK: true, CapabilityKey: "a.b"}
	bad := models.ReactionOutcome{OK: false, CapabilityKey: "c.d", Error: "boom"}

	status, errText := aggregate(nil)
	assert.Equal(t, models.ExecutionSuccess, status)
	assert.Empty(t, errText)

	status, _ = aggregate([]models.ReactionOutcome{ok, ok})
	assert.Equal(t, models.ExecutionSuccess, status)

	status, errText = aggregate([]models.ReactionOutcome{ok, bad})
	assert.Equal(t, models.ExecutionPartialSuccess, status)
	assert.Equal(t, "c.d: boom", errText)

	status, errText = aggregate([]models.ReactionOutcome{bad, bad})
	assert.Equal(t, models.ExecutionFailed, status)
	assert.Equal(t, "c.d: boom; c.d: boom", errText)
}
