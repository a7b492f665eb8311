package scheduler

import (
	"context"
	"encoding/json"
	"sync"
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
	"github.com/flowhook/flowhook-api/internal/temporal"
)

type fakeSchedules struct {
	repository.ScheduleRepository
	mu         sync.Mutex
	lastRunIDs []string
	events     []models.HookEvent
}

func (f *fakeSchedules) UpdateLastRun(ctx context.Context, jobID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRunIDs = append(f.lastRunIDs, jobID)
	return nil
}

func (f *fakeSchedules) CreateHookEvent(ctx context.Context, triggerBindingID, source string, payload json.RawMessage) (models.HookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := models.HookEvent{
		ID:               "evt-1",
		TriggerBindingID: triggerBindingID,
		Source:           source,
		Payload:          payload,
	}
	f.events = append(f.events, event)
	return event, nil
}

type fakeAutomations struct {
	repository.AutomationRepository
	automation models.Automation
	trigger    models.TriggerBinding
}

func (f *fakeAutomations) GetAutomation(ctx context.Context, id string) (models.Automation, error) {
	return f.automation, nil
}

func (f *fakeAutomations) GetTriggerBinding(ctx context.Context, id string) (models.TriggerBinding, error) {
	if f.trigger.ID == "" {
		return models.TriggerBinding{}, engine.Ef(engine.KindNotFound, "trigger binding %s not found", id)
	}
	return f.trigger, nil
}

func (f *fakeAutomations) ListEnabledReactionBindings(ctx context.Context, automationID string) ([]models.ReactionBinding, error) {
	return nil, nil
}

func (f *fakeAutomations) GetTriggerParamValues(ctx context.Context, triggerBindingID string) ([]models.ParamValue, error) {
	return nil, nil
}

type fakeEnqueuer struct {
	mu          sync.Mutex
	workflowIDs []string
	params      []temporal.ExecutionParams
}

func (f *fakeEnqueuer) EnqueueExecution(ctx context.Context, workflowID string, params temporal.ExecutionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflowIDs = append(f.workflowIDs, workflowID)
	f.params = append(f.params, params)
	return nil
}

type pollTrigger struct {
	result capability.TriggerResult
	err    error
}

func (pollTrigger) Key() capability.Key {
	return capability.Key{Provider: "test", Name: "poll"}
}

func (pollTrigger) Params() []capability.ParamSpec { return nil }

func (p pollTrigger) Check(ctx context.Context, inv *capability.Invocation) (capability.TriggerResult, error) {
	return p.result, p.err
}

func newSchedulerEnv(t *testing.T, automations *fakeAutomations, trigger pollTrigger) (*Scheduler, *fakeSchedules, *fakeEnqueuer) {
	t.Helper()

	reg := capability.NewRegistry(zerolog.Nop())
	reg.RegisterTrigger(trigger)
	comp := compiler.New(automations, reg.Freeze(), zerolog.Nop())

	schedules := &fakeSchedules{}
	enqueuer := &fakeEnqueuer{}
	cfg := config.SchedulerConfig{SweepInterval: 30 * time.Second, CheckTimeout: time.Second}
	s := New(schedules, comp, enqueuer, nil, cfg, zerolog.Nop())
	return s, schedules, enqueuer
}

func job() models.PollingJob {
	return models.PollingJob{
		ID:               "pj-1",
		TriggerBindingID: "tb-1",
		IntervalSeconds:  60,
		Status:           models.PollingJobActive,
	}
}

func enabledAutomations() *fakeAutomations {
	return &fakeAutomations{
		automation: models.Automation{ID: "a-1", UserID: "u-1", Enabled: true},
		trigger:    models.TriggerBinding{ID: "tb-1", AutomationID: "a-1", CapabilityKey: "test.poll"},
	}
}

func TestRunJob_DetectionCreatesEventAndEnqueues(t *testing.T) {
	trigger := pollTrigger{result: capability.TriggerResult{
		Triggered: true,
		Output:    map[string]any{"stream_id": "555"},
	}}
	s, schedules, enqueuer := newSchedulerEnv(t, enabledAutomations(), trigger)

	s.runJob(context.Background(), job())

	require.Len(t, schedules.events, 1)
	event := schedules.events[0]
	assert.Equal(t, "tb-1", event.TriggerBindingID)
	assert.Equal(t, models.HookSourcePolling, event.Source)
	assert.JSONEq(t, `{"stream_id":"555"}`, string(event.Payload))

	require.Len(t, enqueuer.workflowIDs, 1)
	assert.Equal(t, "poll-evt-1", enqueuer.workflowIDs[0])
	assert.Equal(t, "evt-1", enqueuer.params[0].HookEventID)
	assert.Equal(t, "tb-1", enqueuer.params[0].TriggerBindingID)

	assert.Equal(t, []string{"pj-1"}, schedules.lastRunIDs)
}

func TestRunJob_NotTriggeredProducesNothing(t *testing.T) {
	s, schedules, enqueuer := newSchedulerEnv(t, enabledAutomations(), pollTrigger{})

	s.runJob(context.Background(), job())

	assert.Empty(t, schedules.events)
	assert.Empty(t, enqueuer.workflowIDs)
	assert.Equal(t, []string{"pj-1"}, schedules.lastRunIDs, "cadence advances even without a detection")
}

func TestRunJob_DisabledAutomationProducesNoEvents(t *testing.T) {
	automations := enabledAutomations()
	automations.automation.Enabled = false
	trigger := pollTrigger{result: capability.TriggerResult{Triggered: true}}
	s, schedules, enqueuer := newSchedulerEnv(t, automations, trigger)

	s.runJob(context.Background(), job())

	assert.Empty(t, schedules.events)
	assert.Empty(t, enqueuer.workflowIDs)
}

func TestRunJob_CheckFailureStillAdvancesCadence(t *testing.T) {
	trigger := pollTrigger{err: engine.Ef(engine.KindTransientProvider, "provider down")}
	s, schedules, enqueuer := newSchedulerEnv(t, enabledAutomations(), trigger)

	s.runJob(context.Background(), job())

	assert.Empty(t, schedules.events)
	assert.Empty(t, enqueuer.workflowIDs)
	assert.Equal(t, []string{"pj-1"}, schedules.lastRunIDs)
}

func TestRunJob_CompileFailureIsSkipped(t *testing.T) {
	automations := &fakeAutomations{
		automation: models.Automation{ID: "a-1", Enabled: true},
		// No trigger binding on file.
	}
	s, schedules, enqueuer := newSchedulerEnv(t, automations, pollTrigger{})

	s.runJob(context.Background(), job())

	assert.Empty(t, schedules.events)
	assert.Empty(t, enqueuer.workflowIDs)
	assert.Equal(t, []string{"pj-1"}, schedules.lastRunIDs)
}
