package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/compiler"
	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/queue"
	"github.com/flowhook/flowhook-api/internal/repository"
	"github.com/flowhook/flowhook-api/internal/temporal"
)

// Scheduler sweeps polling jobs on a fixed cadence, runs due trigger checks
// and enqueues an execution for every detection. One bad job never stops a
// sweep; its failure is logged and the sweep moves on.
type Scheduler struct {
	schedules repository.ScheduleRepository
	compiler  *compiler.Compiler
	enqueuer  queue.Enqueuer
	tokens    capability.TokenSource

	sweepInterval time.Duration
	checkTimeout  time.Duration
	logger        zerolog.Logger

	cron *cron.Cron
}

func New(
	schedules repository.ScheduleRepository,
	comp *compiler.Compiler,
	enqueuer queue.Enqueuer,
	tokens capability.TokenSource,
	cfg config.SchedulerConfig,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		schedules:     schedules,
		compiler:      comp,
		enqueuer:      enqueuer,
		tokens:        tokens,
		sweepInterval: cfg.SweepInterval,
		checkTimeout:  cfg.CheckTimeout,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the sweep loop. Overlapping sweeps are serialized by cron's
// job wrapper so a slow sweep delays rather than stacks.
func (s *Scheduler) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.sweepInterval)
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info().Str("interval", s.sweepInterval.String()).Msg("scheduler started")
	return nil
}

// Stop halts the sweep loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sweepInterval)
	defer cancel()

	jobs, err := s.schedules.ListActivePollingJobs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list polling jobs")
		return
	}

	now := time.Now()
	due := 0
	for _, job := range jobs {
		if !job.Due(now) {
			continue
		}
		due++
		s.runJob(ctx, job)
	}

	if due > 0 {
		s.logger.Debug().Int("jobs", len(jobs)).Int("due", due).Msg("sweep complete")
	}
}

// runJob performs one trigger check. last_run_at advances after every
// attempt, detection or not, so a failing job keeps its cadence instead of
// being retried on every sweep.
func (s *Scheduler) runJob(ctx context.Context, job models.PollingJob) {
	logger := s.logger.With().
		Str("polling_job_id", job.ID).
		Str("trigger_binding_id", job.TriggerBindingID).
		Logger()

	defer func() {
		if err := s.schedules.UpdateLastRun(ctx, job.ID, time.Now()); err != nil {
			logger.Error().Err(err).Msg("failed to advance last_run_at")
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	compiled, err := s.compiler.Compile(checkCtx, job.TriggerBindingID)
	if err != nil {
		logger.Warn().Err(err).Msg("polling job does not compile, skipping")
		return
	}

	// A disabled automation produces no hook events at all.
	if !compiled.Automation.Enabled {
		return
	}

	inv := &capability.Invocation{
		AutomationID: compiled.Automation.ID,
		BindingID:    compiled.Trigger.ID,
		UserID:       compiled.Automation.UserID,
		CredentialID: compiled.Trigger.CredentialID,
		Params:       compiled.TriggerParams,
		Tokens:       s.tokens,
		Logger:       logger,
	}

	result, err := compiled.TriggerImpl.Check(checkCtx, inv)
	if err != nil {
		logger.Warn().Err(err).Msg("trigger check failed")
		return
	}
	if !result.Triggered {
		return
	}

	payload, err := json.Marshal(result.Output)
	if err != nil {
		logger.Error().Err(err).Msg("trigger output is not serializable")
		return
	}

	event, err := s.schedules.CreateHookEvent(ctx, job.TriggerBindingID, models.HookSourcePolling, payload)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record hook event")
		return
	}

	params := temporal.ExecutionParams{
		HookEventID:      event.ID,
		TriggerBindingID: job.TriggerBindingID,
	}
	if err := s.enqueuer.EnqueueExecution(ctx, queue.PollWorkflowID(event.ID), params); err != nil {
		logger.Error().Err(err).Str("hook_event_id", event.ID).Msg("failed to enqueue execution")
		return
	}

	logger.Info().Str("hook_event_id", event.ID).Msg("detection enqueued")
}
