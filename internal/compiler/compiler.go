package compiler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/repository"
)

// CompiledReaction is one reaction binding resolved against the registry.
// When the capability is missing or its parameters fail validation, Err holds
// the problem and the reaction surfaces it as a failed outcome at run time
// instead of being dropped from the automation.
type CompiledReaction struct {
	Binding  models.ReactionBinding
	Reaction capability.Reaction
	Params   map[string]any
	Err      error
}

// CompiledAutomation is a fully resolved automation, ready to execute.
type CompiledAutomation struct {
	Automation    models.Automation
	Trigger       models.TriggerBinding
	TriggerImpl   capability.Trigger
	TriggerParams map[string]any
	Reactions     []CompiledReaction
}

// Compiler joins stored bindings and parameter rows against the capability
// registry into executable form.
type Compiler struct {
	automations repository.AutomationRepository
	registry    *capability.Registry
	logger      zerolog.Logger
}

func New(automations repository.AutomationRepository, registry *capability.Registry, logger zerolog.Logger) *Compiler {
	return &Compiler{
		automations: automations,
		registry:    registry,
		logger:      logger.With().Str("component", "compiler").Logger(),
	}
}

// Compile resolves the automation owning the given trigger binding. The
// trigger side is strict: an unknown trigger capability or invalid trigger
// parameters fail compilation for the whole automation. Reaction problems are
// recorded per reaction and deferred.
//
// When compilation fails after the automation row was loaded, the partial
// result is returned alongside the error so callers can attribute the
// failure to the automation.
func (c *Compiler) Compile(ctx context.Context, triggerBindingID string) (*CompiledAutomation, error) {
	binding, err := c.automations.GetTriggerBinding(ctx, triggerBindingID)
	if err != nil {
		return nil, err
	}

	automation, err := c.automations.GetAutomation(ctx, binding.AutomationID)
	if err != nil {
		return nil, err
	}
	partial := &CompiledAutomation{Automation: automation, Trigger: binding}

	trigger, err := c.registry.ResolveTrigger(binding.CapabilityKey)
	if err != nil {
		return partial, err
	}

	triggerValues, err := c.automations.GetTriggerParamValues(ctx, binding.ID)
	if err != nil {
		return partial, err
	}
	triggerParams, err := capability.ResolveParams(trigger.Params(), triggerValues)
	if err != nil {
		return partial, engine.Wrapf(engine.KindValidation, err, "trigger %s parameters", binding.CapabilityKey)
	}

	reactionBindings, err := c.automations.ListEnabledReactionBindings(ctx, automation.ID)
	if err != nil {
		return partial, err
	}

	reactions := make([]CompiledReaction, 0, len(reactionBindings))
	for _, rb := range reactionBindings {
		reactions = append(reactions, c.compileReaction(ctx, rb))
	}

	return &CompiledAutomation{
		Automation:    automation,
		Trigger:       binding,
		TriggerImpl:   trigger,
		TriggerParams: triggerParams,
		Reactions:     reactions,
	}, nil
}

func (c *Compiler) compileReaction(ctx context.Context, rb models.ReactionBinding) CompiledReaction {
	compiled := CompiledReaction{Binding: rb}

	reaction, err := c.registry.ResolveReaction(rb.CapabilityKey)
	if err != nil {
		c.logger.Warn().
			Str("reaction_binding_id", rb.ID).
			Str("capability", rb.CapabilityKey).
			Msg("reaction capability not registered, deferring to run time")
		compiled.Err = err
		return compiled
	}

	values, err := c.automations.GetReactionParamValues(ctx, rb.ID)
	if err != nil {
		compiled.Err = err
		return compiled
	}
	params, err := capability.ResolveParams(reaction.Params(), values)
	if err != nil {
		compiled.Err = engine.Wrapf(engine.KindValidation, err, "reaction %s parameters", rb.CapabilityKey)
		return compiled
	}

	compiled.Reaction = reaction
	compiled.Params = params
	return compiled
}
