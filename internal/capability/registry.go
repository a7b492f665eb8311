package capability

import (
	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/engine"
)

// Registry is the process-wide lookup of trigger and reaction implementations.
// It is populated once at startup, frozen, and then shared read-only between
// the compiler, scheduler and executor, so lookups need no locking.
type Registry struct {
	triggers  map[string]Trigger
	reactions map[string]Reaction
	logger    zerolog.Logger
	frozen    bool
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		triggers:  make(map[string]Trigger),
		reactions: make(map[string]Reaction),
		logger:    logger.With().Str("component", "capability_registry").Logger(),
	}
}

// RegisterTrigger adds a trigger implementation. Last writer wins; an
// overwrite is logged as a startup misconfiguration hint.
func (r *Registry) RegisterTrigger(t Trigger) {
	r.mustBeMutable()
	key := t.Key().String()
	if _, exists := r.triggers[key]; exists {
		r.logger.Warn().Str("key", key).Msg("trigger already registered, overwriting")
	}
	r.triggers[key] = t
	r.logger.Debug().Str("key", key).Msg("registered trigger")
}

// RegisterReaction adds a reaction implementation. Last writer wins.
func (r *Registry) RegisterReaction(re Reaction) {
	r.mustBeMutable()
	key := re.Key().String()
	if _, exists := r.reactions[key]; exists {
		r.logger.Warn().Str("key", key).Msg("reaction already registered, overwriting")
	}
	r.reactions[key] = re
	r.logger.Debug().Str("key", key).Msg("registered reaction")
}

// Freeze marks startup registration as complete.
func (r *Registry) Freeze() *Registry {
	r.frozen = true
	return r
}

func (r *Registry) mustBeMutable() {
	if r.frozen {
		panic("capability registry is frozen; register capabilities at startup")
	}
}

// ResolveTrigger looks up a trigger by its stored key. A miss is an
// automation-scoped NotFound, never process-fatal.
func (r *Registry) ResolveTrigger(key string) (Trigger, error) {
	t, ok := r.triggers[key]
	if !ok {
		return nil, engine.Ef(engine.KindNotFound, "trigger capability not found: %s", key)
	}
	return t, nil
}

// ResolveReaction looks up a reaction by its stored key.
func (r *Registry) ResolveReaction(key string) (Reaction, error) {
	re, ok := r.reactions[key]
	if !ok {
		return nil, engine.Ef(engine.KindNotFound, "reaction capability not found: %s", key)
	}
	return re, nil
}

// Triggers lists registered trigger keys, for diagnostics.
func (r *Registry) Triggers() []string {
	keys := make([]string, 0, len(r.triggers))
	for k := range r.triggers {
		keys = append(keys, k)
	}
	return keys
}

// Reactions lists registered reaction keys.
func (r *Registry) Reactions() []string {
	keys := make([]string, 0, len(r.reactions))
	for k := range r.reactions {
		keys = append(keys, k)
	}
	return keys
}
