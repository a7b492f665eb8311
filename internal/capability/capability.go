package capability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Key identifies a capability as <provider>.<name>, e.g. "twitch.stream_online".
type Key struct {
	Provider string
	Name     string
}

func (k Key) String() string { return k.Provider + "." + k.Name }

// ParseKey splits a stored "provider.name" capability key.
func ParseKey(s string) (Key, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			if i == 0 || i == len(s)-1 {
				break
			}
			return Key{Provider: s[:i], Name: s[i+1:]}, nil
		}
	}
	return Key{}, fmt.Errorf("malformed capability key %q", s)
}

// TriggerResult is the outcome of a trigger check. Output is propagated to
// every reaction when Triggered is true.
type TriggerResult struct {
	Triggered bool
	Output    map[string]any
}

// ReactionResult is the outcome of running one reaction.
type ReactionResult struct {
	OK     bool
	Output map[string]any
}

// TokenSource hands out valid provider access tokens for a credential ref,
// refreshing behind the scenes when needed.
type TokenSource interface {
	AccessToken(ctx context.Context, credentialID string) (string, error)
}

// Invocation carries everything a capability needs for one check or run.
type Invocation struct {
	AutomationID string
	BindingID    string
	UserID       string
	CredentialID *string

	// Params is the compile-time resolved parameter map for the binding.
	Params map[string]any

	// Input is the trigger's output for reactions, or the hook event payload
	// when a trigger is re-checked during execution. Empty map when absent.
	Input map[string]any

	Tokens TokenSource
	Logger zerolog.Logger
}

// Credential returns the invocation's credential ref or an error when the
// binding has none.
func (inv *Invocation) Credential() (string, error) {
	if inv.CredentialID == nil || *inv.CredentialID == "" {
		return "", fmt.Errorf("binding %s has no credential", inv.BindingID)
	}
	return *inv.CredentialID, nil
}

// Trigger detects whether a condition became true. Check must be idempotent
// detection: safe to call repeatedly, side-effect-free beyond provider reads.
type Trigger interface {
	Key() Key
	Params() []ParamSpec
	Check(ctx context.Context, inv *Invocation) (TriggerResult, error)
}

// Reaction performs a side-effecting action with the trigger's output as
// input. Failures must surface as errors, never be swallowed.
type Reaction interface {
	Key() Key
	Params() []ParamSpec
	Run(ctx context.Context, inv *Invocation) (ReactionResult, error)
}
