package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies engine failures so callers can decide between retrying,
// disabling bindings, or rejecting a request outright.
type Kind string

const (
	// KindNotFound covers missing automations, bindings, capabilities and
	// credentials. Automation-scoped; never crashes the scheduler sweep.
	KindNotFound Kind = "not_found"

	// KindValidation covers malformed or incomplete parameter values.
	KindValidation Kind = "validation"

	// KindCredentialExpired means the provider rejected the refresh grant.
	// Dependent bindings should be disabled rather than retried.
	KindCredentialExpired Kind = "credential_expired"

	// KindTransientProvider covers timeouts and 5xx responses from a
	// third-party API. Retryable by the queue layer.
	KindTransientProvider Kind = "transient_provider"

	// KindSignatureInvalid is a webhook authentication failure. Always
	// rejected, never retried.
	KindSignatureInvalid Kind = "signature_invalid"
)

// Error carries a Kind alongside the usual message/cause chain.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// E builds a kinded error.
func E(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef builds a kinded error with a formatted message.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. Returns nil for a nil cause.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Wrapf attaches a kind with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf walks the error chain and returns the first Kind found, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
