package chaterr

import "errors"

var (
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidReference   = errors.New("invalid reference")
	ErrAlreadyDeleted     = errors.New("already deleted")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrRateLimited        = errors.New("rate limited")
	ErrTransportFailure   = errors.New("transport failure")
	ErrInvalidAction      = errors.New("invalid action")
)

// Kind is the wire name of an error category carried by error events.
type Kind string

const (
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindInvalidReference   Kind = "invalid_reference"
	KindAlreadyDeleted     Kind = "already_deleted"
	KindInvariantViolation Kind = "invariant_violation"
	KindRateLimited        Kind = "rate_limited"
	KindTransportFailure   Kind = "transport_failure"
	KindInvalidAction      Kind = "invalid_action"
	KindInternal           Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
	{ErrInvalidReference, KindInvalidReference},
	{ErrAlreadyDeleted, KindAlreadyDeleted},
	{ErrInvariantViolation, KindInvariantViolation},
	{ErrRateLimited, KindRateLimited},
	{ErrTransportFailure, KindTransportFailure},
	{ErrInvalidAction, KindInvalidAction},
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Reason returns the client-facing text for err. Internal errors are not leaked.
func Reason(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
