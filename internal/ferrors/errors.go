// Package ferrors classifies the error taxonomy described for fastlane's
// core: transient infra failures are retried in place, permanent runtime
// failures fail the Execution, and a handful of terminal kinds (timeout,
// expired, stopped) carry their own no-retry policy.
package ferrors

import "errors"

// Kind is the semantic classification of a failure, not its message.
type Kind int

const (
	// KindTransient covers Store, Queue, or ContainerRuntime timeouts and
	// unreachable dependencies: retry with back-off, bounded.
	KindTransient Kind = iota

	// KindPermanent covers image-not-found, invalid command, disabled
	// host: fail the Execution, let the Job's retry budget decide.
	KindPermanent

	// KindJobLogic covers malformed submissions: rejected at creation, never
	// stored.
	KindJobLogic

	// KindTimeout covers wall-clock exceeded: stop the container, mark
	// timedout, consult the retry budget.
	KindTimeout

	// KindExpired covers a Job whose expiration passed before it could
	// start: terminal, no retry.
	KindExpired

	// KindStopped covers an operator-issued /stop: terminal, no retry.
	KindStopped
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindJobLogic:
		return "job_logic"
	case KindTimeout:
		return "timeout"
	case KindExpired:
		return "expired"
	case KindStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind. A nil err still produces a non-nil
// *Error carrying only the classification, which is useful for sentinel
// comparisons with errors.Is.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Transient, Permanent, Timeout, Expired, and Stopped are convenience
// constructors mirroring the taxonomy's named policies.
func Transient(err error) *Error { return New(KindTransient, err) }
func Permanent(err error) *Error { return New(KindPermanent, err) }
func JobLogic(err error) *Error  { return New(KindJobLogic, err) }
func Timeout(err error) *Error   { return New(KindTimeout, err) }
func Expired(err error) *Error   { return New(KindExpired, err) }
func Stopped(err error) *Error   { return New(KindStopped, err) }

// ClassOf extracts the Kind of err, defaulting to KindTransient for any
// error that was not explicitly classified — the safe default is to retry
// rather than silently drop work.
func ClassOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// RetryAllowed reports whether err's kind, on its own, admits a subsequent
// attempt. It does not account for the Job's retry budget — callers must
// still check executions_count against retries+1.
func RetryAllowed(err error) bool {
	switch ClassOf(err) {
	case KindExpired, KindStopped, KindJobLogic:
		return false
	default:
		return true
	}
}
