package env

import (
	"errors"
	"fmt"
)

// Kind classifies a failed remote action. Kinds feed logs and metrics only;
// every failure is retried on the next tick regardless of its kind.
type Kind string

const (
	KindNone                  Kind = ""
	KindToolUnavailable       Kind = "tool-unavailable"
	KindAlreadyOpen           Kind = "already-open"
	KindInsufficientPrivilege Kind = "insufficient-privilege"
	KindCapacityExceeded      Kind = "capacity-exceeded"
	KindTransportFailure      Kind = "transport-failure"
	KindNotFound              Kind = "not-found"
)

// ErrFatal marks an environment fault the orchestrator cannot recover from.
// It is the only error that stops a running control loop.
var ErrFatal = errors.New("env: environment unavailable")

// Error is returned by environment implementations for remote action failures.
type Error struct {
	Op   string
	Host string
	Kind Kind
	Err  error
}

// NewError builds an Error for op against host.
func NewError(op, host string, kind Kind, err error) *Error {
	return &Error{Op: op, Host: host, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Host, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf classifies err. Errors that do not carry a kind are treated as
// transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var envErr *Error
	if errors.As(err, &envErr) && envErr.Kind != KindNone {
		return envErr.Kind
	}
	return KindTransportFailure
}

// IsFatal reports whether err wraps ErrFatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Outcome is the explicit result of one remote action.
type Outcome struct {
	OK   bool   `json:"ok"`
	Kind Kind   `json:"kind,omitempty"`
	Err  string `json:"error,omitempty"`
}

// Succeeded is the outcome of an action that worked.
func Succeeded() Outcome {
	return Outcome{OK: true}
}

// Failed converts err into an outcome.
func Failed(err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	return Outcome{Kind: KindOf(err), Err: err.Error()}
}

// Skipped records an action that was not attempted for the given reason.
func Skipped(kind Kind) Outcome {
	return Outcome{Kind: kind}
}
