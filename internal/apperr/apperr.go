// Package apperr defines the error kinds the core distinguishes, so
// handlers at the API and broker boundaries can map failures to the
// right outward behavior (HTTP status, connection refusal, process
// teardown) without re-deriving that classification from error text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of boundary handling.
type Kind int

const (
	// KindNotFound means the requested entity is absent. Maps to HTTP 404.
	KindNotFound Kind = iota
	// KindConflict means the entity already exists.
	KindConflict
	// KindValidation means malformed input: bad JSON, an illegal tenant
	// id, a bad certificate, a mismatched shadow identity.
	KindValidation
	// KindAuthReject is returned to the broker's accept hook only; it
	// must never be surfaced to a client beyond connection refusal.
	KindAuthReject
	// KindStorage means a DB I/O or serialization failure. Maps to HTTP 500.
	KindStorage
	// KindCert means a certificate IO/parse/sign failure.
	KindCert
	// KindFatalTaskExit means a supervised background task exited
	// unexpectedly; it trips cancellation and is unrecoverable.
	KindFatalTaskExit
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindAuthReject:
		return "auth_reject"
	case KindStorage:
		return "storage"
	case KindCert:
		return "cert"
	case KindFatalTaskExit:
		return "fatal_task_exit"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// classification via errors.As without string matching.
type Error struct {
	Kind Kind
	Op   string // short operation name, e.g. "store.UpsertShadow"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound builds a KindNotFound error.
func NotFound(op string, err error) *Error { return New(KindNotFound, op, err) }

// Conflict builds a KindConflict error.
func Conflict(op string, err error) *Error { return New(KindConflict, op, err) }

// Validation builds a KindValidation error.
func Validation(op string, err error) *Error { return New(KindValidation, op, err) }

// Storage builds a KindStorage error.
func Storage(op string, err error) *Error { return New(KindStorage, op, err) }

// Cert builds a KindCert error.
func Cert(op string, err error) *Error { return New(KindCert, op, err) }

// FatalTaskExit builds a KindFatalTaskExit error.
func FatalTaskExit(op string, err error) *Error { return New(KindFatalTaskExit, op, err) }
