package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can branch on it instead of matching
// message strings.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	ExternalEngine
	ReconciliationFailed
	PersistenceWarning
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ExternalEngine:
		return "external_engine"
	case ReconciliationFailed:
		return "reconciliation_failed"
	case PersistenceWarning:
		return "persistence_warning"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	// Op names the operation or provisioning step that failed, e.g.
	// "bridge.resolve_flow" or "db.create_job".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		if e.Op != "" {
			return fmt.Sprintf("%s: %s", e.Op, e.Msg)
		}
		return e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps an error kind to its HTTP equivalent.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ExternalEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
