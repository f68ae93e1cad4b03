package clockwork

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/repo"
)

// Kind categorizes clockwork errors.
type Kind string

const (
	// KindSchemaInvalid is a malformed change or definition. Never retried.
	KindSchemaInvalid Kind = "schema_invalid"

	// KindNotFound is a missing object, possibly compensated by discovery.
	KindNotFound Kind = "not_found"

	// KindConflict is a constraint violation. Never resolved automatically.
	KindConflict Kind = "conflict"

	// KindUnreachable is a transient failure. The caller may retry the
	// whole click.
	KindUnreachable Kind = "unreachable"

	// KindFatal aborts the context.
	KindFatal Kind = "fatal"

	// KindPartial means some non-required projections failed.
	KindPartial Kind = "partial"
)

// Error describes a failure detected while advancing a context.
type Error struct {
	Kind  Kind
	Phase model.Phase

	// Projection is the discriminator key of the affected projection, if
	// any.
	Projection string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Projection != "" {
		return fmt.Sprintf("%s in %s (projection=%s): %s", e.Kind, e.Phase, e.Projection, msg)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Phase, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, phase model.Phase, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Phase: phase, Message: fmt.Sprintf(format, args...), Err: err}
}

// Classify maps an error to its Kind. Errors that carry no recognizable
// cause are fatal.
func Classify(err error) Kind {
	var ce *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, repo.ErrSchemaInvalid), errors.Is(err, ir.ErrInvalidDelta):
		return KindSchemaInvalid
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, connector.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repo.ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, connector.ErrUnreachable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnreachable
	}
	return KindFatal
}

// IsKind reports whether err classifies as k.
func IsKind(err error, k Kind) bool {
	return err != nil && Classify(err) == k
}
