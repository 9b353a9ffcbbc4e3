// Package errs is the single error-kind taxonomy graphqueue's layers raise
// and the HTTP adapter classifies: a definition-load failure, a submit-time
// parameter failure, an upstream rejection, or a plain not-found lookup.
// workflows.DefinitionError and params.ValidationError are type aliases of
// the types defined here, so every layer constructs the same concrete type
// the adapter switches on — there is exactly one taxonomy, not three.
package errs

import (
	"errors"
	"fmt"

	"graphqueue/internal/graphqueue/upstream"
)

// ErrValidation wraps any failed definition load/validate pass.
var ErrValidation = errors.New("workflow definition validation failed")

// DefinitionError is a load-time structural violation, fatal to startup.
type DefinitionError struct {
	File    string
	Path    string
	Message string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
}

func (e *DefinitionError) Unwrap() error { return ErrValidation }

// ValidationError is a submit-time parameter failure.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Message)
}

// ErrNotFound is the sentinel a lookup returns when a resource the caller
// named (a job, a prompt, a preset) doesn't exist, distinct from
// sql.ErrNoRows so non-store callers can raise it directly.
var ErrNotFound = errors.New("not found")

// Kind is the coarse bucket respondError maps onto an HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
)

// Classify buckets err into a Kind by walking its error chain: a
// *DefinitionError, *ValidationError or ErrValidation is KindValidation; an
// upstream rejection is KindUpstream; a not-found sentinel is KindNotFound;
// anything else is KindInternal.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var defErr *DefinitionError
	var valErr *ValidationError
	switch {
	case errors.As(err, &defErr), errors.As(err, &valErr), errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, upstream.ErrValidation):
		return KindUpstream
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
