package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error the engine returns for a rejected operation
// matches one of these (or descriptor.ErrUnknownEntity / tenant.ErrInvalidTenant)
// with errors.Is. Typed details below unwrap to their sentinel.
var (
	ErrTenantMismatch       = errors.New("tenant mismatch")
	ErrValidation           = errors.New("validation failed")
	ErrCrossTenantReference = errors.New("cross-tenant reference")
	ErrSelfReference        = errors.New("self reference")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrImmutableField       = errors.New("immutable field")
	ErrNotFound             = errors.New("record not found")
	ErrStorageTimeout       = errors.New("storage timeout")
	ErrCancelled            = errors.New("operation cancelled")
)

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateKeyError names the uniqueness key set a write collided on.
type DuplicateKeyError struct {
	KeySet string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: (%s) already exists in tenant", e.KeySet)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// ImmutableFieldError reports an attempt to change a write-once field.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is immutable", e.Field)
}

func (e *ImmutableFieldError) Unwrap() error { return ErrImmutableField }

// ReferenceError reports an actor reference that does not resolve to a live
// actor of the acting tenant. Unknown actors are reported the same way.
type ReferenceError struct {
	Field string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("field %s references an actor outside the tenant", e.Field)
}

func (e *ReferenceError) Unwrap() error { return ErrCrossTenantReference }

// SelfReferenceError reports a reference field pointing at its own record.
type SelfReferenceError struct {
	Field string
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf("field %s references the record itself", e.Field)
}

func (e *SelfReferenceError) Unwrap() error { return ErrSelfReference }
