// Package tenant carries the acting tenant and actor through every engine call.
// A Context is a plain value passed explicitly; nothing here is global or cached.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// ErrInvalidTenant is returned for unknown, inactive or zero tenants.
var ErrInvalidTenant = errors.New("invalid tenant")

// Context is a resolved (tenant, actor) pair. The zero value is invalid.
type Context struct {
	tenantID uuid.UUID
	actorID  *uuid.UUID
}

// TenantID returns the acting tenant.
func (c Context) TenantID() uuid.UUID { return c.tenantID }

// ActorID returns the acting actor, or nil for system operations.
func (c Context) ActorID() *uuid.UUID {
	if c.actorID == nil {
		return nil
	}
	id := *c.actorID
	return &id
}

// Valid reports whether the context was produced by a Resolver.
func (c Context) Valid() bool { return c.tenantID != uuid.Nil }

// String renders the context for logs.
func (c Context) String() string {
	if c.actorID == nil {
		return "tenant=" + c.tenantID.String()
	}
	return fmt.Sprintf("tenant=%s actor=%s", c.tenantID, c.actorID)
}

// Directory looks tenants up. storage.TenantStore satisfies it.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
}

// Resolver turns raw identifiers into a Context.
type Resolver struct {
	dir Directory
}

// NewResolver creates a Resolver backed by dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve builds a Context for tenantID. The actor is carried as given;
// the engine validates it against the tenant on every mutation.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, actorID *uuid.UUID) (Context, error) {
	if tenantID == uuid.Nil {
		return Context{}, ErrInvalidTenant
	}
	t, err := r.dir.Get(ctx, tenantID)
	return bind(t, err, actorID)
}

// ResolveSlug builds a Context for the tenant with the given slug.
func (r *Resolver) ResolveSlug(ctx context.Context, slug string, actorID *uuid.UUID) (Context, error) {
	if slug == "" {
		return Context{}, ErrInvalidTenant
	}
	t, err := r.dir.GetBySlug(ctx, slug)
	return bind(t, err, actorID)
}

func bind(t *domain.Tenant, err error, actorID *uuid.UUID) (Context, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return Context{}, ErrInvalidTenant
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolving tenant: %w", err)
	}
	if !t.Active {
		return Context{}, fmt.Errorf("%w: tenant %s is inactive", ErrInvalidTenant, t.Slug)
	}
	c := Context{tenantID: t.ID}
	if actorID != nil && *actorID != uuid.Nil {
		id := *actorID
		c.actorID = &id
	}
	return c, nil
}
