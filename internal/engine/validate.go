package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

const dateLayout = "2006-01-02"

// formats checks string formats such as email addresses.
var formats = validator.New()

// normalize converts caller values into their JSON form (numbers become
// json.Number, UUIDs and times become strings) so what is validated, compared
// for uniqueness and stored is exactly what a later read returns.
// nil values are kept; they mean "remove" in an update.
func normalize(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("fields are not JSON-encodable: %v", err)}
	}
	out := make(map[string]any, len(in))
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("decoding fields: %v", err)}
	}
	return out, nil
}

// stripCreateSystemFields rejects engine-managed fields in create input.
// A tenant_id equal to the acting tenant is accepted and dropped.
func stripCreateSystemFields(tc tenant.Context, fields map[string]any) error {
	if v, ok := fields[descriptor.FieldTenantID]; ok {
		if !sameTenant(tc, v) {
			return fmt.Errorf("%w: tenant_id does not match the acting tenant", ErrTenantMismatch)
		}
		delete(fields, descriptor.FieldTenantID)
	}
	for _, name := range sortedNames(fields) {
		if descriptor.IsSystemField(name) {
			return &ValidationError{Field: name, Reason: "system-managed field cannot be set"}
		}
	}
	return nil
}

// stripUpdateSystemFields enforces write-once fields on an update.
// Unchanged tenant_id and id values are dropped; deleted_at is only
// accepted as the exact restore change set, handled by the caller.
func stripUpdateSystemFields(tc tenant.Context, rec *domain.Record, changes map[string]any) error {
	for _, name := range sortedNames(changes) {
		v := changes[name]
		switch name {
		case descriptor.FieldTenantID:
			if !sameTenant(tc, v) {
				return &ImmutableFieldError{Field: name}
			}
			delete(changes, name)
		case descriptor.FieldID:
			if s, ok := v.(string); !ok || s != rec.ID.String() {
				return &ImmutableFieldError{Field: name}
			}
			delete(changes, name)
		case descriptor.FieldCreatedAt, descriptor.FieldCreatedBy:
			return &ImmutableFieldError{Field: name}
		case descriptor.FieldUpdatedAt:
			return &ValidationError{Field: name, Reason: "system-managed field cannot be set"}
		case descriptor.FieldDeletedAt:
			return &ValidationError{Field: name, Reason: "use delete or restore"}
		}
	}
	return nil
}

func sameTenant(tc tenant.Context, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id == tc.TenantID()
}

// isRestore reports whether changes is exactly {"deleted_at": nil}.
func isRestore(changes map[string]any) bool {
	v, ok := changes[descriptor.FieldDeletedAt]
	return ok && v == nil && len(changes) == 1
}

// checkFields validates a complete business field set against d:
// undeclared fields on strict descriptors, required fields, and kinds.
func checkFields(d descriptor.Descriptor, fields map[string]any, now time.Time) error {
	for _, name := range sortedNames(fields) {
		if descriptor.IsSystemField(name) {
			return &ValidationError{Field: name, Reason: "system-managed field cannot be set"}
		}
		if d.Strict() {
			if _, ok := d.Spec(name); !ok {
				return &ValidationError{Field: name, Reason: "unknown field"}
			}
		}
	}
	for _, name := range d.RequiredFields {
		if blank(fields[name]) {
			return &ValidationError{Field: name, Reason: "required"}
		}
	}
	for _, name := range sortedNames(fields) {
		v := fields[name]
		if v == nil {
			continue
		}
		if spec, ok := d.Spec(name); ok {
			if err := checkKind(name, spec, v, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func checkKind(name string, spec descriptor.FieldSpec, v any, now time.Time) error {
	invalid := func(reason string) error { return &ValidationError{Field: name, Reason: reason} }

	switch spec.Kind {
	case descriptor.KindString:
		if _, ok := v.(string); !ok {
			return invalid("must be a string")
		}
	case descriptor.KindNumber:
		n, ok := number(v)
		if !ok {
			return invalid("must be a number")
		}
		return checkBounds(name, spec, n)
	case descriptor.KindBool:
		if _, ok := v.(bool); !ok {
			return invalid("must be a boolean")
		}
	case descriptor.KindEmail:
		s, ok := v.(string)
		if !ok || formats.Var(s, "required,email") != nil {
			return invalid("must be an email address")
		}
	case descriptor.KindEnum:
		s, ok := v.(string)
		if !ok || !slices.Contains(spec.Values, s) {
			return invalid(fmt.Sprintf("must be one of %s", strings.Join(spec.Values, ", ")))
		}
	case descriptor.KindUUID:
		s, ok := v.(string)
		if !ok {
			return invalid("must be a uuid")
		}
		if _, err := uuid.Parse(s); err != nil {
			return invalid("must be a uuid")
		}
	case descriptor.KindDate:
		s, ok := v.(string)
		if !ok {
			return invalid("must be a date (YYYY-MM-DD)")
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			if spec.NotFuture && t.After(now.UTC().Truncate(24*time.Hour)) {
				return invalid("must not be in the future")
			}
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return invalid("must be a date (YYYY-MM-DD)")
		}
		if spec.NotFuture && t.After(now) {
			return invalid("must not be in the future")
		}
	case descriptor.KindJSON:
		switch v.(type) {
		case map[string]any, []any:
		default:
			return invalid("must be a JSON object or array")
		}
	case descriptor.KindList:
		items, ok := v.([]any)
		if !ok {
			return invalid("must be a list")
		}
		if spec.Elem == "" {
			return nil
		}
		item := spec
		item.Kind, item.Elem = spec.Elem, ""
		for i, el := range items {
			if el == nil {
				return &ValidationError{Field: fmt.Sprintf("%s[%d]", name, i), Reason: "must not be null"}
			}
			if err := checkKind(fmt.Sprintf("%s[%d]", name, i), item, el, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// number reports the numeric value of a normalized field.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

func checkBounds(name string, spec descriptor.FieldSpec, n float64) error {
	switch {
	case n < 0 && (spec.Positive || (spec.Min != nil && *spec.Min >= 0)):
		return &ValidationError{Field: name, Reason: "must not be negative"}
	case spec.Positive && n == 0:
		return &ValidationError{Field: name, Reason: "must not be zero"}
	case spec.Min != nil && n < *spec.Min:
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be at least %g", *spec.Min)}
	case spec.Max != nil && n > *spec.Max:
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be at most %g", *spec.Max)}
	}
	return nil
}

// checkSelfReferences rejects reference fields holding the record's own id.
func checkSelfReferences(d descriptor.Descriptor, id uuid.UUID, fields map[string]any, createdBy *uuid.UUID) error {
	if createdBy != nil && *createdBy == id {
		return &SelfReferenceError{Field: descriptor.FieldCreatedBy}
	}
	for _, name := range d.ActorReferenceFields {
		if s, ok := fields[name].(string); ok && s == id.String() {
			return &SelfReferenceError{Field: name}
		}
	}
	return nil
}

// checkActor resolves one actor reference. Unknown, foreign and deleted
// actors are reported identically so a caller learns nothing about other tenants.
func checkActor(ctx context.Context, actors ActorResolver, tc tenant.Context, field string, actorID uuid.UUID) error {
	actor, err := actors.ResolveActor(ctx, actorID)
	if errors.Is(err, storage.ErrNotFound) {
		return &ReferenceError{Field: field}
	}
	if err != nil {
		return fmt.Errorf("resolving %s: %w", field, err)
	}
	if actor.TenantID != tc.TenantID() || actor.Deleted() {
		return &ReferenceError{Field: field}
	}
	return nil
}

// checkReferenceFields validates every non-null actor reference field.
func checkReferenceFields(ctx context.Context, actors ActorResolver, tc tenant.Context, d descriptor.Descriptor, fields map[string]any) error {
	for _, name := range d.ActorReferenceFields {
		v := fields[name]
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return &ValidationError{Field: name, Reason: "must be a uuid"}
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return &ValidationError{Field: name, Reason: "must be a uuid"}
		}
		if err := checkActor(ctx, actors, tc, name, id); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
