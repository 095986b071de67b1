// Package descriptor holds the declarative per-entity metadata that drives
// the integrity engine: required fields, per-tenant uniqueness key sets,
// actor reference fields and optional typed field declarations.
package descriptor

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrDuplicateDescriptor = errors.New("descriptor already registered")
	ErrUnknownEntity       = errors.New("unknown entity type")
	ErrRegistrySealed      = errors.New("descriptor registry is sealed")
	ErrInvalidDescriptor   = errors.New("invalid descriptor")
)

// System-managed fields. They can never be declared as business fields.
const (
	FieldID        = "id"
	FieldTenantID  = "tenant_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldDeletedAt = "deleted_at"
	FieldCreatedBy = "created_by"
)

var systemFields = []string{FieldID, FieldTenantID, FieldCreatedAt, FieldUpdatedAt, FieldDeletedAt, FieldCreatedBy}

// IsSystemField reports whether name is managed by the engine.
func IsSystemField(name string) bool {
	return slices.Contains(systemFields, name)
}

// Kind is the declared type of a business field.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindDate   Kind = "date" // YYYY-MM-DD or RFC 3339
	KindEmail  Kind = "email"
	KindEnum   Kind = "enum"
	KindUUID   Kind = "uuid"
	KindList   Kind = "list" // JSON array; Elem constrains the items.
	KindJSON   Kind = "json" // Any JSON object or array, stored as given.
)

func (k Kind) valid() bool {
	switch k {
	case KindString, KindNumber, KindBool, KindDate, KindEmail, KindEnum, KindUUID, KindList, KindJSON:
		return true
	}
	return false
}

// FieldSpec declares one typed business field.
type FieldSpec struct {
	Kind      Kind
	Values    []string // Allowed values for KindEnum, or for list items of Elem KindEnum.
	NotFuture bool     // KindDate only: the date may not lie after today.
	Elem      Kind     // KindList only: kind of every item. Empty accepts any item.

	// KindNumber bounds, inclusive. Positive additionally rejects zero.
	Min      *float64
	Max      *float64
	Positive bool
}

// Bound returns a pointer to v, for FieldSpec.Min and FieldSpec.Max literals.
func Bound(v float64) *float64 { return &v }

// Descriptor is the static configuration of one entity type.
type Descriptor struct {
	RequiredFields       []string
	UniqueKeys           [][]string
	ActorReferenceFields []string
	// Fields is optional. When non-empty the descriptor is strict:
	// business fields not declared here are rejected.
	Fields map[string]FieldSpec
}

// Strict reports whether undeclared business fields are rejected.
func (d Descriptor) Strict() bool {
	return len(d.Fields) > 0
}

// Spec returns the declared spec of a field.
func (d Descriptor) Spec(name string) (FieldSpec, bool) {
	spec, ok := d.Fields[name]
	return spec, ok
}

// IsActorReference reports whether name is an actor reference field.
func (d Descriptor) IsActorReference(name string) bool {
	return slices.Contains(d.ActorReferenceFields, name)
}

// KeySetName is the stable name of a uniqueness key set, used in errors
// and as the key table discriminator.
func KeySetName(fields []string) string {
	return strings.Join(fields, ",")
}

func (d Descriptor) validate() error {
	declared := func(name string) bool {
		if !d.Strict() {
			return true
		}
		_, ok := d.Fields[name]
		return ok
	}
	check := func(where, name string) error {
		if name == "" {
			return fmt.Errorf("%w: empty field name in %s", ErrInvalidDescriptor, where)
		}
		if IsSystemField(name) {
			return fmt.Errorf("%w: %s uses system field %q", ErrInvalidDescriptor, where, name)
		}
		if !declared(name) {
			return fmt.Errorf("%w: %s names undeclared field %q", ErrInvalidDescriptor, where, name)
		}
		return nil
	}

	for _, f := range d.RequiredFields {
		if err := check("required_fields", f); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(d.UniqueKeys))
	for i, set := range d.UniqueKeys {
		if len(set) == 0 {
			return fmt.Errorf("%w: unique_keys[%d] is empty", ErrInvalidDescriptor, i)
		}
		for _, f := range set {
			if err := check(fmt.Sprintf("unique_keys[%d]", i), f); err != nil {
				return err
			}
		}
		name := KeySetName(set)
		if seen[name] {
			return fmt.Errorf("%w: unique key set %q declared twice", ErrInvalidDescriptor, name)
		}
		seen[name] = true
	}
	for _, f := range d.ActorReferenceFields {
		if err := check("actor_reference_fields", f); err != nil {
			return err
		}
		if spec, ok := d.Fields[f]; ok && spec.Kind != KindUUID {
			return fmt.Errorf("%w: actor reference %q must be of kind uuid", ErrInvalidDescriptor, f)
		}
	}
	for name, spec := range d.Fields {
		if IsSystemField(name) {
			return fmt.Errorf("%w: fields declares system field %q", ErrInvalidDescriptor, name)
		}
		if !spec.Kind.valid() {
			return fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidDescriptor, name, spec.Kind)
		}
		if (spec.Kind == KindEnum || spec.Elem == KindEnum) && len(spec.Values) == 0 {
			return fmt.Errorf("%w: enum field %q has no values", ErrInvalidDescriptor, name)
		}
		if spec.NotFuture && spec.Kind != KindDate && spec.Elem != KindDate {
			return fmt.Errorf("%w: not_future on non-date field %q", ErrInvalidDescriptor, name)
		}
		if spec.Elem != "" {
			if spec.Kind != KindList {
				return fmt.Errorf("%w: elem on non-list field %q", ErrInvalidDescriptor, name)
			}
			if !spec.Elem.valid() || spec.Elem == KindList {
				return fmt.Errorf("%w: list field %q has unsupported item kind %q", ErrInvalidDescriptor, name, spec.Elem)
			}
		}
		if spec.Min != nil || spec.Max != nil || spec.Positive {
			if spec.Kind != KindNumber && spec.Elem != KindNumber {
				return fmt.Errorf("%w: bounds on non-number field %q", ErrInvalidDescriptor, name)
			}
			if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
				return fmt.Errorf("%w: field %q has min above max", ErrInvalidDescriptor, name)
			}
		}
	}
	return nil
}

// clone deep-copies d so registered descriptors cannot be mutated through
// slices the caller still holds.
func (d Descriptor) clone() Descriptor {
	out := Descriptor{
		RequiredFields:       slices.Clone(d.RequiredFields),
		ActorReferenceFields: slices.Clone(d.ActorReferenceFields),
	}
	if d.UniqueKeys != nil {
		out.UniqueKeys = make([][]string, len(d.UniqueKeys))
		for i, set := range d.UniqueKeys {
			out.UniqueKeys[i] = slices.Clone(set)
		}
	}
	if d.Fields != nil {
		out.Fields = make(map[string]FieldSpec, len(d.Fields))
		for name, spec := range d.Fields {
			spec.Values = slices.Clone(spec.Values)
			if spec.Min != nil {
				spec.Min = Bound(*spec.Min)
			}
			if spec.Max != nil {
				spec.Max = Bound(*spec.Max)
			}
			out.Fields[name] = spec
		}
	}
	return out
}
