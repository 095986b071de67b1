package descriptor

import (
	"fmt"
	"sort"

	"github.com/jkaninda/kumbukumbu/internal/config"
)

// FromConfig registers the entity types declared in the config file.
// Entities are registered in name order so errors are deterministic.
func FromConfig(r *Registry, entities map[string]config.EntityConfig) error {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.Register(name, fromEntityConfig(entities[name])); err != nil {
			return fmt.Errorf("loading entity %s from config: %w", name, err)
		}
	}
	return nil
}

func fromEntityConfig(ec config.EntityConfig) Descriptor {
	d := Descriptor{
		RequiredFields:       ec.RequiredFields,
		UniqueKeys:           ec.UniqueKeys,
		ActorReferenceFields: ec.ActorReferenceFields,
	}
	if len(ec.Fields) > 0 {
		d.Fields = make(map[string]FieldSpec, len(ec.Fields))
		for name, fc := range ec.Fields {
			d.Fields[name] = FieldSpec{
				Kind:      Kind(fc.Kind),
				Values:    fc.Values,
				NotFuture: fc.NotFuture,
				Elem:      Kind(fc.Elem),
				Min:       fc.Min,
				Max:       fc.Max,
				Positive:  fc.Positive,
			}
		}
	}
	return d
}
