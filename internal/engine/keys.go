package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// uniqueKeys computes the record's uniqueness keys. A key set with any
// null or absent component is not enforced, like a SQL unique index over
// a nullable column.
func uniqueKeys(d descriptor.Descriptor, fields map[string]any) ([]domain.UniqueKey, error) {
	keys := make([]domain.UniqueKey, 0, len(d.UniqueKeys))
	for _, set := range d.UniqueKeys {
		values := make([]any, len(set))
		complete := true
		for i, name := range set {
			v := fields[name]
			if v == nil {
				complete = false
				break
			}
			values[i] = canonical(v)
		}
		if !complete {
			continue
		}
		raw, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("encoding key %s: %w", descriptor.KeySetName(set), err)
		}
		keys = append(keys, domain.UniqueKey{KeySet: descriptor.KeySetName(set), Value: string(raw)})
	}
	return keys, nil
}

// canonical rewrites numbers so equal values always encode alike:
// 30, 30.0 and 3e1 share one key, and integers keep every digit.
func canonical(v any) any {
	switch x := v.(type) {
	case json.Number:
		return canonicalNumber(x)
	case float64:
		return canonicalNumber(json.Number(strconv.FormatFloat(x, 'g', -1, 64)))
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = canonical(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = canonical(el)
		}
		return out
	}
	return v
}

func canonicalNumber(n json.Number) json.RawMessage {
	s := n.String()
	if !strings.ContainsAny(s, "eE") {
		if r, ok := new(big.Rat).SetString(s); ok && r.IsInt() {
			return json.RawMessage(r.Num().String())
		}
	}
	f, err := n.Float64()
	if err != nil {
		return json.RawMessage(s)
	}
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		i, _ := big.NewFloat(f).Int(nil)
		return json.RawMessage(i.String())
	}
	return json.RawMessage(strconv.FormatFloat(f, 'g', -1, 64))
}

// checkKeys fails with DuplicateKeyError when another record holds any of keys.
// Soft-deleted records release their keys, so every owner found is live.
func checkKeys(ctx context.Context, tx storage.Tx, tenantID uuid.UUID, entityType string, self uuid.UUID, keys []domain.UniqueKey) error {
	for _, k := range keys {
		owner, ok, err := tx.KeyOwner(ctx, tenantID, entityType, k)
		if err != nil {
			return err
		}
		if ok && owner != self {
			return &DuplicateKeyError{KeySet: k.KeySet}
		}
	}
	return nil
}
