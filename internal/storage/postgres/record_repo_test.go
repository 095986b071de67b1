package postgres

import (
	"encoding/json"
	"testing"

	"gorm.io/gorm/clause"
)

func TestFieldEquals_PostgresContainment(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
		want  string
	}{
		{"integer literal", "max_students", json.Number("1000000"), `{"max_students":1000000}`},
		{"float value", "max_students", float64(1000000), `{"max_students":1000000}`},
		{"fraction", "gpa", json.Number("3.75"), `{"gpa":3.75}`},
		{"string", "status", "present", `{"status":"present"}`},
		{"bool", "is_excused", true, `{"is_excused":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := fieldEquals("postgres", tt.field, tt.value)
			if err != nil {
				t.Fatalf("fieldEquals: %v", err)
			}
			e, ok := expr.(clause.Expr)
			if !ok {
				t.Fatalf("expression type = %T, want clause.Expr", expr)
			}
			if e.SQL != "fields @> ?::jsonb" {
				t.Errorf("SQL = %q", e.SQL)
			}
			if len(e.Vars) != 1 || e.Vars[0] != tt.want {
				t.Errorf("Vars = %v, want [%s]", e.Vars, tt.want)
			}
		})
	}
}
