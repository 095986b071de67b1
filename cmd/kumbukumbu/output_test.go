package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/engine"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", fmt.Errorf("create: %w", engine.ErrValidation), ExitRejected},
		{"duplicate", engine.ErrDuplicateKey, ExitRejected},
		{"cross tenant", engine.ErrCrossTenantReference, ExitRejected},
		{"immutable", engine.ErrImmutableField, ExitRejected},
		{"not found", engine.ErrNotFound, ExitNotFound},
		{"store not found", storage.ErrNotFound, ExitNotFound},
		{"invalid tenant", tenant.ErrInvalidTenant, ExitNotFound},
		{"unknown entity", descriptor.ErrUnknownEntity, ExitNotFound},
		{"timeout", engine.ErrStorageTimeout, ExitStorage},
		{"cancelled", engine.ErrCancelled, ExitFailure},
		{"other", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	file := filepath.Join(t.TempDir(), "teacher.json")
	if err := os.WriteFile(file, []byte(`{"employee_id":"E7"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    string
		want    map[string]any
		wantErr bool
	}{
		{"empty", "", map[string]any{}, false},
		{"inline", `{"first_name":"Ada","title":null}`, map[string]any{"first_name": "Ada", "title": nil}, false},
		{"json null", "null", map[string]any{}, false},
		{"from file", "@" + file, map[string]any{"employee_id": "E7"}, false},
		{"large integer", `{"serial":9007199254740993}`, map[string]any{"serial": json.Number("9007199254740993")}, false},
		{"array", `["a"]`, nil, true},
		{"trailing object", `{"a":"b"} {"c":"d"}`, nil, true},
		{"missing file", "@" + file + ".missing", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFields(%q) error = %v, wantErr %v", tt.data, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseFields(%q) = %v, want %v", tt.data, got, tt.want)
			}
			for k, v := range tt.want {
				gv, ok := got[k]
				if !ok || gv != v {
					t.Errorf("field %s = %v, want %v", k, gv, v)
				}
			}
		})
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	err := printTable(&buf, []string{"SLUG", "ACTIVE"}, [][]string{
		{"green-valley", "true"},
		{"blue-ridge", "false"},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if col := strings.Index(lines[1], "true"); col != strings.Index(lines[0], "ACTIVE") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}
