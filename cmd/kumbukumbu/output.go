package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/engine"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

// Exit codes.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitRejected = 2 // The engine refused the operation (validation, duplicate, reference, ...).
	ExitNotFound = 3
	ExitStorage  = 4 // Storage timeout, including exhausted retries.
)

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, tenant.ErrInvalidTenant), errors.Is(err, descriptor.ErrUnknownEntity):
		return ExitNotFound
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrDuplicateKey),
		errors.Is(err, engine.ErrCrossTenantReference), errors.Is(err, engine.ErrSelfReference),
		errors.Is(err, engine.ErrImmutableField), errors.Is(err, engine.ErrTenantMismatch):
		return ExitRejected
	case errors.Is(err, engine.ErrStorageTimeout):
		return ExitStorage
	}
	return ExitFailure
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows under header as aligned columns.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// parseFields decodes a JSON object given inline or as @path.
func parseFields(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", data[1:], err)
		}
		raw = b
	}
	// Numbers stay json.Number so large integer ids keep every digit.
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, errors.New("--data must hold a single JSON object")
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
