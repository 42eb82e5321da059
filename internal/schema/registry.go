// Package schema holds the per-step table definitions and turns samples
// into collector payloads.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType is the declared type of one table column.
type FieldType uint8

const (
	// NotSet terminates a field definition list.
	NotSet FieldType = iota
	UInt64
	Double
)

// String returns the type name.
func (t FieldType) String() string {
	switch t {
	case NotSet:
		return "not_set"
	case UInt64:
		return "uint64"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// ParseFieldType parses "uint64" or "double", case-insensitively.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint64", "u64":
		return UInt64, nil
	case "double", "float64", "f64":
		return Double, nil
	default:
		return NotSet, fmt.Errorf("%w: %q", ErrInvalidFieldType, s)
	}
}

// Field is one named, typed column.
type Field struct {
	Name string
	Type FieldType
}

// Table is an immutable named schema.
type Table struct {
	name   string
	fields []Field
}

// Name returns the table's display name.
func (t *Table) Name() string { return t.name }

// Fields returns a copy of the ordered field list.
func (t *Table) Fields() []Field {
	out := make([]Field, len(t.fields))
	copy(out, t.fields)
	return out
}

// Len returns the number of fields.
func (t *Table) Len() int { return len(t.fields) }

// Handle identifies a table by its creation index.
type Handle int

// InvalidHandle is returned alongside an error from CreateTable.
const InvalidHandle Handle = -1

var (
	// ErrProfilingInactive means the step is not being profiled.
	ErrProfilingInactive = errors.New("profiling is not active for this step")
	// ErrUnknownHandle means the handle was never issued by this registry.
	ErrUnknownHandle = errors.New("unknown table handle")
	// ErrInvalidFieldType means a field definition carries an unknown type.
	ErrInvalidFieldType = errors.New("invalid field type")
)

// Gate reports whether tables may be created.
type Gate interface {
	Enabled() bool
}

// Registry is the growable list of tables for one step.
// It is not safe for concurrent use.
type Registry struct {
	gate   Gate
	tables []*Table
}

// NewRegistry returns an empty registry gated by g.
func NewRegistry(g Gate) *Registry {
	return &Registry{gate: g}
}

// CreateTable copies defs up to the first NotSet entry into a new table
// and returns its handle.
func (r *Registry) CreateTable(name string, defs []Field) (Handle, error) {
	if r.gate != nil && !r.gate.Enabled() {
		return InvalidHandle, ErrProfilingInactive
	}

	fields := make([]Field, 0, len(defs))
	for _, d := range defs {
		if d.Type == NotSet {
			break
		}
		if d.Type != UInt64 && d.Type != Double {
			return InvalidHandle, fmt.Errorf("table %q field %q: %w %d", name, d.Name, ErrInvalidFieldType, d.Type)
		}
		fields = append(fields, d)
	}

	r.tables = append(r.tables, &Table{name: name, fields: fields})
	return Handle(len(r.tables) - 1), nil
}

// Table returns the table for h.
func (r *Registry) Table(h Handle) (*Table, error) {
	if h < 0 || int(h) >= len(r.tables) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return r.tables[h], nil
}

// Encode serializes values against the table behind h.
func (r *Registry) Encode(h Handle, values []Value) ([]byte, error) {
	t, err := r.Table(h)
	if err != nil {
		return nil, err
	}
	return Encode(t, values)
}

// Len returns the number of tables created.
func (r *Registry) Len() int { return len(r.tables) }

// Reset drops every table at step teardown. Handles issued before Reset
// are no longer valid.
func (r *Registry) Reset() {
	r.tables = nil
}
