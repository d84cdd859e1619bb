package ir

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// BaseType is the scalar type of a column.
type BaseType uint8

const (
	TypeInvalid BaseType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
)

func (t BaseType) String() string {
	switch t {
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeBool:
		return "Bool"
	default:
		return "Invalid"
	}
}

// ColumnType is a base type plus nullability. Its text form is the base type
// name with a trailing "?" when nullable, e.g. "Int?".
type ColumnType struct {
	Base     BaseType `json:"base"`
	Nullable bool     `json:"nullable"`
}

func (c ColumnType) String() string {
	if c.Nullable {
		return c.Base.String() + "?"
	}
	return c.Base.String()
}

// MarshalText implements encoding.TextMarshaler.
func (c ColumnType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ColumnType) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnType(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColumnType parses "Int", "Float?", "String" and "Bool?".
func ParseColumnType(s string) (ColumnType, error) {
	var ct ColumnType
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "?") {
		ct.Nullable = true
		s = strings.TrimSuffix(s, "?")
	}
	switch s {
	case "Int":
		ct.Base = TypeInt
	case "Float":
		ct.Base = TypeFloat
	case "String":
		ct.Base = TypeString
	case "Bool":
		ct.Base = TypeBool
	default:
		return ColumnType{}, NewSchemaError(CodeInvalidType, fmt.Sprintf("unknown column type %q", s))
	}
	return ct, nil
}

// Coerce checks v against the column type and returns the stored form.
// Int is accepted for Float columns. Null is accepted only when nullable.
func (c ColumnType) Coerce(v Value) (Value, error) {
	if IsNull(v) {
		if !c.Nullable {
			return nil, fmt.Errorf("null in non-nullable %s column", c)
		}
		return Null{}, nil
	}
	switch c.Base {
	case TypeInt:
		if i, ok := v.(Int); ok {
			return i, nil
		}
	case TypeFloat:
		if f, ok := AsFloat(v); ok {
			return Float(f), nil
		}
	case TypeString:
		if s, ok := v.(String); ok {
			return s, nil
		}
	case TypeBool:
		if b, ok := v.(Bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s value %s does not fit %s column", v.Kind(), v, c)
}

// Column is one named, typed column of a relation.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// RelationSchema describes a stored relation. Keys identify a row; Values
// carry its payload. A tuple stores key columns first, then value columns.
type RelationSchema struct {
	Name   string   `json:"name"`
	Keys   []Column `json:"keys"`
	Values []Column `json:"values"`
}

// Arity returns the total number of columns.
func (r RelationSchema) Arity() int {
	return len(r.Keys) + len(r.Values)
}

// Columns returns key columns followed by value columns.
func (r RelationSchema) Columns() []Column {
	cols := make([]Column, 0, r.Arity())
	cols = append(cols, r.Keys...)
	return append(cols, r.Values...)
}

// ColumnNames returns the column names in tuple order.
func (r RelationSchema) ColumnNames() []string {
	names := make([]string, 0, r.Arity())
	for _, c := range r.Columns() {
		names = append(names, c.Name)
	}
	return names
}

// ColumnIndex returns the tuple position of the named column, or -1.
func (r RelationSchema) ColumnIndex(name string) int {
	for i, c := range r.Keys {
		if c.Name == name {
			return i
		}
	}
	for i, c := range r.Values {
		if c.Name == name {
			return len(r.Keys) + i
		}
	}
	return -1
}

// IsKey reports whether tuple position i is a key column.
func (r RelationSchema) IsKey(i int) bool {
	return i < len(r.Keys)
}

// Normalize returns a copy with the relation and column names NFC-normalized.
func (r RelationSchema) Normalize() RelationSchema {
	out := RelationSchema{Name: NormalizeName(r.Name)}
	for _, c := range r.Keys {
		out.Keys = append(out.Keys, Column{Name: NormalizeName(c.Name), Type: c.Type})
	}
	for _, c := range r.Values {
		out.Values = append(out.Values, Column{Name: NormalizeName(c.Name), Type: c.Type})
	}
	return out
}

// Validate checks naming and shape rules for a new relation.
func (r RelationSchema) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if len(r.Keys) == 0 {
		return NewSchemaError(CodeInvalidSchema, "relation needs at least one key column").WithRelation(r.Name)
	}
	seen := make(map[string]bool, r.Arity())
	for i, c := range r.Columns() {
		if !isIdentifier(c.Name) {
			return NewSchemaError(CodeInvalidSchema, fmt.Sprintf("invalid column name %q", c.Name)).WithRelation(r.Name)
		}
		if seen[c.Name] {
			return NewSchemaError(CodeInvalidSchema, fmt.Sprintf("duplicate column %q", c.Name)).WithRelation(r.Name)
		}
		seen[c.Name] = true
		if r.IsKey(i) && c.Type.Nullable {
			return NewSchemaError(CodeInvalidSchema, fmt.Sprintf("key column %q cannot be nullable", c.Name)).WithRelation(r.Name)
		}
	}
	return nil
}

// Coerce checks a full tuple against the schema and returns its stored form.
func (r RelationSchema) Coerce(t Tuple) (Tuple, error) {
	if len(t) != r.Arity() {
		return nil, NewSchemaError(CodeArityMismatch,
			fmt.Sprintf("tuple has %d values, relation has %d columns", len(t), r.Arity())).WithRelation(r.Name)
	}
	out := make(Tuple, len(t))
	for i, c := range r.Columns() {
		v, err := c.Type.Coerce(t[i])
		if err != nil {
			return nil, NewSchemaError(CodeTypeMismatch, fmt.Sprintf("column %q: %v", c.Name, err)).WithRelation(r.Name)
		}
		out[i] = v
	}
	return out, nil
}

// CoerceKey checks a key against the key columns.
func (r RelationSchema) CoerceKey(key []Value) ([]Value, error) {
	if len(key) != len(r.Keys) {
		return nil, NewSchemaError(CodeArityMismatch,
			fmt.Sprintf("key has %d values, relation has %d key columns", len(key), len(r.Keys))).WithRelation(r.Name)
	}
	out := make([]Value, len(key))
	for i, c := range r.Keys {
		v, err := c.Type.Coerce(key[i])
		if err != nil {
			return nil, NewSchemaError(CodeTypeMismatch, fmt.Sprintf("key column %q: %v", c.Name, err)).WithRelation(r.Name)
		}
		out[i] = v
	}
	return out, nil
}

// NormalizeName returns the NFC form of an identifier so that visually
// identical names resolve to the same relation or column.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// ValidateName checks a relation name. Names are dotted identifiers such as
// "friends" or "friends.rev"; "?" is reserved for query entries.
func ValidateName(name string) error {
	if name == "" {
		return NewSchemaError(CodeInvalidSchema, "relation name is empty")
	}
	for _, part := range strings.Split(name, ".") {
		if !isIdentifier(part) {
			return NewSchemaError(CodeInvalidSchema, fmt.Sprintf("invalid relation name %q", name))
		}
	}
	return nil
}

// ValidateVar checks a variable or parameter name: an identifier, or the
// wildcard "_".
func ValidateVar(name string) error {
	if name == Wildcard || isIdentifier(name) {
		return nil
	}
	return NewSchemaError(CodeInvalidProgram, fmt.Sprintf("invalid variable name %q", name))
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)):
		default:
			return false
		}
	}
	return true
}
