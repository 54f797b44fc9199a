package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Definition is a view over a table: the view id addresses reads and
// writes, the table id addresses actions, relations and uploads.
// It is immutable once built.
type Definition struct {
	ID      string
	TableID string
	fields  map[string]Field
}

// NewDefinition builds a definition. An empty tableID means the view is
// the table itself.
func NewDefinition(id, tableID string, fields ...Field) Definition {
	if tableID == "" {
		tableID = id
	}
	d := Definition{ID: id, TableID: tableID, fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		d.fields[f.ID()] = f
	}
	return d
}

// Field returns the field with the given id.
func (d Definition) Field(id string) (Field, bool) {
	f, ok := d.fields[id]
	return f, ok
}

// Fields returns the fields ordered by id.
func (d Definition) Fields() []Field {
	out := make([]Field, 0, len(d.fields))
	for _, f := range d.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Actions returns the action fields ordered by id.
func (d Definition) Actions() []Action {
	var out []Action
	for _, f := range d.Fields() {
		if a, ok := f.(Action); ok {
			out = append(out, a)
		}
	}
	return out
}

// WriteShape turns a row into a write payload: read-only fields are
// dropped and relation values are reduced to ids. Keys the definition does
// not know are sent unchanged.
func (d Definition) WriteShape(data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for key, value := range data {
		f, known := d.fields[key]
		if !known {
			out[key] = value
			continue
		}
		if _, writable := Access(f); !writable {
			continue
		}
		switch f := f.(type) {
		case Relation:
			ids, err := relationIDs(f, value)
			if err != nil {
				return nil, err
			}
			out[key] = ids
		default:
			out[key] = value
		}
	}
	return out, nil
}

// ReadShape drops write-only fields from a row read from the backend.
func (d Definition) ReadShape(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for key, value := range row {
		if f, known := d.fields[key]; known {
			if readable, _ := Access(f); !readable {
				continue
			}
		}
		out[key] = value
	}
	return out
}

func relationIDs(f Relation, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []map[string]any:
		for _, m := range v {
			items = append(items, m)
		}
	default:
		id, err := relationID(f, v)
		if err != nil {
			return nil, err
		}
		if f.Multiple {
			return []any{id}, nil
		}
		return id, nil
	}

	ids := make([]any, 0, len(items))
	for _, item := range items {
		id, err := relationID(f, item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if f.Multiple {
		return ids, nil
	}
	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		return ids[0], nil
	default:
		return nil, fmt.Errorf("relation field %q accepts a single row, got %d", f.FieldID, len(ids))
	}
}

func relationID(f Relation, v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case float64, int, int64:
		return v, nil
	case map[string]any:
		id, ok := v["id"]
		if !ok || id == nil {
			return nil, fmt.Errorf("relation field %q: row without id", f.FieldID)
		}
		return id, nil
	default:
		return nil, fmt.Errorf("relation field %q: unsupported value %T", f.FieldID, v)
	}
}

// FieldConfig is the configuration form of a field.
type FieldConfig struct {
	Type       string   `mapstructure:"type"`
	Target     string   `mapstructure:"target"`
	Relation   string   `mapstructure:"relation"`
	Function   string   `mapstructure:"function"`
	Expression string   `mapstructure:"expression"`
	Label      string   `mapstructure:"label"`
	Options    []string `mapstructure:"options"`
	Multiple   bool     `mapstructure:"multiple"`
}

// ViewConfig is the configuration form of a definition.
type ViewConfig struct {
	ID      string                 `mapstructure:"id"`
	TableID string                 `mapstructure:"table_id"`
	Fields  map[string]FieldConfig `mapstructure:"fields"`
}

// FromConfig builds a definition from configuration.
func FromConfig(c ViewConfig) (Definition, error) {
	if c.ID == "" {
		return Definition{}, fmt.Errorf("view without id")
	}
	fields := make([]Field, 0, len(c.Fields))
	for id, fc := range c.Fields {
		f, err := fieldFromConfig(id, fc)
		if err != nil {
			return Definition{}, fmt.Errorf("view %s: %w", c.ID, err)
		}
		fields = append(fields, f)
	}
	return NewDefinition(c.ID, c.TableID, fields...), nil
}

func fieldFromConfig(id string, fc FieldConfig) (Field, error) {
	switch FieldType(strings.ToLower(fc.Type)) {
	case TypeText:
		return Text{FieldID: id}, nil
	case TypeNumber:
		return Number{FieldID: id}, nil
	case TypeDate:
		return Date{FieldID: id}, nil
	case TypeBoolean:
		return Boolean{FieldID: id}, nil
	case TypeSelect:
		return Select{FieldID: id, Options: fc.Options, Multiple: fc.Multiple}, nil
	case TypeRelation:
		return Relation{FieldID: id, TargetTable: fc.Target, Multiple: fc.Multiple}, nil
	case TypeLookup:
		return Lookup{FieldID: id, Relation: fc.Relation, Target: fc.Target}, nil
	case TypeRollup:
		return Rollup{FieldID: id, Relation: fc.Relation, Function: fc.Function}, nil
	case TypeFormula:
		return Formula{FieldID: id, Expression: fc.Expression}, nil
	case TypeAction:
		return Action{FieldID: id, Label: fc.Label}, nil
	case TypeRole:
		return Role{FieldID: id}, nil
	case TypePassword:
		return Password{FieldID: id}, nil
	case TypeFile:
		return File{FieldID: id, Multiple: fc.Multiple}, nil
	default:
		return nil, fmt.Errorf("field %s: unknown type %q", id, fc.Type)
	}
}
