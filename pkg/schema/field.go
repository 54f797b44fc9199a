// Package schema describes views and the fields they expose, and derives
// the read and write shapes of rows from them.
package schema

// FieldType names a field kind in configuration and logs.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeNumber   FieldType = "number"
	TypeDate     FieldType = "date"
	TypeBoolean  FieldType = "boolean"
	TypeSelect   FieldType = "select"
	TypeRelation FieldType = "relation"
	TypeLookup   FieldType = "lookup"
	TypeRollup   FieldType = "rollup"
	TypeFormula  FieldType = "formula"
	TypeAction   FieldType = "action"
	TypeRole     FieldType = "role"
	TypePassword FieldType = "password"
	TypeFile     FieldType = "file"
)

// Field is one of the concrete field types below. The set is closed: only
// this package implements it.
type Field interface {
	ID() string
	Type() FieldType
	field()
}

type Text struct{ FieldID string }

type Number struct{ FieldID string }

type Date struct{ FieldID string }

type Boolean struct{ FieldID string }

type Select struct {
	FieldID  string
	Options  []string
	Multiple bool
}

// Relation links rows of another table. Values are written as an id, or a
// list of ids when Multiple.
type Relation struct {
	FieldID     string
	TargetTable string
	Multiple    bool
}

// Lookup reads a field through a relation.
type Lookup struct {
	FieldID  string
	Relation string
	Target   string
}

// Rollup aggregates a field through a relation.
type Rollup struct {
	FieldID  string
	Relation string
	Function string
}

type Formula struct {
	FieldID    string
	Expression string
}

// Action is a server-side trigger attached to a row.
type Action struct {
	FieldID string
	Label   string
}

type Role struct{ FieldID string }

// Password is written but never read back.
type Password struct{ FieldID string }

type File struct {
	FieldID  string
	Multiple bool
}

func (f Text) ID() string     { return f.FieldID }
func (f Number) ID() string   { return f.FieldID }
func (f Date) ID() string     { return f.FieldID }
func (f Boolean) ID() string  { return f.FieldID }
func (f Select) ID() string   { return f.FieldID }
func (f Relation) ID() string { return f.FieldID }
func (f Lookup) ID() string   { return f.FieldID }
func (f Rollup) ID() string   { return f.FieldID }
func (f Formula) ID() string  { return f.FieldID }
func (f Action) ID() string   { return f.FieldID }
func (f Role) ID() string     { return f.FieldID }
func (f Password) ID() string { return f.FieldID }
func (f File) ID() string     { return f.FieldID }

func (Text) Type() FieldType     { return TypeText }
func (Number) Type() FieldType   { return TypeNumber }
func (Date) Type() FieldType     { return TypeDate }
func (Boolean) Type() FieldType  { return TypeBoolean }
func (Select) Type() FieldType   { return TypeSelect }
func (Relation) Type() FieldType { return TypeRelation }
func (Lookup) Type() FieldType   { return TypeLookup }
func (Rollup) Type() FieldType   { return TypeRollup }
func (Formula) Type() FieldType  { return TypeFormula }
func (Action) Type() FieldType   { return TypeAction }
func (Role) Type() FieldType     { return TypeRole }
func (Password) Type() FieldType { return TypePassword }
func (File) Type() FieldType     { return TypeFile }

func (Text) field()     {}
func (Number) field()   {}
func (Date) field()     {}
func (Boolean) field()  {}
func (Select) field()   {}
func (Relation) field() {}
func (Lookup) field()   {}
func (Rollup) field()   {}
func (Formula) field()  {}
func (Action) field()   {}
func (Role) field()     {}
func (Password) field() {}
func (File) field()     {}

// Access reports whether a field appears in read rows and in write payloads.
func Access(f Field) (readable, writable bool) {
	switch f.(type) {
	case Text, Number, Date, Boolean, Select, Relation, Role, File:
		return true, true
	case Lookup, Rollup, Formula, Action:
		return true, false
	case Password:
		return false, true
	default:
		return false, false
	}
}
