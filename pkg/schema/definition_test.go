package schema

import (
	"reflect"
	"testing"
)

func peopleDefinition() Definition {
	return NewDefinition("people", "",
		Text{FieldID: "name"},
		Relation{FieldID: "company", TargetTable: "companies"},
		Relation{FieldID: "tags", TargetTable: "tags", Multiple: true},
		Formula{FieldID: "initials", Expression: "LEFT(name, 1)"},
		Lookup{FieldID: "companyName", Relation: "company", Target: "name"},
		Action{FieldID: "invite", Label: "Invite"},
		Password{FieldID: "password"},
	)
}

func TestNewDefinition_TableDefaultsToView(t *testing.T) {
	d := peopleDefinition()
	if d.TableID != "people" {
		t.Errorf("TableID = %q, want people", d.TableID)
	}
	other := NewDefinition("active_people", "people")
	if other.TableID != "people" {
		t.Errorf("TableID = %q, want people", other.TableID)
	}
}

func TestWriteShape(t *testing.T) {
	d := peopleDefinition()
	got, err := d.WriteShape(map[string]any{
		"name":        "Ada",
		"company":     map[string]any{"id": "c1", "name": "Acme"},
		"tags":        []any{map[string]any{"id": "t1"}, "t2"},
		"initials":    "A",
		"companyName": "Acme",
		"invite":      true,
		"password":    "hunter2",
		"extra":       42,
	})
	if err != nil {
		t.Fatalf("WriteShape: %v", err)
	}
	want := map[string]any{
		"name":     "Ada",
		"company":  "c1",
		"tags":     []any{"t1", "t2"},
		"password": "hunter2",
		"extra":    42,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WriteShape = %#v\nwant %#v", got, want)
	}
}

func TestWriteShape_SingleRelationRejectsMany(t *testing.T) {
	d := peopleDefinition()
	if _, err := d.WriteShape(map[string]any{"company": []any{"c1", "c2"}}); err == nil {
		t.Fatal("expected error for two rows on a single relation")
	}
	got, err := d.WriteShape(map[string]any{"company": []any{"c1"}, "tags": "t1"})
	if err != nil {
		t.Fatalf("WriteShape: %v", err)
	}
	if got["company"] != "c1" {
		t.Errorf("company = %#v, want c1", got["company"])
	}
	if !reflect.DeepEqual(got["tags"], []any{"t1"}) {
		t.Errorf("tags = %#v, want [t1]", got["tags"])
	}
}

func TestReadShape_DropsWriteOnlyFields(t *testing.T) {
	d := peopleDefinition()
	got := d.ReadShape(map[string]any{"id": "1", "name": "Ada", "password": "x", "initials": "A"})
	want := map[string]any{"id": "1", "name": "Ada", "initials": "A"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadShape = %#v, want %#v", got, want)
	}
	if d.ReadShape(nil) != nil {
		t.Errorf("ReadShape(nil) should be nil")
	}
}

func TestActions(t *testing.T) {
	actions := peopleDefinition().Actions()
	if len(actions) != 1 || actions[0].ID() != "invite" || actions[0].Label != "Invite" {
		t.Errorf("Actions = %#v", actions)
	}
}

func TestFromConfig(t *testing.T) {
	d, err := FromConfig(ViewConfig{
		ID:      "active_people",
		TableID: "people",
		Fields: map[string]FieldConfig{
			"name":    {Type: "text"},
			"company": {Type: "Relation", Target: "companies"},
			"invite":  {Type: "action", Label: "Invite"},
		},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if d.ID != "active_people" || d.TableID != "people" {
		t.Errorf("ids = %q/%q", d.ID, d.TableID)
	}
	f, ok := d.Field("company")
	if !ok {
		t.Fatal("company field missing")
	}
	if rel, ok := f.(Relation); !ok || rel.TargetTable != "companies" || rel.Multiple {
		t.Errorf("company = %#v", f)
	}
	if len(d.Fields()) != 3 {
		t.Errorf("fields = %d, want 3", len(d.Fields()))
	}

	if _, err := FromConfig(ViewConfig{ID: "x", Fields: map[string]FieldConfig{"f": {Type: "blob"}}}); err == nil {
		t.Error("expected error for unknown field type")
	}
	if _, err := FromConfig(ViewConfig{}); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestAccess(t *testing.T) {
	tests := []struct {
		field              Field
		readable, writable bool
	}{
		{Text{FieldID: "a"}, true, true},
		{Relation{FieldID: "a"}, true, true},
		{Rollup{FieldID: "a"}, true, false},
		{Action{FieldID: "a"}, true, false},
		{Password{FieldID: "a"}, false, true},
	}
	for _, tt := range tests {
		r, w := Access(tt.field)
		if r != tt.readable || w != tt.writable {
			t.Errorf("Access(%s) = %v, %v; want %v, %v", tt.field.Type(), r, w, tt.readable, tt.writable)
		}
	}
}
