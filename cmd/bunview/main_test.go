package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/kartikbazzad/bunview/internal/backendtest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRowsCommands(t *testing.T) {
	srv := backendtest.New(backendtest.Options{})
	defer srv.Close()
	srv.Seed("people", map[string]any{"name": "Ada"}, map[string]any{"name": "Grace"})
	t.Setenv("BUNVIEW_ENDPOINT", srv.Endpoint())

	out, err := run(t, "rows", "list", "people", "--limit", "1")
	if err != nil {
		t.Fatalf("rows list: %v", err)
	}
	var page struct {
		Nodes      []map[string]any `json:"nodes"`
		TotalCount int              `json:"totalCount"`
	}
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(page.Nodes) != 1 || page.TotalCount != 2 {
		t.Errorf("page = %+v", page)
	}

	out, err = run(t, "rows", "insert", "people", `{"name":"Linus"}`)
	if err != nil {
		t.Fatalf("rows insert: %v", err)
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(out), &row); err != nil || row["name"] != "Linus" {
		t.Fatalf("inserted row = %q (%v)", out, err)
	}

	out, err = run(t, "rows", "delete", "people", row["id"].(string))
	if err != nil || !strings.Contains(out, "deleted") {
		t.Fatalf("rows delete = %q, %v", out, err)
	}
	if srv.Hits(http.MethodDelete, "/people/rows/"+row["id"].(string)) != 1 {
		t.Errorf("delete did not reach the backend")
	}
}

func TestActionCommand_Failure(t *testing.T) {
	srv := backendtest.New(backendtest.Options{})
	defer srv.Close()
	ids := srv.Seed("people", map[string]any{"name": "Ada"})
	srv.OnAction("archive", func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{}
	})

	_, err := run(t, "action", "trigger", "people", "archive", ids[0], "--endpoint", srv.Endpoint())
	if err == nil || !strings.Contains(err.Error(), "Trigger has failed") {
		t.Errorf("err = %v, want trigger failure", err)
	}
}

func TestParseJSONObject(t *testing.T) {
	if _, err := parseJSONObject("[1,2]"); err == nil {
		t.Error("expected error for a JSON array")
	}
	obj, err := parseJSONObject("")
	if err != nil || len(obj) != 0 {
		t.Errorf("empty input = %v, %v", obj, err)
	}
}
