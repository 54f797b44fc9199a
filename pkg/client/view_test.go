package client

import (
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/kartikbazzad/bunview/internal/backendtest"
	apperrors "github.com/kartikbazzad/bunview/pkg/errors"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/schema"
)

func TestInsertRow_ReadsBack(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	v := c.View("people")

	row, err := v.InsertRow(ctx, Row{"name": "X"})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if row["name"] != "X" {
		t.Fatalf("row = %#v", row)
	}
	id, ok := rowID(row["id"])
	if !ok {
		t.Fatalf("row has no id: %#v", row)
	}

	res, err := v.ReadRow(id, operation.Config{NetworkPolicy: operation.CacheOnly}).Wait(ctx)
	if err != nil {
		t.Fatalf("ReadRow cache-only: %v", err)
	}
	cached, _ := v.Row(res.Data)
	if !reflect.DeepEqual(cached, row) {
		t.Errorf("cached row = %#v, want %#v", cached, row)
	}
	if srv.Hits(http.MethodPost, "/people/rows") != 1 {
		t.Errorf("insert hits = %d", srv.Hits(http.MethodPost, "/people/rows"))
	}
}

func TestInsertRow_AppliesWriteShape(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{Views: map[string]string{"active_people": "people"}})
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	c.Views().Register(schema.NewDefinition("active_people", "people",
		schema.Text{FieldID: "name"},
		schema.Relation{FieldID: "company", TargetTable: "companies"},
		schema.Formula{FieldID: "initials"},
		schema.Password{FieldID: "password"},
	))
	ctx := testContext(t)

	row, err := c.View("active_people").InsertRow(ctx, Row{
		"name":     "Ada",
		"company":  map[string]any{"id": "c1", "name": "Acme"},
		"initials": "A",
		"password": "hunter2",
	})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	id, _ := rowID(row["id"])
	stored, ok := srv.Row("people", id)
	if !ok {
		t.Fatalf("row %s not stored", id)
	}
	if stored["company"] != "c1" {
		t.Errorf("company stored as %#v, want its id", stored["company"])
	}
	if _, ok := stored["initials"]; ok {
		t.Errorf("read-only field was written")
	}
	if stored["password"] != "hunter2" {
		t.Errorf("password not written")
	}
	if _, ok := row["password"]; ok {
		t.Errorf("write-only field returned in the read row")
	}
}

func TestInsertRow_ConcurrentIdenticalWritesStaySeparate(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	v := c.View("people")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := v.InsertRow(ctx, Row{"name": "same"})
			if err != nil {
				t.Errorf("InsertRow: %v", err)
				return
			}
			id, _ := rowID(row["id"])
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 4 {
		t.Errorf("distinct rows = %d, want 4", len(ids))
	}
	if hits := srv.Hits(http.MethodPost, "/people/rows"); hits != 4 {
		t.Errorf("insert hits = %d, want 4", hits)
	}
}

func TestUpdateRow(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	v := c.View("people")

	row, err := v.UpdateRow(ctx, ids[1], Row{"done": true})
	if err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}
	if row["done"] != true || row["name"] != "Grace" {
		t.Errorf("row = %#v", row)
	}

	if _, err := v.UpdateRow(ctx, "missing", Row{"done": true}); apperrors.StatusCode(err) != http.StatusNotFound {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestUpdateRow_ReadBackWhileRowIsBeingRead(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	v := c.View("people")
	path := "/people/rows/" + ids[0]

	arrived, release := srv.Hold(http.MethodGet, path)
	defer release()
	var reader collector
	defer v.ReadRow(ids[0]).Subscribe(reader.add)()
	waitArrived(t, arrived)

	type outcome struct {
		row Row
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		row, err := v.UpdateRow(ctx, ids[0], Row{"done": true})
		done <- outcome{row, err}
	}()

	// the read-back is a call of its own, not the one already in flight
	waitArrived(t, arrived)
	release()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		t.Fatal("UpdateRow did not return")
	}
	if out.err != nil {
		t.Fatalf("UpdateRow: %v", out.err)
	}
	if out.row["done"] != true {
		t.Errorf("row = %#v, want done=true", out.row)
	}
	if hits := srv.Hits(http.MethodGet, path); hits != 2 {
		t.Errorf("GET hits = %d, want 2 (subscription plus read-back)", hits)
	}
	reader.wait(t, 1)
}

func TestUpdateRow_ReadBackFailure(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)

	srv.Fail(http.MethodGet, "/people/rows/"+ids[0], http.StatusServiceUnavailable, 1)
	_, err := c.View("people").UpdateRow(ctx, ids[0], Row{"done": true})
	if apperrors.StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want the read-back error", err)
	}
	stored, _ := srv.Row("people", ids[0])
	if stored["done"] != true {
		t.Errorf("patch was not applied before the read-back")
	}
}

func TestDeleteRow_ThenRead(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	v := c.View("people")

	ok, err := v.DeleteRow(ctx, ids[2])
	if err != nil || !ok {
		t.Fatalf("DeleteRow = %v, %v", ok, err)
	}

	res, err := v.ReadRow(ids[2], operation.Config{NetworkPolicy: operation.NetworkOnly}).Wait(ctx)
	if err == nil || res.Error == nil {
		t.Fatal("expected an error reading a deleted row")
	}
	if res.Data != nil {
		t.Errorf("data = %#v, want nil", res.Data)
	}

	if ok, err := v.DeleteRow(ctx, ids[2]); ok || apperrors.StatusCode(err) != http.StatusNotFound {
		t.Errorf("second delete = %v, %v", ok, err)
	}
}

func TestAction_Trigger(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	c.Views().Register(schema.NewDefinition("people", "",
		schema.Text{FieldID: "name"},
		schema.Action{FieldID: "invite"},
	))
	v := c.View("people")

	var (
		mu  sync.Mutex
		got map[string]any
	)
	srv.OnAction("invite", func(rowID string, params map[string]any) (int, any) {
		mu.Lock()
		got = params
		mu.Unlock()
		return http.StatusOK, map[string]any{"isExecuted": true}
	})

	action, err := v.Action("invite")
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	ok, err := action.Trigger(ctx, ids[0], map[string]any{"role": "admin"})
	if err != nil || !ok {
		t.Fatalf("Trigger = %v, %v", ok, err)
	}
	mu.Lock()
	if got["role"] != "admin" {
		t.Errorf("params = %#v", got)
	}
	mu.Unlock()

	if _, err := v.Action("name"); !errors.Is(err, apperrors.ErrNotAction) {
		t.Errorf("Action(name) err = %v, want ErrNotAction", err)
	}
	if _, err := v.Action("missing"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("Action(missing) err = %v, want ErrUnknownField", err)
	}
}

func TestAction_FailureMapping(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)

	action, err := c.View("people").Action("archive")
	if err != nil {
		t.Fatalf("Action on a schemaless view: %v", err)
	}

	srv.OnAction("archive", func(string, map[string]any) (int, any) {
		return http.StatusInternalServerError, map[string]any{"error": "boom"}
	})
	ok, err := action.Trigger(ctx, ids[0], nil)
	if ok || err == nil {
		t.Fatalf("Trigger = %v, %v; want failure", ok, err)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error %q does not carry the status", err)
	}

	srv.OnAction("archive", func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"queued": true}
	})
	if _, err := action.Trigger(ctx, ids[0], nil); !errors.Is(err, apperrors.ErrTriggerFailed) {
		t.Errorf("err = %v, want ErrTriggerFailed", err)
	}
}

func TestRelations(t *testing.T) {
	srv := newTestServer(t, backendtest.Options{})
	ids := seedPeople(srv)
	c := newTestClient(t, Config{Endpoint: srv.Endpoint()})
	ctx := testContext(t)
	v := c.View("people")

	ok, err := v.AddRelation(ctx, ids[0], "friends", ids[1], ids[2])
	if err != nil || !ok {
		t.Fatalf("AddRelation = %v, %v", ok, err)
	}
	row, _ := srv.Row("people", ids[0])
	if refs, _ := row["friends"].([]any); len(refs) != 2 {
		t.Errorf("friends = %#v", row["friends"])
	}

	if ok, err := v.RemoveRelation(ctx, ids[0], "friends", ids[1]); err != nil || !ok {
		t.Fatalf("RemoveRelation = %v, %v", ok, err)
	}
	row, _ = srv.Row("people", ids[0])
	if refs, _ := row["friends"].([]any); !reflect.DeepEqual(refs, []any{ids[2]}) {
		t.Errorf("friends = %#v", row["friends"])
	}

	srv.Fail(http.MethodPost, "/people/rows/"+ids[0]+"/relation/friends/"+ids[2], http.StatusConflict, 1)
	if ok, err := v.AddRelation(ctx, ids[0], "friends", ids[1], ids[2]); ok || apperrors.StatusCode(err) != http.StatusConflict {
		t.Errorf("AddRelation with one failure = %v, %v", ok, err)
	}
}

func TestRelations_RejectNonRelationField(t *testing.T) {
	c := newTestClient(t, Config{Endpoint: "http://localhost"})
	c.Views().Register(schema.NewDefinition("people", "", schema.Text{FieldID: "name"}))
	if _, err := c.View("people").AddRelation(testContext(t), "1", "name", "2"); !errors.Is(err, apperrors.ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestUpload(t *testing.T) {
	secret := []byte("backend-secret")
	srv := newTestServer(t, backendtest.Options{Secret: secret, Views: map[string]string{"active_people": "people"}})
	c := newTestClient(t, Config{Endpoint: srv.Endpoint(), Token: srv.Token("user-1")})
	c.Views().Register(schema.NewDefinition("active_people", "people"))
	ctx := testContext(t)

	got, err := c.View("active_people").Upload(ctx, File{
		Name:        "avatar.png",
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	if u.RawQuery != "" {
		t.Errorf("url keeps its signature: %q", got)
	}
	if !strings.HasPrefix(u.Path, "/objects/people/") || !strings.HasSuffix(u.Path, ".png") {
		t.Errorf("path = %q", u.Path)
	}

	data, contentType, ok := srv.Object(strings.TrimPrefix(u.Path, "/objects/"))
	if !ok || string(data) != "png-bytes" || contentType != "image/png" {
		t.Errorf("stored object = %q %q %v", data, contentType, ok)
	}
	if auth := srv.Header(http.MethodPut, u.Path).Get("Authorization"); auth != "" {
		t.Errorf("bearer token sent to the storage url: %q", auth)
	}
}
