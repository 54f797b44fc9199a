package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kartikbazzad/bunview/pkg/errors"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/schema"
	"github.com/kartikbazzad/bunview/pkg/transport"
)

// View drives the row, relation, action and upload endpoints of one view.
// Reads return handles; writes run to completion and return their outcome.
type View struct {
	client *Client
	def    schema.Definition
	logger *slog.Logger
}

func newView(c *Client, def schema.Definition) *View {
	return &View{
		client: c,
		def:    def,
		logger: c.logger.With("view", def.ID),
	}
}

// Definition returns the definition the driver was built from.
func (v *View) Definition() schema.Definition {
	return v.def
}

// ListParams are the list query parameters. Params carries view-specific
// filters and is sent as extra query parameters.
type ListParams struct {
	Limit  int
	Offset int
	Order  []string
	Params map[string]string
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	for _, o := range p.Order {
		q.Add("order", o)
	}
	for k, val := range p.Params {
		q.Set(k, val)
	}
	return q
}

// ReadRows lists rows. The result data decodes with AsPage.
func (v *View) ReadRows(params ListParams, cfgs ...operation.Config) *ResultHandle {
	req := transport.Request{
		Method: http.MethodGet,
		Path:   transport.JoinPath(v.def.ID, "rows"),
		Query:  params.query(),
	}
	return v.client.Execute(v.client.newOperation(req, cfgs...))
}

// ReadRow reads one row. The result data decodes with AsRow.
func (v *View) ReadRow(id string, cfgs ...operation.Config) *ResultHandle {
	req := transport.Request{
		Method: http.MethodGet,
		Path:   transport.JoinPath(v.def.ID, "rows", id),
	}
	return v.client.Execute(v.client.newOperation(req, cfgs...))
}

// Row applies the read shape to single-row result data.
func (v *View) Row(data any) (Row, bool) {
	row, ok := AsRow(data)
	if !ok {
		return nil, false
	}
	return v.def.ReadShape(row), true
}

// Page applies the read shape to every row of list result data.
func (v *View) Page(data any) (RowPage, bool) {
	page, ok := AsPage(data)
	if !ok {
		return RowPage{}, false
	}
	for i, row := range page.Nodes {
		page.Nodes[i] = v.def.ReadShape(row)
	}
	return page, true
}

// InsertRow creates a row and returns it as read back from the view.
func (v *View) InsertRow(ctx context.Context, data Row) (Row, error) {
	body, err := v.def.WriteShape(data)
	if err != nil {
		return nil, err
	}
	res, err := v.write(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   transport.JoinPath(v.def.ID, "rows"),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	created, _ := AsRow(res.Data)
	id, ok := rowID(created["id"])
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrNoData, "insert response carries no row id")
	}
	v.logger.Debug("row inserted", "id", id)
	return v.readBack(ctx, id)
}

// UpdateRow patches a row and returns it as read back from the view.
func (v *View) UpdateRow(ctx context.Context, id string, data Row) (Row, error) {
	body, err := v.def.WriteShape(data)
	if err != nil {
		return nil, err
	}
	if _, err := v.write(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   transport.JoinPath(v.def.ID, "rows", id),
		Body:   body,
	}); err != nil {
		return nil, err
	}
	v.logger.Debug("row updated", "id", id)
	return v.readBack(ctx, id)
}

// DeleteRow deletes a row.
func (v *View) DeleteRow(ctx context.Context, id string) (bool, error) {
	if _, err := v.write(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   transport.JoinPath(v.def.ID, "rows", id),
	}); err != nil {
		return false, err
	}
	v.logger.Debug("row deleted", "id", id)
	return true, nil
}

// AddRelation links rowID to every refID through the relation field.
// Requests run in parallel; the first failure fails the call.
func (v *View) AddRelation(ctx context.Context, rowID, fieldID string, refIDs ...string) (bool, error) {
	return v.relation(ctx, http.MethodPost, rowID, fieldID, refIDs)
}

// RemoveRelation unlinks rowID from every refID.
func (v *View) RemoveRelation(ctx context.Context, rowID, fieldID string, refIDs ...string) (bool, error) {
	return v.relation(ctx, http.MethodDelete, rowID, fieldID, refIDs)
}

func (v *View) relation(ctx context.Context, method, rowID, fieldID string, refIDs []string) (bool, error) {
	if f, ok := v.def.Field(fieldID); ok {
		if _, isRelation := f.(schema.Relation); !isRelation {
			return false, fmt.Errorf("%s is not a relation: %w", fieldID, apperrors.ErrUnknownField)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refIDs {
		req := transport.Request{
			Method: method,
			Path:   transport.JoinPath(v.def.TableID, "rows", rowID, "relation", fieldID, ref),
		}
		g.Go(func() error {
			_, err := v.write(gctx, req)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	return true, nil
}

// ActionTrigger runs one action field of the view.
type ActionTrigger struct {
	view  *View
	field string
}

// Action returns the trigger for an action field. Views without field
// definitions accept any field id.
func (v *View) Action(fieldID string) (*ActionTrigger, error) {
	if len(v.def.Fields()) > 0 {
		f, ok := v.def.Field(fieldID)
		if !ok {
			return nil, fmt.Errorf("%s: %w", fieldID, apperrors.ErrUnknownField)
		}
		if _, ok := f.(schema.Action); !ok {
			return nil, fmt.Errorf("%s: %w", fieldID, apperrors.ErrNotAction)
		}
	}
	return &ActionTrigger{view: v, field: fieldID}, nil
}

// Trigger runs the action on a row. It succeeds only when the backend
// reports the action as executed.
func (a *ActionTrigger) Trigger(ctx context.Context, rowID string, params map[string]any) (bool, error) {
	if params == nil {
		params = map[string]any{}
	}
	res, err := a.view.write(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   transport.JoinPath(a.view.def.TableID, "rows", rowID, "action", a.field),
		Body:   params,
	})
	if err != nil {
		return false, err
	}
	body, _ := AsRow(res.Data)
	if executed, _ := body["isExecuted"].(bool); !executed {
		return false, apperrors.ErrTriggerFailed
	}
	return true, nil
}

// File is an upload payload. Method defaults to PUT.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	Method      string
}

// Upload stores a file through a presigned URL and returns the object URL
// without its signature.
func (v *View) Upload(ctx context.Context, f File) (string, error) {
	name := uuid.NewString() + path.Ext(f.Name)
	res, err := v.write(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   transport.JoinPath(v.def.TableID, "upload-url"),
		Query:  url.Values{"fileName": {name}},
	})
	if err != nil {
		return "", err
	}
	body, _ := AsRow(res.Data)
	signed, _ := body["url"].(string)
	if signed == "" {
		return "", apperrors.Wrap(apperrors.ErrNoData, "upload url missing")
	}

	method := f.Method
	if method == "" {
		method = http.MethodPut
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := v.write(ctx, transport.Request{
		Method:      method,
		URL:         signed,
		Raw:         f.Data,
		ContentType: contentType,
	}); err != nil {
		return "", err
	}

	u, err := url.Parse(signed)
	if err != nil {
		return "", apperrors.Wrap(err, "parse upload url")
	}
	u.RawQuery = ""
	u.Fragment = ""
	v.logger.Debug("file uploaded", "url", u.String())
	return u.String(), nil
}

// write runs req network-only and waits for its result.
func (v *View) write(ctx context.Context, req transport.Request) (operation.Result, error) {
	op := v.client.newOperation(req, operation.Config{NetworkPolicy: operation.NetworkOnly})
	return v.client.Execute(op).Wait(ctx)
}

// readBack fetches the row with a call of its own, issued after the write.
func (v *View) readBack(ctx context.Context, id string) (Row, error) {
	res, err := v.ReadRow(id, operation.Config{NetworkPolicy: operation.NetworkOnly}).waitOwn(ctx)
	if err != nil {
		return nil, err
	}
	row, ok := v.Row(res.Data)
	if !ok {
		return nil, apperrors.ErrNoData
	}
	return row, nil
}
