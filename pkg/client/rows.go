package client

import (
	"strconv"

	"github.com/kartikbazzad/bunview/pkg/operation"
)

// Row is a JSON object row.
type Row = operation.Row

// RowPage is the list response: one page of rows and the total count.
type RowPage struct {
	Nodes      []Row
	TotalCount int
}

// AsRow interprets result data as a single row.
func AsRow(data any) (Row, bool) {
	row, ok := data.(map[string]any)
	return row, ok && row != nil
}

// AsPage interprets result data as a list response.
func AsPage(data any) (RowPage, bool) {
	obj, ok := data.(map[string]any)
	if !ok {
		return RowPage{}, false
	}
	var page RowPage
	if nodes, ok := obj["nodes"].([]any); ok {
		page.Nodes = make([]Row, 0, len(nodes))
		for _, n := range nodes {
			if row, ok := n.(map[string]any); ok {
				page.Nodes = append(page.Nodes, row)
			}
		}
	}
	if total, ok := obj["totalCount"].(float64); ok {
		page.TotalCount = int(total)
	}
	return page, true
}

// rowID renders an id from a JSON value.
func rowID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
