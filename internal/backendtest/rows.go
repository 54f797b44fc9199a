package backendtest

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type table struct {
	seq  int
	ids  []string
	rows map[string]map[string]any
}

func newTable() *table {
	return &table{rows: make(map[string]map[string]any)}
}

func (t *table) insert(row map[string]any) string {
	t.seq++
	id := strconv.Itoa(t.seq)
	stored := make(map[string]any, len(row)+1)
	for k, v := range row {
		stored[k] = v
	}
	stored["id"] = id
	t.ids = append(t.ids, id)
	t.rows[id] = stored
	return id
}

func (t *table) delete(id string) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	for i, v := range t.ids {
		if v == id {
			t.ids = append(t.ids[:i], t.ids[i+1:]...)
			break
		}
	}
	return true
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		out[k] = v
	}
	return out
}

// tableFor resolves a view or table name. Callers hold s.mu.
func (s *Server) tableFor(name string) *table {
	if id, ok := s.views[name]; ok {
		name = id
	}
	t, ok := s.tables[name]
	if !ok {
		t = newTable()
		s.tables[name] = t
	}
	return t
}

// Seed inserts rows into a view's table and returns their ids.
func (s *Server) Seed(name string, rows ...map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tableFor(name)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, t.insert(row))
	}
	return ids
}

// Row returns a stored row.
func (s *Server) Row(name, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tableFor(name).rows[id]
	if !ok {
		return nil, false
	}
	return copyRow(row), true
}

// SetField changes a stored value, as another writer would.
func (s *Server) SetField(name, id, field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.tableFor(name).rows[id]; ok {
		row[field] = value
	}
}

var reserved = map[string]bool{"limit": true, "offset": true, "order": true}

func (s *Server) listRows(c *gin.Context) {
	s.mu.Lock()
	t := s.tableFor(c.Param("name"))
	rows := make([]map[string]any, 0, len(t.ids))
	for _, id := range t.ids {
		rows = append(rows, copyRow(t.rows[id]))
	}
	s.mu.Unlock()

	for key, values := range c.Request.URL.Query() {
		if reserved[key] || len(values) == 0 {
			continue
		}
		kept := rows[:0]
		for _, row := range rows {
			if fmt.Sprint(row[key]) == values[0] {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	if order := c.Query("order"); order != "" {
		field, desc := strings.TrimPrefix(order, "-"), strings.HasPrefix(order, "-")
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := fmt.Sprint(rows[i][field]), fmt.Sprint(rows[j][field])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	total := len(rows)
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset > len(rows) {
		offset = len(rows)
	}
	rows = rows[offset:]
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"nodes": rows, "totalCount": total})
}

func (s *Server) getRow(c *gin.Context) {
	row, ok := s.Row(c.Param("name"), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) insertRow(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	id := s.tableFor(c.Param("name")).insert(body)
	s.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) updateRow(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tableFor(c.Param("name")).rows[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
		return
	}
	for k, v := range body {
		if k != "id" {
			row[k] = v
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) deleteRow(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tableFor(c.Param("name")).delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) triggerAction(c *gin.Context) {
	params := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s.mu.Lock()
	fn := s.actions[c.Param("field")]
	_, exists := s.tableFor(c.Param("name")).rows[c.Param("id")]
	s.mu.Unlock()

	if fn == nil {
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"isExecuted": true})
		return
	}
	status, body := fn(c.Param("id"), params)
	c.JSON(status, body)
}

func (s *Server) addRelation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tableFor(c.Param("name")).rows[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
		return
	}
	field, ref := c.Param("field"), c.Param("ref")
	refs, _ := row[field].([]any)
	for _, r := range refs {
		if r == ref {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
	}
	row[field] = append(refs, ref)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) removeRelation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tableFor(c.Param("name")).rows[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "row not found"})
		return
	}
	field, ref := c.Param("field"), c.Param("ref")
	refs, _ := row[field].([]any)
	kept := make([]any, 0, len(refs))
	for _, r := range refs {
		if r != ref {
			kept = append(kept, r)
		}
	}
	row[field] = kept
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// uploadURL signs a one-off object URL under /objects/<table>/<fileName>.
func (s *Server) uploadURL(c *gin.Context) {
	name := c.Query("fileName")
	if name == "" || strings.Contains(name, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileName is required"})
		return
	}
	table := c.Param("name")
	if id, ok := s.views[table]; ok {
		table = id
	}
	signed := fmt.Sprintf("%s/objects/%s/%s?signature=%s", s.URL, table, name, uuid.NewString())
	c.JSON(http.StatusOK, gin.H{"url": signed})
}

func (s *Server) putObject(c *gin.Context) {
	if c.Query("signature") == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing signature"})
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	s.mu.Lock()
	s.objects[key] = object{contentType: c.GetHeader("Content-Type"), data: data}
	s.mu.Unlock()
	c.Status(http.StatusOK)
}

func (s *Server) getObject(c *gin.Context) {
	data, contentType, ok := s.Object(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}
