package client

import (
	"sync"

	"github.com/kartikbazzad/bunview/pkg/schema"
)

// Views builds view drivers on first use and hands out the same driver for
// an id afterwards.
type Views struct {
	client *Client

	mu      sync.Mutex
	defs    map[string]schema.Definition
	drivers map[string]*View
}

func newViews(c *Client, defs []schema.Definition) *Views {
	v := &Views{
		client:  c,
		defs:    make(map[string]schema.Definition, len(defs)),
		drivers: make(map[string]*View),
	}
	for _, d := range defs {
		v.defs[d.ID] = d
	}
	return v
}

// Register adds or replaces definitions. A replaced definition gets a new
// driver on the next Get.
func (v *Views) Register(defs ...schema.Definition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range defs {
		v.defs[d.ID] = d
		delete(v.drivers, d.ID)
	}
}

// Get returns the driver for id. Ids without a registered definition get a
// schemaless driver whose table id equals the view id.
func (v *Views) Get(id string) *View {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d, ok := v.drivers[id]; ok {
		return d
	}
	def, ok := v.defs[id]
	if !ok {
		def = schema.NewDefinition(id, id)
	}
	d := newView(v.client, def)
	v.drivers[id] = d
	return d
}

// IDs returns the ids of registered definitions.
func (v *Views) IDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.defs))
	for id := range v.defs {
		ids = append(ids, id)
	}
	return ids
}
