// Package operation defines the unit of work flowing through the client
// pipeline and the results produced for it.
package operation

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kartikbazzad/bunview/pkg/transport"
)

// Verb is the HTTP method of an operation, or VerbTeardown.
type Verb string

const (
	VerbGet      Verb = http.MethodGet
	VerbPost     Verb = http.MethodPost
	VerbPatch    Verb = http.MethodPatch
	VerbPut      Verb = http.MethodPut
	VerbDelete   Verb = http.MethodDelete
	VerbTeardown Verb = "teardown"
)

// IsRead reports whether results of the verb may be cached and deduplicated.
func (v Verb) IsRead() bool {
	return v == VerbGet
}

// NetworkPolicy governs how an operation uses the result cache.
type NetworkPolicy string

const (
	// NetworkOnly always fetches and never answers from cache.
	NetworkOnly NetworkPolicy = "network-only"
	// NetworkAndCache answers from cache when possible and refreshes in the background.
	NetworkAndCache NetworkPolicy = "network-and-cache"
	// CacheOnly never fetches.
	CacheOnly NetworkPolicy = "cache-only"
)

// DefaultNetworkPolicy is used when none is configured.
const DefaultNetworkPolicy = NetworkAndCache

// ParseNetworkPolicy validates a policy name. Empty yields the default.
func ParseNetworkPolicy(s string) (NetworkPolicy, bool) {
	switch p := NetworkPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultNetworkPolicy, true
	case NetworkOnly, NetworkAndCache, CacheOnly:
		return p, true
	default:
		return "", false
	}
}

// Row is a JSON object as read from or written to the backend.
type Row = map[string]any

// Meta keys stamped by exchanges.
const (
	MetaCacheHit   = "cacheHit"
	MetaOptimistic = "optimistic"
)

// Meta is the mutable metadata bag of an operation. Exchanges stamp flags
// on it so every consumer sharing the operation sees them.
type Meta struct {
	mu     sync.RWMutex
	values map[string]any
}

// Set stores a value.
func (m *Meta) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
}

// Get returns a value and whether it was set.
func (m *Meta) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Bool returns a boolean value, false when unset.
func (m *Meta) Bool(key string) bool {
	v, _ := m.Get(key)
	b, _ := v.(bool)
	return b
}

// Operation is one unit of work. Fields are immutable by convention once the
// operation is dispatched; derive variants with With or Refresh. Key is the
// only identity the cache and the active-operation registry consult.
type Operation struct {
	// ID identifies this instance; it is sent as the request id.
	ID                 string
	Key                string
	Request            transport.Request
	Verb               Verb
	NetworkPolicy      NetworkPolicy
	PollInterval       time.Duration
	OptimisticResponse Row
	Meta               *Meta
}

// Config is a partial override applied by New, With and revalidation.
// Zero fields leave the current value unchanged; a negative PollInterval
// turns polling off.
type Config struct {
	NetworkPolicy      NetworkPolicy
	PollInterval       time.Duration
	OptimisticResponse Row
}

// New builds an operation for req. The verb follows the request method.
func New(req transport.Request, cfg Config) *Operation {
	op := &Operation{
		ID:            ulid.Make().String(),
		Key:           req.Key(),
		Request:       req,
		Verb:          verbOf(req.Method),
		NetworkPolicy: DefaultNetworkPolicy,
		Meta:          &Meta{},
	}
	op.apply(cfg)
	return op
}

// Teardown builds the signal that the last observer of key detached.
func Teardown(key string) *Operation {
	return &Operation{
		ID:   ulid.Make().String(),
		Key:  key,
		Verb: VerbTeardown,
		Meta: &Meta{},
	}
}

// With returns a copy with cfg applied. The copy has its own ID and Meta;
// the key is unchanged.
func (op *Operation) With(cfg Config) *Operation {
	cp := op.clone()
	cp.apply(cfg)
	return cp
}

// Refresh returns the network-only copy used to refetch a cache answer.
// The optimistic response is dropped so the refetch reaches the network.
func (op *Operation) Refresh() *Operation {
	cp := op.clone()
	cp.NetworkPolicy = NetworkOnly
	cp.OptimisticResponse = nil
	return cp
}

// IsTeardown reports whether op is a teardown signal.
func (op *Operation) IsTeardown() bool {
	return op.Verb == VerbTeardown
}

func (op *Operation) clone() *Operation {
	cp := *op
	cp.ID = ulid.Make().String()
	cp.Meta = &Meta{}
	return &cp
}

func (op *Operation) apply(cfg Config) {
	if cfg.NetworkPolicy != "" {
		op.NetworkPolicy = cfg.NetworkPolicy
	}
	switch {
	case cfg.PollInterval > 0:
		op.PollInterval = cfg.PollInterval
	case cfg.PollInterval < 0:
		op.PollInterval = 0
	}
	if cfg.OptimisticResponse != nil {
		op.OptimisticResponse = cfg.OptimisticResponse
	}
}

func verbOf(method string) Verb {
	if method == "" {
		return VerbGet
	}
	return Verb(strings.ToUpper(method))
}

// Result is what the pipeline emits for an operation.
type Result struct {
	Operation *Operation
	Data      any
	Error     error
	// Stale marks a cache answer while a network refresh is in flight.
	Stale bool
}

// CacheHit reports whether the result was answered from cache.
func (r Result) CacheHit() bool {
	return r.Operation != nil && r.Operation.Meta.Bool(MetaCacheHit)
}

// Optimistic reports whether the result includes an optimistic response.
func (r Result) Optimistic() bool {
	return r.Operation != nil && r.Operation.Meta.Bool(MetaOptimistic)
}

// Key returns the key of the operation that produced the result.
func (r Result) Key() string {
	if r.Operation == nil {
		return ""
	}
	return r.Operation.Key
}
