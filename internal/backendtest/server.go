// Package backendtest runs an in-memory view backend over HTTP for tests.
// It serves the row, action, relation and upload endpoints, checks bearer
// tokens when a secret is set, and lets tests count, hold and fail requests.
package backendtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunview/pkg/auth"
)

// ActionFunc answers an action call with a status and a JSON body.
type ActionFunc func(rowID string, params map[string]any) (int, any)

// Options configures a Server.
type Options struct {
	// Prefix is the API root, "/v1" when empty.
	Prefix string
	// Secret enables bearer token checks on API routes.
	Secret []byte
	// Views maps view ids to table ids. Unknown names address the table
	// of the same name.
	Views map[string]string
}

// Server is the test backend. Create it with New and stop it with Close.
type Server struct {
	*httptest.Server

	prefix string
	signer auth.Signer
	views  map[string]string

	mu       sync.Mutex
	tables   map[string]*table
	objects  map[string]object
	hits     map[string]int
	headers  map[string]http.Header
	gates    map[string]chan struct{}
	arrived  map[string]chan struct{}
	failures map[string]failure
	actions  map[string]ActionFunc
	reject   bool
}

type failure struct {
	status int
	times  int
}

type object struct {
	contentType string
	data        []byte
}

// New starts a server.
func New(opts Options) *Server {
	gin.SetMode(gin.TestMode)

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "/v1"
	}
	s := &Server{
		prefix:   strings.TrimSuffix(prefix, "/"),
		signer:   auth.Signer{Secret: opts.Secret, Role: "user"},
		views:    opts.Views,
		tables:   make(map[string]*table),
		objects:  make(map[string]object),
		hits:     make(map[string]int),
		headers:  make(map[string]http.Header),
		gates:    make(map[string]chan struct{}),
		arrived:  make(map[string]chan struct{}),
		failures: make(map[string]failure),
		actions:  make(map[string]ActionFunc),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.record)

	objects := router.Group("/objects")
	objects.PUT("/*key", s.putObject)
	objects.POST("/*key", s.putObject)
	objects.GET("/*key", s.getObject)

	api := router.Group(s.prefix)
	api.Use(s.authenticate)
	api.GET("/:name/rows", s.listRows)
	api.POST("/:name/rows", s.insertRow)
	api.GET("/:name/rows/:id", s.getRow)
	api.PATCH("/:name/rows/:id", s.updateRow)
	api.DELETE("/:name/rows/:id", s.deleteRow)
	api.POST("/:name/rows/:id/action/:field", s.triggerAction)
	api.POST("/:name/rows/:id/relation/:field/:ref", s.addRelation)
	api.DELETE("/:name/rows/:id/relation/:field/:ref", s.removeRelation)
	api.GET("/:name/upload-url", s.uploadURL)

	s.Server = httptest.NewServer(router)
	return s
}

// Endpoint is the origin to configure clients with.
func (s *Server) Endpoint() string {
	return s.URL
}

// Token signs a token the server accepts.
func (s *Server) Token(sub string) string {
	token, err := s.signer.Sign(sub)
	if err != nil {
		panic(err)
	}
	return token
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// apiPath turns a path relative to the API root into the request path.
func (s *Server) apiPath(path string) string {
	if strings.HasPrefix(path, "/objects/") {
		return path
	}
	return s.prefix + path
}

// Hits returns how many requests reached method and path. Paths are
// relative to the API root, except /objects/ paths.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[routeKey(method, s.apiPath(path))]
}

// Header returns the headers of the last request to method and path.
func (s *Server) Header(method, path string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[routeKey(method, s.apiPath(path))]
}

// Hold makes requests to method and path wait until release is called.
// The arrived channel receives once per request that starts waiting.
func (s *Server) Hold(method, path string) (arrived <-chan struct{}, release func()) {
	key := routeKey(method, s.apiPath(path))
	gate := make(chan struct{})
	ch := make(chan struct{}, 16)
	s.mu.Lock()
	s.gates[key] = gate
	s.arrived[key] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[key] == gate {
				delete(s.gates, key)
				delete(s.arrived, key)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Fail answers the next times requests to method and path with status.
func (s *Server) Fail(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[routeKey(method, s.apiPath(path))] = failure{status: status, times: times}
}

// RejectAll answers every API request with 401 while on.
func (s *Server) RejectAll(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = on
}

// OnAction sets the handler of an action field.
func (s *Server) OnAction(field string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[field] = fn
}

// Object returns a stored upload.
func (s *Server) Object(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[strings.TrimPrefix(key, "/")]
	return o.data, o.contentType, ok
}

// record counts the request, applies injected failures and holds.
func (s *Server) record(c *gin.Context) {
	key := routeKey(c.Request.Method, c.Request.URL.Path)

	s.mu.Lock()
	s.hits[key]++
	s.headers[key] = c.Request.Header.Clone()
	gate := s.gates[key]
	arrived := s.arrived[key]
	f, failing := s.failures[key]
	if failing {
		f.times--
		if f.times <= 0 {
			delete(s.failures, key)
		} else {
			s.failures[key] = f
		}
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case arrived <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}

	if failing {
		c.AbortWithStatusJSON(f.status, gin.H{"error": http.StatusText(f.status)})
		return
	}
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if len(s.signer.Secret) == 0 {
		c.Next()
		return
	}

	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, prefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := s.signer.Verify(strings.TrimSpace(strings.TrimPrefix(header, prefix)))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set("subject", claims.Subject)
	c.Next()
}
