package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one HTTP call relative to the client's base URL.
// Path starts with "/" unless URL is set, in which case the call goes to
// that absolute URL verbatim (presigned upload targets).
type Request struct {
	Method string
	Path   string
	URL    string
	Query  url.Values
	// Body is JSON-encoded when set.
	Body any
	// Raw is sent as-is when set and takes precedence over Body.
	Raw         []byte
	ContentType string
}

// Key is the stable identity of the request: method, target and body.
// Query parameters are sorted and JSON object keys are ordered, so two
// equal requests built independently share a key.
func (r Request) Key() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(r.method()))
	b.WriteByte(' ')
	b.WriteString(r.Target())
	if q := r.Query.Encode(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if r.Body != nil {
		if body, err := json.Marshal(r.Body); err == nil {
			b.WriteByte(' ')
			b.Write(body)
		}
	}
	return b.String()
}

// Target returns the absolute URL or the base-relative path.
func (r Request) Target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.Path
}

// Absolute reports whether the request bypasses the base URL.
func (r Request) Absolute() bool {
	return r.URL != ""
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// JoinPath escapes each segment and joins them into a path.
func JoinPath(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
