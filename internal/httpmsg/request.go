package httpmsg

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Request represents a parsed HTTP request.
type Request struct {
	Method string
	// RawURL is the request target exactly as received: origin-form for
	// normal requests, absolute-form for forward-proxy requests.
	RawURL string
	Scheme string
	Host   string
	Port   int
	Path   string
	Query  url.Values

	Major int
	Minor int

	Headers Headers
	Body    []byte

	// ContentLength is taken from the Content-Length header; -1 when absent.
	ContentLength int64
	Chunked       bool

	ClientIP   string
	ClientPort int
}

// Reset clears the request for reuse on a keep-alive connection.
func (r *Request) Reset() {
	r.Method = ""
	r.RawURL = ""
	r.Scheme = ""
	r.Host = ""
	r.Port = 0
	r.Path = ""
	r.Query = nil
	r.Major = 1
	r.Minor = 1
	r.Headers.Reset()
	r.Body = r.Body[:0]
	r.ContentLength = -1
	r.Chunked = false
}

// IsKeepAlive reports whether the connection should stay open after this
// request, honoring the Connection header and HTTP version defaults.
func (r *Request) IsKeepAlive() bool {
	keepalive := !(r.Major == 1 && r.Minor == 0)
	switch strings.ToLower(r.Headers.Get("Connection")) {
	case "close":
		keepalive = false
	case "keep-alive":
		keepalive = true
	}
	return keepalive
}

// ParseURL fills Scheme, Host, Port, Path and Query from RawURL. Absolute-form
// targets (forward proxy) carry their own scheme and host; origin-form targets
// keep the scheme set by the caller and take the host from the Host header.
func (r *Request) ParseURL() error {
	raw := r.RawURL
	if raw == "" {
		raw = "/"
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse url %q: %w", raw, err)
		}
		r.Scheme = u.Scheme
		r.Host = u.Hostname()
		r.Port = defaultPort(u.Scheme)
		if p := u.Port(); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				r.Port = n
			}
		}
		r.Path = u.Path
		if r.Path == "" {
			r.Path = "/"
		}
		r.Query = u.Query()
		return nil
	}
	if host := r.Headers.Get("Host"); host != "" && r.Host == "" {
		r.Host = host
	}
	path := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		path = raw[:i]
		q, err := url.ParseQuery(raw[i+1:])
		if err == nil {
			r.Query = q
		}
	}
	r.Path = path
	return nil
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// Range parses a "Range: bytes=from-to" header. ok is false when the header
// is absent or malformed. to is 0 when the range is open-ended ("bytes=N-").
func (r *Request) Range() (from, to int64, ok bool) {
	v := r.Headers.Get("Range")
	if v == "" || !strings.HasPrefix(v, "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(v, "bytes=")
	// Only the first range of a multi-range request is honored.
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false
	}
	var err error
	if s := strings.TrimSpace(spec[:dash]); s != "" {
		from, err = strconv.ParseInt(s, 10, 64)
		if err != nil || from < 0 {
			return 0, 0, false
		}
	}
	if s := strings.TrimSpace(spec[dash+1:]); s != "" {
		to, err = strconv.ParseInt(s, 10, 64)
		if err != nil || to < 0 {
			return 0, 0, false
		}
	}
	return from, to, true
}

// Dump serializes the request for forwarding upstream. The request line uses
// the origin-form target so upstream servers see a normal request.
func (r *Request) Dump(withHead, withBody bool) []byte {
	var b []byte
	if withHead {
		target := r.Path
		if target == "" {
			target = "/"
		}
		if len(r.Query) > 0 {
			target += "?" + r.Query.Encode()
		}
		b = append(b, r.Method...)
		b = append(b, ' ')
		b = append(b, target...)
		b = append(b, " HTTP/"...)
		b = strconv.AppendInt(b, int64(r.Major), 10)
		b = append(b, '.')
		b = strconv.AppendInt(b, int64(r.Minor), 10)
		b = append(b, '\r', '\n')
		if !r.Headers.Has("Host") && r.Host != "" {
			b = append(b, "Host: "...)
			b = append(b, r.Host...)
			b = append(b, '\r', '\n')
		}
		for _, h := range r.Headers.All() {
			b = append(b, canonicalHeaderName(h[0])...)
			b = append(b, ": "...)
			b = append(b, h[1]...)
			b = append(b, '\r', '\n')
		}
		b = append(b, '\r', '\n')
	}
	if withBody && len(r.Body) > 0 {
		b = append(b, r.Body...)
	}
	return b
}

// canonicalHeaderName converts a lowercase header name back to the usual
// Word-Dash-Word capitalization for the wire.
func canonicalHeaderName(name string) string {
	b := []byte(name)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			b[i] = c - 0x20
		}
		upper = c == '-'
	}
	return string(b)
}
