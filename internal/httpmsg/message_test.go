package httpmsg

import (
	"strings"
	"testing"
)

func TestHeaders_CaseInsensitiveLastWins(t *testing.T) {
	var h Headers
	h.Set("Content-Type", "text/plain")
	h.Set("content-type", "application/json")

	if got := h.Get("CONTENT-TYPE"); got != "application/json" {
		t.Errorf("Expected last-wins value, got %q", got)
	}
	if h.Len() != 1 {
		t.Errorf("Expected a single header, got %d", h.Len())
	}
	h.Del("Content-Type")
	if h.Has("content-type") {
		t.Error("Expected header deleted")
	}
}

func TestHeaders_Reset(t *testing.T) {
	var h Headers
	h.Set("A", "1")
	h.Set("B", "2")
	h.Reset()
	if h.Len() != 0 || h.Has("a") {
		t.Error("Expected empty headers after reset")
	}
	h.Set("C", "3")
	if h.Get("c") != "3" {
		t.Error("Expected headers usable after reset")
	}
}

func TestRequest_ParseURL(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		host   string
		path   string
		scheme string
		port   int
	}{
		{"origin form", "/a/b?x=1", "", "/a/b", "", 0},
		{"absolute form", "http://backend:8080/x", "backend", "/x", "http", 8080},
		{"absolute default port", "https://backend/x", "backend", "/x", "https", 443},
		{"absolute no path", "http://backend", "backend", "/", "http", 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{}
			req.Reset()
			req.RawURL = tt.rawURL
			if err := req.ParseURL(); err != nil {
				t.Fatalf("ParseURL error: %v", err)
			}
			if req.Path != tt.path {
				t.Errorf("Path = %q, want %q", req.Path, tt.path)
			}
			if tt.host != "" && req.Host != tt.host {
				t.Errorf("Host = %q, want %q", req.Host, tt.host)
			}
			if tt.scheme != "" && req.Scheme != tt.scheme {
				t.Errorf("Scheme = %q, want %q", req.Scheme, tt.scheme)
			}
			if tt.port != 0 && req.Port != tt.port {
				t.Errorf("Port = %d, want %d", req.Port, tt.port)
			}
		})
	}
}

func TestRequest_Range(t *testing.T) {
	tests := []struct {
		header string
		from   int64
		to     int64
		ok     bool
	}{
		{"bytes=0-1023", 0, 1023, true},
		{"bytes=100-", 100, 0, true},
		{"bytes=5-9,20-29", 5, 9, true},
		{"", 0, 0, false},
		{"items=0-5", 0, 0, false},
		{"bytes=abc-def", 0, 0, false},
	}
	for _, tt := range tests {
		req := &Request{}
		req.Reset()
		if tt.header != "" {
			req.Headers.Set("Range", tt.header)
		}
		from, to, ok := req.Range()
		if ok != tt.ok || from != tt.from || to != tt.to {
			t.Errorf("Range(%q) = (%d,%d,%v), want (%d,%d,%v)",
				tt.header, from, to, ok, tt.from, tt.to, tt.ok)
		}
	}
}

func TestRequest_Dump(t *testing.T) {
	req := &Request{}
	req.Reset()
	req.Method = "POST"
	req.Path = "/submit"
	req.Host = "upstream"
	req.Headers.Set("X-Real-IP", "10.0.0.1")
	req.Headers.Set("Host", "upstream")
	req.Body = []byte("data")

	out := string(req.Dump(true, true))
	if !strings.HasPrefix(out, "POST /submit HTTP/1.1\r\n") {
		t.Errorf("Unexpected request line in %q", out)
	}
	if !strings.Contains(out, "X-Real-Ip: 10.0.0.1\r\n") && !strings.Contains(out, "X-Real-IP: 10.0.0.1\r\n") {
		t.Errorf("Expected forwarded header, got %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\ndata") {
		t.Errorf("Expected body appended, got %q", out)
	}
}

func TestResponse_DumpHeader(t *testing.T) {
	resp := &Response{}
	resp.Reset()
	resp.Status = 200
	resp.ContentType = "text/plain"
	resp.ContentLength = 5
	resp.Headers.Set("Server", "hive/1.0.0")

	out := string(resp.DumpHeader())
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("Unexpected status line in %q", out)
	}
	for _, want := range []string{"Date: ", "Content-Type: text/plain\r\n", "Content-Length: 5\r\n", "Server: hive/1.0.0\r\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Error("Expected terminating blank line")
	}
}

func TestResponse_DumpHeaderNoContentLength(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"switching protocols", 101},
		{"no content", 204},
		{"not modified", 304},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{}
			resp.Reset()
			resp.Status = tt.status
			resp.ContentLength = 0
			out := string(resp.DumpHeader())
			if strings.Contains(out, "Content-Length") {
				t.Errorf("Expected no Content-Length for %d, got %q", tt.status, out)
			}
		})
	}
}

func TestCanonicalHeaderName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"content-type", "Content-Type"},
		{"etag", "Etag"},
		{"x-real-ip", "X-Real-Ip"},
		{"last-modified", "Last-Modified"},
	}
	for _, tt := range tests {
		if got := canonicalHeaderName(tt.in); got != tt.want {
			t.Errorf("canonicalHeaderName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
