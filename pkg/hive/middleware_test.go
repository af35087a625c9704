package hive

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/bamlan/hive/internal/httpmsg"
)

func newTestContext(method, path string) *Context {
	req := &httpmsg.Request{}
	req.Reset()
	req.Method = method
	req.Path = path
	resp := &httpmsg.Response{}
	resp.Reset()
	return &Context{Request: req, Response: resp}
}

func TestLogger_WritesAfterCompletion(t *testing.T) {
	var buf bytes.Buffer
	mw := LoggerWithConfig(LoggerConfig{Output: &buf, Format: "text"})

	c := newTestContext("GET", "/hello")
	if status := mw(c); status != StatusNext {
		t.Fatalf("Expected StatusNext, got %d", status)
	}
	if buf.Len() != 0 {
		t.Error("Expected no log line before completion")
	}
	c.Response.Status = 200
	c.RunDeferred()
	line := buf.String()
	if !strings.Contains(line, "GET /hello 200") {
		t.Errorf("Expected method/path/status in log line, got %q", line)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	mw := LoggerWithConfig(LoggerConfig{Output: &buf, Format: "json"})

	c := newTestContext("GET", "/j")
	mw(c)
	c.Response.Status = 404
	c.RunDeferred()
	if !strings.Contains(buf.String(), `"status":404`) {
		t.Errorf("Expected JSON entry, got %q", buf.String())
	}
}

func TestLogger_SkipPaths(t *testing.T) {
	var buf bytes.Buffer
	mw := LoggerWithConfig(LoggerConfig{Output: &buf, SkipPaths: []string{"/health"}})

	c := newTestContext("GET", "/health")
	mw(c)
	c.RunDeferred()
	if buf.Len() != 0 {
		t.Errorf("Expected skipped path not logged, got %q", buf.String())
	}
}

func TestCORS_SetsHeaders(t *testing.T) {
	mw := CORS(DefaultCORSConfig())

	c := newTestContext("GET", "/x")
	if status := mw(c); status != StatusNext {
		t.Fatalf("Expected StatusNext for simple request, got %d", status)
	}
	if c.Response.Headers.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected allow-origin header")
	}
}

func TestCORS_Preflight(t *testing.T) {
	mw := CORS(DefaultCORSConfig())

	c := newTestContext("OPTIONS", "/x")
	if status := mw(c); status != 204 {
		t.Fatalf("Expected 204 preflight short-circuit, got %d", status)
	}
	if c.Response.Headers.Get("Access-Control-Allow-Methods") == "" {
		t.Error("Expected preflight method list")
	}
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	mw := RequestID()

	c := newTestContext("GET", "/x")
	mw(c)
	generated := c.Response.Headers.Get("X-Request-ID")
	if generated == "" {
		t.Fatal("Expected a generated request id")
	}

	c2 := newTestContext("GET", "/x")
	c2.Request.Headers.Set("X-Request-ID", "client-id-1")
	mw(c2)
	if c2.Response.Headers.Get("X-Request-ID") != "client-id-1" {
		t.Error("Expected client-provided id echoed")
	}
}

func TestCompress_Gzip(t *testing.T) {
	mw := CompressWithConfig(CompressConfig{MinLength: 8})

	c := newTestContext("GET", "/big")
	c.Request.Headers.Set("Accept-Encoding", "gzip")
	mw(c)
	c.Response.ContentType = "text/plain"
	c.Response.Body = bytes.Repeat([]byte("compress me "), 100)
	original := len(c.Response.Body)
	c.RunDeferred()

	if c.Response.Headers.Get("Content-Encoding") != "gzip" {
		t.Fatal("Expected gzip content encoding")
	}
	if len(c.Response.Body) >= original {
		t.Error("Expected smaller body after compression")
	}
	zr, err := gzip.NewReader(bytes.NewReader(c.Response.Body))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(plain) != original {
		t.Errorf("Round-trip mismatch: %d != %d", len(plain), original)
	}
}

func TestCompress_Brotli(t *testing.T) {
	mw := CompressWithConfig(CompressConfig{MinLength: 8})

	c := newTestContext("GET", "/big")
	c.Request.Headers.Set("Accept-Encoding", "br, gzip")
	mw(c)
	c.Response.Body = bytes.Repeat([]byte("squeeze "), 200)
	c.RunDeferred()

	if c.Response.Headers.Get("Content-Encoding") != "br" {
		t.Errorf("Expected brotli preferred, got %q", c.Response.Headers.Get("Content-Encoding"))
	}
}

func TestCompress_SkipsSmallBodies(t *testing.T) {
	mw := Compress()

	c := newTestContext("GET", "/small")
	c.Request.Headers.Set("Accept-Encoding", "gzip")
	mw(c)
	c.Response.Body = []byte("tiny")
	c.RunDeferred()

	if c.Response.Headers.Has("Content-Encoding") {
		t.Error("Expected small body left uncompressed")
	}
}

func TestContext_JSON(t *testing.T) {
	c := newTestContext("GET", "/j")
	status := c.JSON(201, map[string]string{"k": "v"})
	if status != 201 {
		t.Errorf("Expected 201 returned, got %d", status)
	}
	if c.Response.ContentType != "application/json" {
		t.Errorf("Expected json content type, got %q", c.Response.ContentType)
	}
	if string(c.Response.Body) != `{"k":"v"}` {
		t.Errorf("Unexpected body %q", c.Response.Body)
	}
}

func TestContext_Values(t *testing.T) {
	c := newTestContext("GET", "/x")
	c.Set("key", 42)
	v, ok := c.Get("key")
	if !ok || v.(int) != 42 {
		t.Error("Expected stored value back")
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Expected missing key to report !ok")
	}
}
