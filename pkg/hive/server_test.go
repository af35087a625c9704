package hive

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/bamlan/hive/internal/filecache"
	"github.com/bamlan/hive/internal/httpd"
)

// memTransport drives a handler in memory for wiring tests.
type memTransport struct {
	mu    sync.Mutex
	wrote bytes.Buffer
}

func (t *memTransport) Write(p []byte, done func(error)) error {
	t.mu.Lock()
	t.wrote.Write(p)
	t.mu.Unlock()
	if done != nil {
		done(nil)
	}
	return nil
}

func (t *memTransport) Close() error          { return nil }
func (t *memTransport) Peer() (string, int)   { return "10.1.2.3", 999 }
func (t *memTransport) SSL() bool             { return false }
func (t *memTransport) PauseRead()            {}
func (t *memTransport) ResumeRead()           {}
func (t *memTransport) OpenUpstream(string, int, bool, httpd.UpstreamOptions) (httpd.Upstream, error) {
	return nil, nil
}

func (t *memTransport) output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrote.String()
}

func TestServer_RoutesAndMiddlewareWiring(t *testing.T) {
	config := DefaultConfig()
	srv := New(config)

	var logBuf bytes.Buffer
	srv.Use(LoggerWithConfig(LoggerConfig{Output: &logBuf}), RequestID())
	srv.Router().GET("/hello/:name", func(c *Context) int {
		return c.JSON(200, map[string]string{"hello": c.Param("name")})
	})

	mt := &memTransport{}
	h := httpd.New(mt, srv.Service(), filecache.New())

	raw := "GET /hello/world HTTP/1.1\r\nHost: x\r\n\r\n"
	if _, err := h.FeedRecvData([]byte(raw)); err != nil {
		t.Fatalf("FeedRecvData error: %v", err)
	}

	out := mt.output()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK") {
		t.Fatalf("Expected 200, got %q", out)
	}
	if !strings.Contains(out, `{"hello":"world"}`) {
		t.Errorf("Expected JSON body with captured param, got %q", out)
	}
	if !strings.Contains(out, "X-Request-Id: ") && !strings.Contains(out, "X-Request-ID: ") {
		t.Errorf("Expected request id header, got %q", out)
	}
	if !strings.Contains(logBuf.String(), "GET /hello/world 200") {
		t.Errorf("Expected access line from Logger middleware, got %q", logBuf.String())
	}
}

func TestServer_ServiceDefaults(t *testing.T) {
	config := DefaultConfig()
	config.DocumentRoot = "/srv/www"
	config.Proxies = map[string]string{"/api": "http://backend:9000"}
	srv := New(config)

	svc := srv.Service()
	if svc.DocumentRoot != "/srv/www" {
		t.Errorf("Expected document root wired, got %q", svc.DocumentRoot)
	}
	if len(svc.Proxies) != 1 || svc.Proxies[0].Prefix != "/api" {
		t.Errorf("Expected proxy rule wired, got %v", svc.Proxies)
	}
	if svc.GetRoute == nil {
		t.Error("Expected router installed as GetRoute")
	}
	if got := svc.GetProxyURL("/api/users"); got != "http://backend:9000/users" {
		t.Errorf("Expected rewritten proxy url, got %q", got)
	}
}
