package hive

import (
	"testing"

	"github.com/bamlan/hive/internal/httpmsg"
)

func newRequest(method, path string) *Request {
	req := &httpmsg.Request{}
	req.Reset()
	req.Method = method
	req.Path = path
	return req
}

func TestRouter_ExactMatch(t *testing.T) {
	router := NewRouter()
	called := false
	router.GET("/test", func(_ *Context) int {
		called = true
		return 200
	})

	route, _ := router.route(newRequest("GET", "/test"))
	if route == nil {
		t.Fatal("Expected a route match")
	}
	route.Ctx(&Context{})
	if !called {
		t.Error("Expected handler to be called")
	}
}

func TestRouter_Parameters(t *testing.T) {
	router := NewRouter()
	router.GET("/users/:id", func(_ *Context) int { return 200 })

	route, params := router.route(newRequest("GET", "/users/123"))
	if route == nil {
		t.Fatal("Expected a route match")
	}
	if params["id"] != "123" {
		t.Errorf("Expected id=123, got %v", params)
	}
}

func TestRouter_MultipleParameters(t *testing.T) {
	router := NewRouter()
	router.GET("/user/:userId/post/:postId", func(_ *Context) int { return 200 })

	route, params := router.route(newRequest("GET", "/user/7/post/42"))
	if route == nil {
		t.Fatal("Expected a route match")
	}
	if params["userId"] != "7" || params["postId"] != "42" {
		t.Errorf("Expected both params captured, got %v", params)
	}
}

func TestRouter_Wildcard(t *testing.T) {
	router := NewRouter()
	router.GET("/static/*filepath", func(_ *Context) int { return 200 })

	route, params := router.route(newRequest("GET", "/static/css/site.css"))
	if route == nil {
		t.Fatal("Expected a wildcard match")
	}
	if params["filepath"] != "css/site.css" {
		t.Errorf("Expected rest captured, got %v", params)
	}
}

func TestRouter_NoMatch(t *testing.T) {
	router := NewRouter()
	router.GET("/a", func(_ *Context) int { return 200 })

	if route, _ := router.route(newRequest("GET", "/b")); route != nil {
		t.Error("Expected no match to fall through to defaults")
	}
	if route, _ := router.route(newRequest("POST", "/a")); route != nil {
		t.Error("Expected method mismatch to fall through")
	}
}

func TestRouter_Group(t *testing.T) {
	router := NewRouter()
	api := router.Group("/api/v1")
	api.GET("/users", func(_ *Context) int { return 200 })

	if route, _ := router.route(newRequest("GET", "/api/v1/users")); route == nil {
		t.Error("Expected grouped route to match")
	}
}

func TestRouter_HandlerFlavors(t *testing.T) {
	router := NewRouter()
	router.GET("/ctx", func(_ *Context) int { return 200 })
	router.GET("/sync", func(_ *Request, _ *Response) int { return 200 })
	router.GET("/deferred", func(_ *Request, _ *ResponseWriter) {})
	router.POST("/stream", func(_ *Context, _ ParserState, _ []byte) int { return 200 })

	if route, _ := router.route(newRequest("GET", "/ctx")); route == nil || route.Ctx == nil {
		t.Error("Expected ctx flavor")
	}
	if route, _ := router.route(newRequest("GET", "/sync")); route == nil || route.Sync == nil {
		t.Error("Expected sync flavor")
	}
	if route, _ := router.route(newRequest("GET", "/deferred")); route == nil || route.Deferred == nil {
		t.Error("Expected deferred flavor")
	}
	if route, _ := router.route(newRequest("POST", "/stream")); route == nil || route.State == nil {
		t.Error("Expected state flavor")
	}
}

func TestRouter_NotFoundHandler(t *testing.T) {
	router := NewRouter()
	router.NotFound(func(_ *Context) int { return 404 })

	route, _ := router.route(newRequest("GET", "/anything"))
	if route == nil || route.Ctx == nil {
		t.Error("Expected custom not-found handler")
	}
}

func TestRouter_InvalidHandlerPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for unsupported handler type")
		}
	}()
	router := NewRouter()
	router.GET("/bad", 42)
}

func TestRouter_PathMustStartWithSlash(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for relative path")
		}
	}()
	router := NewRouter()
	router.GET("nope", func(_ *Context) int { return 200 })
}
