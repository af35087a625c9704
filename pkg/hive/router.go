package hive

import (
	"fmt"
	"strings"

	"github.com/bamlan/hive/internal/httpd"
	"github.com/bamlan/hive/internal/httpmsg"
)

// Router matches requests to handlers with support for parameters
// (":name"), wildcards ("*rest") and route groups. Unmatched requests fall
// through to the server's default handling (static files, 404, 501).
type Router struct {
	trees    map[string]*routeNode
	notFound *Route
}

type routeNode struct {
	children  map[string]*routeNode
	param     *routeNode
	paramName string
	wild      *routeNode
	wildName  string
	route     *Route
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{trees: make(map[string]*routeNode)}
}

// NotFound sets the handler invoked when no route matches. When unset,
// unmatched requests use the server's static/404/501 defaults.
func (r *Router) NotFound(handler interface{}) {
	r.notFound = wrapHandler(handler)
}

// Handle registers a handler for the given method and path. The handler may
// be any of the four flavors or a *Route.
func (r *Router) Handle(method, path string, handler interface{}) {
	if path == "" || path[0] != '/' {
		panic(fmt.Sprintf("hive: route path must begin with '/': %q", path))
	}
	root := r.trees[method]
	if root == nil {
		root = &routeNode{}
		r.trees[method] = root
	}
	node := root
	for _, seg := range splitPath(path) {
		switch {
		case strings.HasPrefix(seg, ":"):
			if node.param == nil {
				node.param = &routeNode{paramName: seg[1:]}
			}
			node.param.paramName = seg[1:]
			node = node.param
		case strings.HasPrefix(seg, "*"):
			if node.wild == nil {
				node.wild = &routeNode{wildName: seg[1:]}
			}
			node = node.wild
		default:
			if node.children == nil {
				node.children = make(map[string]*routeNode)
			}
			child := node.children[seg]
			if child == nil {
				child = &routeNode{}
				node.children[seg] = child
			}
			node = child
		}
	}
	node.route = wrapHandler(handler)
}

// GET registers a handler for GET requests.
func (r *Router) GET(path string, handler interface{}) { r.Handle("GET", path, handler) }

// POST registers a handler for POST requests.
func (r *Router) POST(path string, handler interface{}) { r.Handle("POST", path, handler) }

// PUT registers a handler for PUT requests.
func (r *Router) PUT(path string, handler interface{}) { r.Handle("PUT", path, handler) }

// DELETE registers a handler for DELETE requests.
func (r *Router) DELETE(path string, handler interface{}) { r.Handle("DELETE", path, handler) }

// PATCH registers a handler for PATCH requests.
func (r *Router) PATCH(path string, handler interface{}) { r.Handle("PATCH", path, handler) }

// HEAD registers a handler for HEAD requests.
func (r *Router) HEAD(path string, handler interface{}) { r.Handle("HEAD", path, handler) }

// OPTIONS registers a handler for OPTIONS requests.
func (r *Router) OPTIONS(path string, handler interface{}) { r.Handle("OPTIONS", path, handler) }

// Group creates a route group with a common path prefix.
func (r *Router) Group(prefix string) *Group {
	return &Group{router: r, prefix: strings.TrimSuffix(prefix, "/")}
}

// Group registers routes under a shared prefix.
type Group struct {
	router *Router
	prefix string
}

// Handle registers a handler under the group prefix.
func (g *Group) Handle(method, path string, handler interface{}) {
	g.router.Handle(method, g.prefix+path, handler)
}

// GET registers a GET handler under the group prefix.
func (g *Group) GET(path string, handler interface{}) { g.Handle("GET", path, handler) }

// POST registers a POST handler under the group prefix.
func (g *Group) POST(path string, handler interface{}) { g.Handle("POST", path, handler) }

// PUT registers a PUT handler under the group prefix.
func (g *Group) PUT(path string, handler interface{}) { g.Handle("PUT", path, handler) }

// DELETE registers a DELETE handler under the group prefix.
func (g *Group) DELETE(path string, handler interface{}) { g.Handle("DELETE", path, handler) }

// route resolves a request against the registered trees. It is installed as
// the service's GetRoute hook.
func (r *Router) route(req *httpmsg.Request) (*httpd.Route, map[string]string) {
	root := r.trees[req.Method]
	if root == nil {
		return r.notFound, nil
	}
	node := root
	var params map[string]string
	segs := splitPath(req.Path)
	for i, seg := range segs {
		if node.children != nil {
			if child := node.children[seg]; child != nil {
				node = child
				continue
			}
		}
		if node.param != nil {
			if params == nil {
				params = make(map[string]string, 4)
			}
			params[node.param.paramName] = seg
			node = node.param
			continue
		}
		if node.wild != nil {
			if params == nil {
				params = make(map[string]string, 2)
			}
			if node.wild.wildName != "" {
				params[node.wild.wildName] = strings.Join(segs[i:], "/")
			}
			node = node.wild
			break
		}
		return r.notFound, nil
	}
	if node.route == nil {
		return r.notFound, params
	}
	return node.route, params
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// wrapHandler converts any supported handler shape into a Route.
func wrapHandler(handler interface{}) *Route {
	switch h := handler.(type) {
	case *Route:
		return h
	case Route:
		return &h
	case HandlerFunc:
		return &Route{Ctx: httpd.CtxHandlerFunc(h)}
	case func(c *Context) int:
		return &Route{Ctx: h}
	case func(req *Request, resp *Response) int:
		return &Route{Sync: h}
	case func(req *Request, w *ResponseWriter):
		return &Route{Deferred: h}
	case func(c *Context, state ParserState, data []byte) int:
		return &Route{State: h}
	default:
		panic(fmt.Sprintf("hive: unsupported handler type %T", handler))
	}
}
