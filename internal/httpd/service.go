package httpd

import (
	"log"
	"path"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/bamlan/hive/internal/h1"
	"github.com/bamlan/hive/internal/httpmsg"
	"github.com/bamlan/hive/internal/ws"
)

// Version is reported in the Server response header.
const Version = "1.0.0"

// ServerHeader is the value of the Server response header.
const ServerHeader = "hive/" + Version

// SyncHandlerFunc runs on the I/O goroutine and returns a status code.
type SyncHandlerFunc func(req *httpmsg.Request, resp *httpmsg.Response) int

// DeferredHandlerFunc runs on the worker pool; the implementation promises
// to drive the writer to End eventually.
type DeferredHandlerFunc func(req *httpmsg.Request, w *ResponseWriter)

// CtxHandlerFunc runs on the I/O goroutine with the full context aggregate.
type CtxHandlerFunc func(c *Context) int

// StateHandlerFunc consumes parser events directly, including body chunks.
// It returns a meaningful status only for StateMessageComplete (or
// StateError, to release resources).
type StateHandlerFunc func(c *Context, state h1.ParserState, data []byte) int

// Route is one pluggable request handler in one of four flavors; exactly one
// field should be set.
type Route struct {
	Sync     SyncHandlerFunc
	Deferred DeferredHandlerFunc
	Ctx      CtxHandlerFunc
	State    StateHandlerFunc
}

// ProxyRule maps a path prefix to an upstream URL for reverse proxying.
type ProxyRule struct {
	Prefix string
	URL    string
}

// WebSocketService carries the callbacks and heartbeat settings for
// upgraded connections.
type WebSocketService struct {
	OnOpen    func(ch *ws.Channel, req *httpmsg.Request)
	OnMessage func(ch *ws.Channel, opcode ws.Opcode, payload []byte)
	OnClose   func(ch *ws.Channel)

	// PingInterval enables the server heartbeat; values below one second are
	// raised to one second.
	PingInterval time.Duration
}

// Service is the routing and configuration container one handler instance
// consults. It is shared across connections and must not be mutated while
// serving.
type Service struct {
	// GetRoute resolves a request to a handler, returning captured path
	// parameters. nil means no route matched.
	GetRoute func(req *httpmsg.Request) (*Route, map[string]string)

	Preprocessor  *Route
	Middleware    []*Route
	Processor     *Route
	Postprocessor *Route

	ErrorHandler     *Route
	StaticHandler    *Route
	LargeFileHandler *Route

	DocumentRoot string
	IndexFile    string
	ErrorPage    string

	// LimitRate throttles large-file streaming in KiB/s: 0 forbids large
	// files, negative means unlimited (backpressure-driven).
	LimitRate int
	// MaxFileCacheSize caps how large a file may be served through the file
	// cache; bigger files go to the large-file streamer.
	MaxFileCacheSize int64

	Proxies             []ProxyRule
	EnableForwardProxy  bool
	ProxyConnectTimeout time.Duration
	ProxyReadTimeout    time.Duration
	ProxyWriteTimeout   time.Duration

	WS *WebSocketService

	EnableAccessLog bool
	Logger          *log.Logger

	// Async schedules a deferred handler off the I/O goroutine. When nil,
	// the shared worker pool is used.
	Async func(fn func())
}

// defaultPool runs deferred handlers when a Service has no Async scheduler.
var defaultPool, _ = ants.NewPool(256, ants.WithNonblocking(false))

func (s *Service) async(fn func()) {
	if s.Async != nil {
		s.Async(fn)
		return
	}
	if err := defaultPool.Submit(fn); err != nil {
		go fn()
	}
}

func (s *Service) logger() *log.Logger {
	if s == nil || s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

// GetProxyURL returns the rewritten upstream URL for a reverse-proxied path,
// or "" when no rule matches. The longest matching prefix wins.
func (s *Service) GetProxyURL(reqPath string) string {
	best := -1
	var target string
	for _, rule := range s.Proxies {
		if strings.HasPrefix(reqPath, rule.Prefix) && len(rule.Prefix) > best {
			best = len(rule.Prefix)
			target = strings.TrimSuffix(rule.URL, "/") + "/" + strings.TrimPrefix(strings.TrimPrefix(reqPath, rule.Prefix), "/")
		}
	}
	return target
}

// GetStaticFilepath resolves a request path to a file under the document
// root, or "" when static serving is not configured.
func (s *Service) GetStaticFilepath(reqPath string) string {
	if s.DocumentRoot == "" {
		return ""
	}
	p := reqPath
	if strings.HasSuffix(p, "/") {
		index := s.IndexFile
		if index == "" {
			index = "index.html"
		}
		p += index
	}
	return path.Join(s.DocumentRoot, path.Clean(p))
}
