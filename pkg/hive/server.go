package hive

import (
	"context"

	"github.com/panjf2000/ants/v2"

	"github.com/bamlan/hive/internal/filecache"
	"github.com/bamlan/hive/internal/httpd"
	"github.com/bamlan/hive/internal/transport"
)

// Server wires a router and configuration into the event-loop transport.
type Server struct {
	config    Config
	router    *Router
	service   *httpd.Service
	files     *filecache.Cache
	transport *transport.Server
	pool      *ants.Pool
}

// New creates a Server with the provided configuration.
func New(config Config) *Server {
	if err := config.Validate(); err != nil {
		panic(err)
	}
	router := NewRouter()
	svc := &httpd.Service{
		GetRoute:            router.route,
		DocumentRoot:        config.DocumentRoot,
		IndexFile:           config.IndexFile,
		ErrorPage:           config.ErrorPage,
		LimitRate:           config.LimitRate,
		MaxFileCacheSize:    config.MaxFileCacheSize,
		EnableForwardProxy:  config.EnableForwardProxy,
		ProxyConnectTimeout: config.ProxyConnectTimeout,
		ProxyReadTimeout:    config.ProxyReadTimeout,
		ProxyWriteTimeout:   config.ProxyWriteTimeout,
		EnableAccessLog:     config.EnableAccessLog,
		Logger:              config.Logger,
	}
	for prefix, target := range config.Proxies {
		svc.Proxies = append(svc.Proxies, httpd.ProxyRule{Prefix: prefix, URL: target})
	}
	if config.PingInterval > 0 {
		svc.WS = &httpd.WebSocketService{PingInterval: config.PingInterval}
	}
	return &Server{
		config:  config,
		router:  router,
		service: svc,
		files:   filecache.New(),
	}
}

// NewWithDefaults creates a Server with default configuration.
func NewWithDefaults() *Server {
	return New(DefaultConfig())
}

// Router returns the server's router for route registration.
func (s *Server) Router() *Router {
	return s.router
}

// Service exposes the underlying service container for advanced wiring
// (custom static, large-file or error handlers).
func (s *Server) Service() *httpd.Service {
	return s.service
}

// Use appends pipeline middleware stages, run in order between the
// preprocessor and the processor.
func (s *Server) Use(middleware ...Middleware) {
	for _, mw := range middleware {
		s.service.Middleware = append(s.service.Middleware, &Route{Ctx: httpd.CtxHandlerFunc(mw)})
	}
}

// Preprocessor installs the stage run before all middleware.
func (s *Server) Preprocessor(mw Middleware) {
	s.service.Preprocessor = &Route{Ctx: httpd.CtxHandlerFunc(mw)}
}

// Postprocessor installs the stage run after the response is resolved.
func (s *Server) Postprocessor(mw Middleware) {
	s.service.Postprocessor = &Route{Ctx: httpd.CtxHandlerFunc(mw)}
}

// WebSocket installs the WebSocket service handling upgraded connections.
func (s *Server) WebSocket(wss *WebSocketService) {
	if wss.PingInterval == 0 {
		wss.PingInterval = s.config.PingInterval
	}
	s.service.WS = wss
}

// Start begins accepting connections. Non-blocking; the event loops run on
// their own goroutines.
func (s *Server) Start() error {
	pool, err := ants.NewPool(s.config.WorkerPoolSize)
	if err != nil {
		return err
	}
	s.pool = pool
	s.service.Async = func(fn func()) {
		if err := pool.Submit(fn); err != nil {
			go fn()
		}
	}

	s.transport = transport.NewServer(s.service, s.files, transport.Config{
		Addr:           s.config.Addr,
		Multicore:      s.config.Multicore,
		NumEventLoop:   s.config.NumEventLoop,
		ReusePort:      s.config.ReusePort,
		Logger:         s.config.Logger,
		MaxConnections: s.config.MaxConnections,
		SSL:            s.config.SSL,
	})
	return s.transport.Start()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Release()
	}
	if s.transport != nil {
		return s.transport.Stop(ctx)
	}
	return nil
}
