// Package transport integrates the per-connection handler with the gnet
// event-loop engine: it accepts connections, binds a handler to each, feeds
// received bytes, and services upstream links for proxied traffic.
package transport

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"

	"github.com/bamlan/hive/internal/filecache"
	"github.com/bamlan/hive/internal/httpd"
)

// Config defines the options of the event-loop server.
type Config struct {
	Addr           string
	Multicore      bool
	NumEventLoop   int
	ReusePort      bool
	Logger         *log.Logger
	MaxConnections uint32
	// SSL marks connections as TLS-terminated by an external layer.
	SSL bool
}

// Server implements gnet.EventHandler, owning one handler per connection.
type Server struct {
	gnet.BuiltinEventEngine

	svc   *httpd.Service
	files *filecache.Cache

	ctx    context.Context
	cancel context.CancelFunc

	addr           string
	multicore      bool
	numEventLoop   int
	reusePort      bool
	ssl            bool
	logger         *log.Logger
	maxConnections uint32
	activeConns    uint32

	engine        gnet.Engine
	engineStarted bool
}

// silentGnetLogger discards gnet's internal output.
type silentGnetLogger struct{}

func (silentGnetLogger) Debugf(_ string, _ ...any) {}
func (silentGnetLogger) Infof(_ string, _ ...any)  {}
func (silentGnetLogger) Warnf(_ string, _ ...any)  {}
func (silentGnetLogger) Errorf(_ string, _ ...any) {}
func (silentGnetLogger) Fatalf(_ string, _ ...any) {}

const serviceUnavailableResponse = "HTTP/1.1 503 Service Unavailable\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Length: 19\r\n" +
	"Connection: close\r\n" +
	"\r\n" +
	"Service Unavailable"

// NewServer creates an event-loop server serving svc.
func NewServer(svc *httpd.Service, files *filecache.Cache, config Config) *Server {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		svc:            svc,
		files:          files,
		ctx:            ctx,
		cancel:         cancel,
		addr:           config.Addr,
		multicore:      config.Multicore,
		numEventLoop:   config.NumEventLoop,
		reusePort:      config.ReusePort,
		ssl:            config.SSL,
		logger:         config.Logger,
		maxConnections: config.MaxConnections,
	}
}

// Start begins accepting connections. gnet.Run blocks, so it runs in its own
// goroutine.
func (s *Server) Start() error {
	options := []gnet.Option{
		gnet.WithMulticore(s.multicore),
		gnet.WithReusePort(s.reusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithTCPKeepAlive(time.Minute * 30),
		gnet.WithLogger(silentGnetLogger{}),
	}
	if s.numEventLoop > 0 {
		options = append(options, gnet.WithNumEventLoop(s.numEventLoop))
	}

	s.logger.Printf("Starting server on %s", s.addr)
	go func() {
		_ = gnet.Run(s, "tcp://"+s.addr, options...)
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Println("Initiating graceful shutdown...")
	s.cancel()
	if s.engineStarted {
		if err := s.engine.Stop(ctx); err != nil {
			s.logger.Printf("Error stopping gnet engine: %v", err)
			return err
		}
	}
	s.logger.Println("Server shutdown complete")
	return nil
}

// OnBoot is called when the server is ready to accept connections.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	s.engineStarted = true
	s.logger.Printf("Server is listening on %s (multicore: %v)", s.addr, s.multicore)
	return gnet.None
}

// OnShutdown is called when the server is shutting down.
func (s *Server) OnShutdown(_ gnet.Engine) {
	s.engineStarted = false
}

// OnOpen binds a fresh handler to the accepted connection.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if s.maxConnections > 0 {
		if current := atomic.LoadUint32(&s.activeConns); current >= s.maxConnections {
			s.logger.Printf("Connection rejected from %s: too many connections (%d/%d)",
				c.RemoteAddr(), current, s.maxConnections)
			return []byte(serviceUnavailableResponse), gnet.Close
		}
	}
	atomic.AddUint32(&s.activeConns, 1)

	t := &conn{c: c, ssl: s.ssl, logger: s.logger}
	t.h = httpd.New(t, s.svc, s.files)
	c.SetContext(t)
	return nil, gnet.None
}

// OnClose tears down the handler bound to the connection.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	atomic.AddUint32(&s.activeConns, ^uint32(0))
	if t, ok := c.Context().(*conn); ok && t != nil {
		t.h.Close()
	}
	if err != nil {
		s.logger.Printf("Connection closed with error from %s: %v", c.RemoteAddr(), err)
	}
	return gnet.None
}

// OnTraffic feeds received bytes to the bound handler or, when a proxy link
// is piping, straight to the upstream.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	t, ok := c.Context().(*conn)
	if !ok || t == nil {
		return gnet.Close
	}
	buf, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	if len(buf) == 0 {
		return gnet.None
	}
	return t.deliver(buf)
}

// conn adapts a gnet.Conn to the handler's Transport interface. The mutex
// guards read-pause state shared between the event loop and the upstream
// dial goroutine.
type conn struct {
	c      gnet.Conn
	h      *httpd.Handler
	ssl    bool
	logger *log.Logger

	mu       sync.Mutex
	paused   bool
	pending  []byte
	upstream *upstreamLink
}

func (t *conn) deliver(buf []byte) gnet.Action {
	t.mu.Lock()
	if t.paused {
		t.pending = append(t.pending, buf...)
		t.mu.Unlock()
		return gnet.None
	}
	up := t.upstream
	t.mu.Unlock()

	if up != nil {
		if err := up.Write(buf); err != nil {
			return gnet.Close
		}
		return gnet.None
	}
	if _, err := t.h.FeedRecvData(buf); err != nil {
		t.logger.Printf("closing %s: %v", t.c.RemoteAddr(), err)
		return gnet.Close
	}
	if t.h.WantClose() {
		// Give queued async writes a moment to flush before closing.
		c := t.c
		time.AfterFunc(5*time.Millisecond, func() { _ = c.Close() })
	}
	return gnet.None
}

// Write queues p on the event loop's outbound buffer.
func (t *conn) Write(p []byte, done func(error)) error {
	return t.c.AsyncWrite(p, func(_ gnet.Conn, err error) error {
		if done != nil {
			done(err)
		}
		return nil
	})
}

// Close closes the connection.
func (t *conn) Close() error {
	return t.c.Close()
}

// Peer returns the remote address.
func (t *conn) Peer() (string, int) {
	addr := t.c.RemoteAddr()
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// SSL reports whether the connection is TLS-terminated.
func (t *conn) SSL() bool {
	return t.ssl
}

// PauseRead holds received bytes back from the handler.
func (t *conn) PauseRead() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// ResumeRead re-enables delivery and flushes bytes held while paused. During
// proxying the flushed bytes go straight upstream, so this is safe to call
// from the handler's connect callback.
func (t *conn) ResumeRead() {
	t.mu.Lock()
	if !t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = false
	pending := t.pending
	t.pending = nil
	up := t.upstream
	t.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if up != nil {
		_ = up.Write(pending)
		return
	}
	_, _ = t.h.FeedRecvData(pending)
}

// setUpstream links raw downstream bytes to the upstream connection.
func (t *conn) setUpstream(up *upstreamLink) {
	t.mu.Lock()
	t.upstream = up
	t.mu.Unlock()
}

// OpenUpstream dials host:port for proxying; the dial completes off the
// event loop and fires the handler's callbacks.
func (t *conn) OpenUpstream(host string, port int, useTLS bool, opts httpd.UpstreamOptions) (httpd.Upstream, error) {
	up := &upstreamLink{down: t, opts: opts}
	go up.dial(net.JoinHostPort(host, strconv.Itoa(port)), host, useTLS)
	return up, nil
}
