// Package httpd implements the per-connection HTTP server core: a protocol
// state machine that drives one accepted transport connection through
// request parsing, the processing pipeline, response framing, protocol
// upgrades, proxy forwarding and large-file streaming.
package httpd

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bamlan/hive/internal/filecache"
	"github.com/bamlan/hive/internal/h1"
	"github.com/bamlan/hive/internal/h2"
	"github.com/bamlan/hive/internal/httpmsg"
	"github.com/bamlan/hive/internal/ws"
)

// Protocol identifies the wire protocol currently spoken on the connection.
// Transitions are monotonic: Unknown -> HTTP1 -> {HTTP2, WebSocket}.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolHTTP1
	ProtocolHTTP2
	ProtocolWebSocket
)

// connState is the request lifecycle state on the connection.
type connState int

const (
	stateWantRecv connState = iota
	stateHandleBegin
	stateHandleContinue
	stateHandleEnd
	stateWantSend
	stateSendHeader
	stateSendBody
	stateSendDone
	stateWantClose
)

// requestParser is the shared contract of the HTTP/1 push parser and the
// HTTP/2 codec. The parser is replaced on protocol switch.
type requestParser interface {
	Init(req *httpmsg.Request, cb h1.EventFunc)
	Feed(data []byte) (int, error)
	IsComplete() bool
	SubmitResponse(resp *httpmsg.Response)
	SendData() []byte
}

// A plausible HTTP/1 request line is at least this long ("GET / HTTP/1.1").
const minRequestLineLen = 14

const http100Continue = "HTTP/1.1 100 Continue\r\n\r\n"

// coalesceLimit is the largest body shipped together with the header in a
// single buffer.
const coalesceLimit = 1 << 20

// Handler drives a single accepted connection. All parser callbacks and
// state transitions run under the handler lock; external actors (worker
// pool, timers, upstream goroutines) re-enter through the writer or the
// exported methods, which take it.
type Handler struct {
	mu    sync.Mutex
	t     Transport
	svc   *Service
	files *filecache.Cache

	protocol Protocol
	state    connState
	err      error

	ssl       bool
	keepalive bool
	proxy     bool
	upgrade   bool
	ip        string
	port      int

	parser requestParser
	req    *httpmsg.Request
	resp   *httpmsg.Response
	writer *ResponseWriter
	ctx    *Context
	route  *Route
	params map[string]string

	wsParser  *ws.Parser
	wsChannel *ws.Channel
	lastPing  time.Time
	lastPong  time.Time

	fc     *filecache.Entry
	file   *largeFile
	header []byte

	upstream          Upstream
	upstreamConnected bool

	// pendingAsync holds deferred handlers queued during the pipeline,
	// launched on the worker pool once the exchange settles.
	pendingAsync []func()

	closed bool
}

// New binds a handler to an accepted connection.
func New(t Transport, svc *Service, files *filecache.Cache) *Handler {
	h := &Handler{
		t:         t,
		svc:       svc,
		files:     files,
		keepalive: true,
	}
	if t != nil {
		h.ip, h.port = t.Peer()
		h.ssl = t.SSL()
	}
	return h
}

// Err returns the sticky protocol error, if any.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// WantClose reports whether the handler is done with the connection.
func (h *Handler) WantClose() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateWantClose || h.err != nil
}

// init allocates the parser, messages and writer for the detected protocol.
func (h *Handler) init(version int) {
	h.req = &httpmsg.Request{}
	h.req.Reset()
	h.resp = &httpmsg.Response{}
	h.resp.Reset()
	switch version {
	case 2:
		h.protocol = ProtocolHTTP2
		h.parser = h2.NewCodec()
		h.req.Major, h.req.Minor = 2, 0
		h.resp.Major, h.resp.Minor = 2, 0
	default:
		h.protocol = ProtocolHTTP1
		h.parser = h1.NewParser()
	}
	if h.t != nil {
		h.writer = newResponseWriter(h.t, h.resp)
		h.writer.onEnd = h.onWriterEnd
	}
	h.parser.Init(h.req, h.onParserEvent)
}

// resetLocked rewinds per-request state for the next request on a keep-alive
// connection.
func (h *Handler) resetLocked() {
	h.state = stateWantRecv
	h.err = nil
	h.req.Reset()
	h.resp.Reset()
	if h.protocol == ProtocolHTTP2 {
		h.req.Major, h.req.Minor = 2, 0
		h.resp.Major, h.resp.Minor = 2, 0
	}
	h.ctx = nil
	h.route = nil
	h.params = nil
	h.header = nil
	h.closeFileLocked()
	if h.fc != nil {
		h.files.Release(h.fc)
		h.fc.ClearHeader()
		h.fc = nil
	}
	if h.writer != nil {
		h.writer.Begin()
	}
	h.parser.Init(h.req, h.onParserEvent)
}

// Close tears the connection state down. Idempotent; safe from any
// goroutine.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.state = stateWantClose
	upstream := h.upstream
	h.upstream = nil
	h.closeFileLocked()
	if h.fc != nil {
		h.files.Release(h.fc)
		h.fc.ClearHeader()
		h.fc = nil
	}
	writer := h.writer
	wsch := h.wsChannel
	proto := h.protocol
	svc := h.svc
	h.mu.Unlock()

	if writer != nil {
		writer.disconnect()
	}
	if upstream != nil {
		_ = upstream.Close()
	}
	if proto == ProtocolWebSocket {
		if wsch != nil {
			wsch.Shutdown()
			if svc != nil && svc.WS != nil && svc.WS.OnClose != nil {
				svc.WS.OnClose(wsch)
			}
		}
	} else if writer != nil {
		writer.closeNotify()
	}
}

// FeedRecvData pushes received bytes into the handler. It returns the number
// of bytes consumed: the full input length on success, a short count with an
// error on protocol failure, and (0, nil) once the handler wants the
// connection closed.
func (h *Handler) FeedRecvData(data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.protocol == ProtocolUnknown {
		version := 1
		if isHTTP2Preface(data) {
			version = 2
		} else if err := checkRequestLine(data); err != nil {
			h.svc.logger().Printf("[%s:%d] %v", h.ip, h.port, err)
			h.err = ErrRequest
			return 0, h.err
		}
		h.init(version)
	}

	var nfeed int
	var err error
	switch h.protocol {
	case ProtocolHTTP1, ProtocolHTTP2:
		if h.state != stateWantRecv {
			h.resetLocked()
		}
		nfeed, err = h.parser.Feed(data)
		if h.protocol == ProtocolHTTP2 {
			h.flushParserFramesLocked()
		}
		if h.state == stateWantClose && err == nil && nfeed != len(data) {
			// Pipelined bytes after a close-bound response are dropped.
			return 0, nil
		}
		if err != nil || nfeed != len(data) {
			h.svc.logger().Printf("[%s:%d] http parse error: %v", h.ip, h.port, err)
			h.err = ErrParse
			return nfeed, h.err
		}
	case ProtocolWebSocket:
		nfeed, err = h.wsParser.Feed(data)
		if err != nil || nfeed != len(data) {
			h.svc.logger().Printf("[%s:%d] websocket parse error: %v", h.ip, h.port, err)
			h.err = ErrParse
			return nfeed, h.err
		}
	default:
		h.err = ErrInvalidProtocol
		return 0, h.err
	}

	if h.state == stateWantClose {
		return 0, nil
	}
	if h.err != nil {
		return nfeed, h.err
	}
	return nfeed, nil
}

// isHTTP2Preface reports whether data begins like the HTTP/2 client preface.
func isHTTP2Preface(data []byte) bool {
	const preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
	n := len(data)
	if n > len(preface) {
		n = len(preface)
	}
	return n > 0 && string(data[:n]) == preface[:n]
}

// checkRequestLine requires enough printable bytes to form a plausible
// HTTP/1 request line.
func checkRequestLine(data []byte) error {
	if len(data) < minRequestLineLen {
		return ErrRequest
	}
	for i := 0; i < minRequestLineLen; i++ {
		if c := data[i]; c < 0x20 || c > 0x7e {
			return ErrRequest
		}
	}
	return nil
}

// onParserEvent is the single parser callback; it is invoked with the
// handler lock held (the parser runs inside FeedRecvData).
func (h *Handler) onParserEvent(state h1.ParserState, data []byte) {
	if h.state == stateWantClose || h.err != nil {
		return
	}
	switch state {
	case h1.StateHeadersComplete:
		h.onHeadersComplete()
	case h1.StateBody:
		if h.route == nil || h.route.State == nil {
			h.req.Body = append(h.req.Body, data...)
			return
		}
	case h1.StateMessageComplete:
		if !h.proxy {
			h.onMessageComplete()
			return
		}
	}
	if h.route != nil && h.route.State != nil {
		h.route.State(h.getContextLocked(), state, data)
	}
}

func (h *Handler) onHeadersComplete() {
	req := h.req
	if h.ssl {
		req.Scheme = "https"
	} else if req.Scheme == "" {
		req.Scheme = "http"
	}
	req.ClientIP = h.ip
	req.ClientPort = h.port

	h.keepalive = req.IsKeepAlive()

	// Forward-proxy requests use the absolute-form target; detect before
	// parsing the URL.
	forwardProxy := false
	if strings.HasPrefix(req.RawURL, "http://") || strings.HasPrefix(req.RawURL, "https://") {
		forwardProxy = true
		switch strings.ToLower(req.Headers.Get("Proxy-Connection")) {
		case "keep-alive", "upgrade":
			h.keepalive = true
		case "close":
			h.keepalive = false
		}
	}

	if err := req.ParseURL(); err != nil {
		h.svc.logger().Printf("[%s:%d] %v", h.ip, h.port, err)
	}

	if h.svc != nil && h.svc.GetRoute != nil {
		h.route, h.params = h.svc.GetRoute(req)
	}

	if h.route != nil && h.route.State != nil && h.writer != nil {
		// If the connection dies before the message completes, the streaming
		// handler gets a final error event to release its resources.
		h.writer.OnClose = func() {
			if !h.parser.IsComplete() && h.route != nil && h.route.State != nil {
				h.route.State(h.getContextLocked(), h1.StateError, nil)
			}
		}
		return
	}

	if forwardProxy {
		if h.svc != nil && h.svc.EnableForwardProxy {
			h.proxyConnect(req.RawURL)
		} else {
			h.resp.Status = http.StatusForbidden
			h.svc.logger().Printf("forbidden to forward proxy %s", req.RawURL)
		}
		return
	}

	if h.svc != nil && len(h.svc.Proxies) > 0 {
		if proxyURL := h.svc.GetProxyURL(req.Path); proxyURL != "" {
			req.RawURL = proxyURL
			_ = req.ParseURL()
			h.proxyConnect(proxyURL)
			return
		}
	}

	if strings.EqualFold(req.Headers.Get("Expect"), "100-continue") {
		if h.t != nil {
			_ = h.t.Write([]byte(http100Continue), nil)
		}
	}
}

func (h *Handler) onMessageComplete() {
	status := http.StatusOK

	h.resp.Headers.Set("Server", ServerHeader)
	if h.keepalive {
		h.resp.Headers.Set("Connection", "keep-alive")
	} else {
		h.resp.Headers.Set("Connection", "close")
	}

	h.upgrade = false
	if proto := h.req.Headers.Get("Upgrade"); proto != "" {
		h.upgrade = true
		h.svc.logger().Printf("[%s:%d] Upgrade: %s", h.ip, h.port, proto)
		if !h.handleUpgrade(proto) {
			return
		}
	} else {
		status = h.handleHTTPRequest()
	}

	h.sendResponseLocked()

	if h.svc != nil && h.svc.EnableAccessLog {
		h.svc.logger().Printf("[%s:%d][%s %s]=>[%d %s]",
			h.ip, h.port, h.req.Method, h.req.Path, h.resp.Status, h.resp.StatusMessage())
	}

	if status != StatusNext {
		if h.protocol == ProtocolWebSocket {
			return
		}
		if h.keepalive {
			h.resetLocked()
		} else {
			h.state = stateWantClose
		}
	}

	if fns := h.pendingAsync; len(fns) > 0 {
		h.pendingAsync = nil
		for _, fn := range fns {
			h.svc.async(fn)
		}
	}
}

// GetSendData returns the next buffer to ship, nil once drained. For HTTP/1
// it frames the resolved response; for HTTP/2 the codec yields frame bytes.
func (h *Handler) GetSendData() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getSendDataLocked()
}

func (h *Handler) getSendDataLocked() []byte {
	if h.state == stateHandleContinue {
		return nil
	}
	if h.parser == nil {
		return nil
	}
	if h.protocol == ProtocolHTTP2 {
		return h.parser.SendData()
	}

	switch h.state {
	case stateWantRecv:
		if !h.parser.IsComplete() {
			return nil
		}
		h.state = stateWantSend
	case stateHandleEnd:
		h.state = stateWantSend
	}

	switch h.state {
	case stateWantSend, stateSendHeader:
		return h.frameHeaderLocked()
	case stateSendBody:
		h.state = stateSendDone
		return h.resp.ContentBytes()
	case stateSendDone:
		if h.fc != nil {
			h.files.Release(h.fc)
			if h.svc != nil && h.svc.MaxFileCacheSize > 0 && int64(len(h.fc.FileBuf())) > h.svc.MaxFileCacheSize {
				h.files.Evict(h.fc)
			}
			h.fc.ClearHeader()
			h.fc = nil
		}
		h.header = nil
		return nil
	}
	return nil
}

// frameHeaderLocked computes the header buffer, coalescing the body when it
// is small and deferring it to a second buffer when large.
func (h *Handler) frameHeaderLocked() []byte {
	h.state = stateSendHeader
	resp := h.resp

	// HEAD: header only, never a body.
	if h.req.Method == http.MethodHead {
		if h.fc != nil {
			resp.Headers.Set("Accept-Ranges", "bytes")
			resp.Headers.Set("Content-Length", strconv.FormatInt(h.fc.Size, 10))
		} else {
			resp.Headers.Set("Content-Type", "text/html")
			resp.Headers.Set("Content-Length", "0")
		}
		resp.ContentLength = 0
		resp.Content = nil
		resp.Body = resp.Body[:0]
		h.state = stateSendDone
		h.header = resp.DumpHeader()
		return h.header
	}

	// File service: drop the header into the cache entry's reserved slot so
	// header and body ship as one contiguous buffer.
	if h.fc != nil {
		resp.ContentLength = int64(len(h.fc.FileBuf()))
		h.header = resp.DumpHeader()
		h.fc.PrependHeader(h.header)
		h.state = stateSendDone
		return h.fc.HTTPBuf()
	}

	content := resp.ContentBytes()
	if content != nil {
		resp.ContentLength = int64(len(content))
		if resp.ContentLength > coalesceLimit {
			h.state = stateSendBody
			h.header = resp.DumpHeader()
			return h.header
		}
		h.header = resp.DumpHeader()
		h.header = append(h.header, content...)
		h.state = stateSendDone
		return h.header
	}

	if resp.ContentLength < 0 {
		resp.ContentLength = 0
	}
	h.state = stateSendDone
	h.header = resp.DumpHeader()
	return h.header
}

// sendResponseLocked drains the framer into the transport.
func (h *Handler) sendResponseLocked() int {
	if h.t == nil {
		return -1
	}
	total := 0
	for {
		data := h.getSendDataLocked()
		if data == nil {
			break
		}
		if len(data) > 0 {
			_ = h.t.Write(data, nil)
			total += len(data)
		}
	}
	return total
}

// sendStatusResponseLocked replies with a bare status response immediately.
func (h *Handler) sendStatusResponseLocked(status int) int {
	h.resp.Status = status
	h.state = stateWantSend
	return h.sendResponseLocked()
}

// flushParserFramesLocked ships protocol frames (settings/ping acks, window
// updates) queued by the HTTP/2 codec outside a response exchange.
func (h *Handler) flushParserFramesLocked() {
	if h.t == nil {
		return
	}
	if data := h.parser.SendData(); len(data) > 0 {
		_ = h.t.Write(data, nil)
	}
}

// onWriterEnd is the writer's completion hook for responses finished by an
// external actor (deferred handler, streaming sender).
func (h *Handler) onWriterEnd() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finishExchangeLocked()
}

// finishExchangeLocked ends the current exchange after an asynchronous
// completion: rewind for the next request or close the connection.
func (h *Handler) finishExchangeLocked() {
	if h.state == stateWantClose || h.closed {
		return
	}
	if h.keepalive && !h.upgrade {
		h.resetLocked()
		return
	}
	h.state = stateWantClose
	if h.t != nil {
		_ = h.t.Close()
	}
}

func (h *Handler) getContextLocked() *Context {
	if h.ctx == nil {
		h.ctx = &Context{
			Service:  h.svc,
			Request:  h.req,
			Response: h.resp,
			Writer:   h.writer,
			Params:   h.params,
		}
	}
	return h.ctx
}
