package httpd

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

// proxyConnect opens an upstream connection for forward or reverse proxying.
// Downstream reads stay paused until the upstream connect fires.
func (h *Handler) proxyConnect(rawURL string) int {
	if h.t == nil {
		h.err = ErrNullTransport
		return -1
	}
	h.proxy = true

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		h.sendStatusResponseLocked(http.StatusBadGateway)
		h.err = ErrSocket
		return -1
	}
	host := u.Hostname()
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	h.svc.logger().Printf("proxy_pass %s", rawURL)

	opts := UpstreamOptions{
		ConnectTimeout: h.svc.ProxyConnectTimeout,
		ReadTimeout:    h.svc.ProxyReadTimeout,
		WriteTimeout:   h.svc.ProxyWriteTimeout,
		OnConnect:      h.onProxyConnect,
		OnClose:        h.onProxyClose,
	}
	up, err := h.t.OpenUpstream(host, port, u.Scheme == "https", opts)
	if err != nil {
		h.sendStatusResponseLocked(http.StatusBadGateway)
		_ = h.t.Close()
		h.err = ErrSocket
		return -1
	}
	h.upstream = up

	// Wait for the upstream to connect before reading more from downstream.
	h.t.PauseRead()
	return 0
}

// onProxyConnect forwards the rewritten request head plus any body received
// so far, then links the two directions for raw piping.
func (h *Handler) onProxyConnect(up Upstream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.upstream == nil {
		return
	}
	h.upstreamConnected = true

	req := h.req
	req.Headers.Del("Proxy-Connection")
	if h.keepalive {
		req.Headers.Set("Connection", "keep-alive")
	} else {
		req.Headers.Set("Connection", "close")
	}
	req.Headers.Set("X-Real-IP", h.ip)
	_ = up.Write(req.Dump(true, true))

	// Bidirectional piping from here on; downstream bytes bypass the parser.
	up.Pipe()
	h.t.ResumeRead()
}

// onProxyClose maps upstream failures to gateway statuses and tears the
// exchange down.
func (h *Handler) onProxyClose(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.upstream == nil && h.closed {
		return
	}
	if err != nil {
		var nerr net.Error
		switch {
		case errors.As(err, &nerr) && nerr.Timeout():
			h.sendStatusResponseLocked(http.StatusGatewayTimeout)
		case !h.upstreamConnected:
			h.sendStatusResponseLocked(http.StatusBadGateway)
		}
		h.err = ErrSocket
	}
	h.upstream = nil
	h.state = stateWantClose
	if h.t != nil {
		_ = h.t.Close()
	}
}
