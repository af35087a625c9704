package transport

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bamlan/hive/internal/httpd"
)

// upstreamLink is the outbound half of a proxied exchange. It holds a
// non-owning reference back to the downstream connection; tearing the link
// down never touches downstream state directly, only via the handler's
// close callback.
type upstreamLink struct {
	down *conn
	opts httpd.UpstreamOptions

	mu      sync.Mutex
	nc      net.Conn
	pending [][]byte

	closed atomic.Bool
}

func (u *upstreamLink) dial(addr, serverName string, useTLS bool) {
	d := net.Dialer{Timeout: u.opts.ConnectTimeout}
	nc, err := d.Dial("tcp", addr)
	if err != nil {
		u.fail(err)
		return
	}
	if useTLS {
		nc = tls.Client(nc, &tls.Config{ServerName: serverName})
	}

	u.mu.Lock()
	if u.closed.Load() {
		u.mu.Unlock()
		_ = nc.Close()
		return
	}
	u.nc = nc
	pending := u.pending
	u.pending = nil
	u.mu.Unlock()

	for _, p := range pending {
		if _, err := nc.Write(p); err != nil {
			u.fail(err)
			return
		}
	}
	if u.opts.OnConnect != nil {
		u.opts.OnConnect(u)
	}
	go u.readLoop()
}

// readLoop forwards upstream bytes to the downstream connection.
func (u *upstreamLink) readLoop() {
	buf := make([]byte, 32<<10)
	for {
		if u.opts.ReadTimeout > 0 {
			_ = u.nc.SetReadDeadline(time.Now().Add(u.opts.ReadTimeout))
		}
		n, err := u.nc.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			_ = u.down.Write(out, nil)
		}
		if err != nil {
			u.fail(err)
			return
		}
	}
}

// fail closes the link once, reporting the cause to the handler.
func (u *upstreamLink) fail(err error) {
	if !u.closed.CompareAndSwap(false, true) {
		return
	}
	u.mu.Lock()
	nc := u.nc
	u.mu.Unlock()
	if nc != nil {
		_ = nc.Close()
	}
	if u.opts.OnClose != nil {
		u.opts.OnClose(err)
	}
}

// Write sends p upstream, queueing it if the dial has not completed yet.
func (u *upstreamLink) Write(p []byte) error {
	u.mu.Lock()
	nc := u.nc
	if nc == nil {
		buf := make([]byte, len(p))
		copy(buf, p)
		u.pending = append(u.pending, buf)
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()
	if u.opts.WriteTimeout > 0 {
		_ = nc.SetWriteDeadline(time.Now().Add(u.opts.WriteTimeout))
	}
	_, err := nc.Write(p)
	return err
}

// Close tears the link down without firing the close callback; used by the
// handler's own teardown.
func (u *upstreamLink) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	u.mu.Lock()
	nc := u.nc
	u.mu.Unlock()
	if nc != nil {
		return nc.Close()
	}
	return nil
}

// Pipe links the downstream read path to this upstream so raw bytes flow in
// both directions.
func (u *upstreamLink) Pipe() {
	u.down.setUpstream(u)
}
