package httpd

import "time"

// Transport is the surface the handler drives a single accepted connection
// through. The event-loop integration implements it for real sockets; tests
// implement it in memory.
type Transport interface {
	// Write queues p for sending. done, when non-nil, is invoked after the
	// bytes have been handed to the kernel (or dropped on error).
	Write(p []byte, done func(error)) error
	// Close tears the connection down. Idempotent.
	Close() error
	// Peer returns the remote address.
	Peer() (ip string, port int)
	// SSL reports whether the connection arrived over TLS.
	SSL() bool
	// PauseRead stops delivering received bytes to the handler; ResumeRead
	// re-enables delivery and flushes anything held back.
	PauseRead()
	ResumeRead()
	// OpenUpstream dials an upstream for proxying. The returned link is
	// usable immediately for queueing writes; OnConnect fires once the dial
	// completes and OnClose when the upstream goes away.
	OpenUpstream(host string, port int, useTLS bool, opts UpstreamOptions) (Upstream, error)
}

// UpstreamOptions configures an upstream proxy link.
type UpstreamOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// OnConnect fires on the upstream dial completing.
	OnConnect func(up Upstream)
	// OnClose fires once when the upstream closes or fails; err carries the
	// cause (nil for a clean close).
	OnClose func(err error)
}

// Upstream is the outbound half of a proxied connection.
type Upstream interface {
	Write(p []byte) error
	Close() error
	// Pipe links the two directions: downstream bytes are forwarded here and
	// upstream bytes are written downstream, bypassing the HTTP machinery.
	Pipe()
}
