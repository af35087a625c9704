package httpd

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bamlan/hive/internal/httpmsg"
)

// WriterState tracks send progress of a streamed response.
type WriterState int

const (
	WriterSendBegin WriterState = iota
	WriterSendHeader
	WriterSendBody
	WriterSendEnd
	WriterDisconnected
)

// ResponseWriter streams a response to the transport on behalf of handlers
// that complete asynchronously or in multiple steps. All methods are safe to
// call from any goroutine; writes preserve call order.
type ResponseWriter struct {
	mu   sync.Mutex
	t    Transport
	resp *httpmsg.Response

	state   WriterState
	chunked bool

	inflight atomic.Int32

	// OnWrite fires on the transport's write-completion when no writes
	// remain in flight. The large-file streamer uses it for backpressure.
	OnWrite func()
	// OnClose fires when the connection goes away mid-response.
	OnClose func()

	// onEnd is the handler's completion hook for asynchronously finished
	// responses.
	onEnd func()
}

func newResponseWriter(t Transport, resp *httpmsg.Response) *ResponseWriter {
	return &ResponseWriter{t: t, resp: resp}
}

// Begin re-arms the writer for the next response on a keep-alive connection.
func (w *ResponseWriter) Begin() {
	w.mu.Lock()
	if w.state != WriterDisconnected {
		w.state = WriterSendBegin
	}
	w.chunked = false
	w.OnWrite = nil
	w.OnClose = nil
	w.mu.Unlock()
}

// State returns the current send state.
func (w *ResponseWriter) State() WriterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Started reports whether the writer has begun sending this response.
func (w *ResponseWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != WriterSendBegin
}

// Connected reports whether the underlying connection is still up.
func (w *ResponseWriter) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != WriterDisconnected
}

// Response exposes the response under construction.
func (w *ResponseWriter) Response() *httpmsg.Response {
	return w.resp
}

// WriteHeader sets the response status code.
func (w *ResponseWriter) WriteHeader(status int) {
	w.resp.Status = status
}

// SetHeader sets a response header; a no-op once headers have shipped.
func (w *ResponseWriter) SetHeader(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WriterSendBegin {
		return
	}
	w.resp.Headers.Set(key, value)
}

// EndHeaders serializes and sends the status line and headers. When the body
// length is unknown the response switches to chunked transfer coding.
func (w *ResponseWriter) EndHeaders() error {
	w.mu.Lock()
	if w.state == WriterDisconnected {
		w.mu.Unlock()
		return ErrNullTransport
	}
	if w.state != WriterSendBegin {
		w.mu.Unlock()
		return nil
	}
	if w.resp.ContentLength < 0 && !w.resp.Headers.Has("Content-Length") && bodyAllowed(w.resp.Status) {
		w.chunked = true
		w.resp.Headers.Set("Transfer-Encoding", "chunked")
	}
	head := w.resp.DumpHeader()
	w.state = WriterSendHeader
	w.mu.Unlock()
	return w.write(head)
}

// WriteBody sends a body chunk, framing it for chunked transfer when active.
func (w *ResponseWriter) WriteBody(p []byte) (int, error) {
	if err := w.EndHeaders(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	if w.state == WriterDisconnected {
		w.mu.Unlock()
		return 0, ErrNullTransport
	}
	w.state = WriterSendBody
	chunked := w.chunked
	w.mu.Unlock()

	buf := p
	if chunked {
		frame := strconv.AppendInt(make([]byte, 0, len(p)+16), int64(len(p)), 16)
		frame = append(frame, '\r', '\n')
		frame = append(frame, p...)
		frame = append(frame, '\r', '\n')
		buf = frame
	} else {
		// The transport may retain the buffer past this call.
		buf = append([]byte(nil), p...)
	}
	if err := w.write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End finishes the response, emitting the chunked terminator when needed,
// and notifies the handler that the exchange is complete.
func (w *ResponseWriter) End() error {
	return w.end(true)
}

// endQuiet finishes the response without the completion hook; used by the
// handler itself, which already knows.
func (w *ResponseWriter) endQuiet() error {
	return w.end(false)
}

func (w *ResponseWriter) end(notify bool) error {
	if err := w.EndHeaders(); err != nil {
		return err
	}
	w.mu.Lock()
	if w.state == WriterSendEnd || w.state == WriterDisconnected {
		w.mu.Unlock()
		return nil
	}
	chunked := w.chunked
	w.state = WriterSendEnd
	onEnd := w.onEnd
	w.mu.Unlock()

	if chunked {
		if err := w.write([]byte("0\r\n\r\n")); err != nil {
			return err
		}
	}
	if notify && onEnd != nil {
		onEnd()
	}
	return nil
}

// CloseHard tears the connection down immediately.
func (w *ResponseWriter) CloseHard() {
	w.mu.Lock()
	w.state = WriterDisconnected
	t := w.t
	w.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// disconnect marks the writer dead without touching the transport; the
// handler calls it from Close.
func (w *ResponseWriter) disconnect() {
	w.mu.Lock()
	w.state = WriterDisconnected
	w.mu.Unlock()
}

// closeNotify fires the OnClose hook, if any.
func (w *ResponseWriter) closeNotify() {
	w.mu.Lock()
	onClose := w.OnClose
	w.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

// IsWriteComplete reports whether all queued writes have drained.
func (w *ResponseWriter) IsWriteComplete() bool {
	return w.inflight.Load() == 0
}

func (w *ResponseWriter) write(p []byte) error {
	if w.t == nil {
		return ErrNullTransport
	}
	w.inflight.Add(1)
	return w.t.Write(p, func(error) {
		if w.inflight.Add(-1) == 0 {
			w.mu.Lock()
			onWrite := w.OnWrite
			w.mu.Unlock()
			if onWrite != nil {
				onWrite()
			}
		}
	})
}

// bodyAllowed reports whether the status code permits a response body.
func bodyAllowed(status int) bool {
	if status >= 100 && status < 200 {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified
}
