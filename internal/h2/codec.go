// Package h2 adapts golang.org/x/net/http2 framing and HPACK into the
// push-parser contract used by the per-connection handler: raw bytes in,
// parse events out, response frames queued for the transport to drain.
package h2

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/bamlan/hive/internal/h1"
	"github.com/bamlan/hive/internal/httpmsg"
)

const (
	maxFrameSize     = 16384
	headerTableSize  = 4096
	initialWindow    = 65535
)

// clientPreface is the fixed connection preface every HTTP/2 client sends.
var clientPreface = []byte(http2.ClientPreface)

// Codec is a server-side HTTP/2 connection codec. Streams are processed
// serially: one request/response exchange at a time, matching the
// one-active-request invariant of the owning handler. Concurrent streams
// beyond the active one are refused.
type Codec struct {
	req *httpmsg.Request
	cb  h1.EventFunc

	in      []byte
	frameIn bytes.Buffer
	out     bytes.Buffer
	fr      *http2.Framer

	henc *hpack.Encoder
	hbuf bytes.Buffer
	hdec *hpack.Decoder

	prefaceSeen bool
	curStream   uint32
	endStream   bool
	frag        []byte
	complete    bool
}

// NewCodec creates a codec and queues the server SETTINGS frame.
func NewCodec() *Codec {
	c := &Codec{}
	c.fr = http2.NewFramer(&c.out, &c.frameIn)
	c.henc = hpack.NewEncoder(&c.hbuf)
	c.hdec = hpack.NewDecoder(headerTableSize, nil)
	_ = c.fr.WriteSettings(
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: maxFrameSize},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: initialWindow},
	)
	return c
}

// Init binds the codec to a request and callback and re-arms it for the next
// stream. Connection-level state (HPACK tables, settings) is retained.
func (c *Codec) Init(req *httpmsg.Request, cb h1.EventFunc) {
	c.req = req
	c.cb = cb
	c.curStream = 0
	c.endStream = false
	c.frag = nil
	c.complete = false
}

// IsComplete reports whether the active stream's request is fully received.
func (c *Codec) IsComplete() bool {
	return c.complete
}

// Feed consumes raw connection bytes, emitting parse events and queuing
// protocol replies (SETTINGS acks, PING acks, WINDOW_UPDATEs).
func (c *Codec) Feed(data []byte) (int, error) {
	c.in = append(c.in, data...)
	if !c.prefaceSeen {
		if len(c.in) < len(clientPreface) {
			return len(data), nil
		}
		if !bytes.Equal(c.in[:len(clientPreface)], clientPreface) {
			return 0, fmt.Errorf("h2: bad connection preface")
		}
		c.in = c.in[len(clientPreface):]
		c.prefaceSeen = true
	}
	for {
		if len(c.in) < 9 {
			return len(data), nil
		}
		length := int(c.in[0])<<16 | int(c.in[1])<<8 | int(c.in[2])
		total := 9 + length
		if len(c.in) < total {
			return len(data), nil
		}
		c.frameIn.Write(c.in[:total])
		c.in = c.in[total:]
		f, err := c.fr.ReadFrame()
		if err != nil {
			return 0, fmt.Errorf("h2: read frame: %w", err)
		}
		if err := c.handleFrame(f); err != nil {
			return 0, err
		}
	}
}

func (c *Codec) handleFrame(f http2.Frame) error {
	switch f := f.(type) {
	case *http2.SettingsFrame:
		if !f.IsAck() {
			_ = c.fr.WriteSettingsAck()
		}
	case *http2.PingFrame:
		if !f.IsAck() {
			_ = c.fr.WritePing(true, f.Data)
		}
	case *http2.WindowUpdateFrame, *http2.PriorityFrame, *http2.GoAwayFrame:
		// No flow-control accounting needed on the receive side.
	case *http2.RSTStreamFrame:
		if f.StreamID == c.curStream && !c.complete {
			c.curStream = 0
			c.frag = nil
			c.emit(h1.StateError, nil)
		}
	case *http2.HeadersFrame:
		if c.curStream != 0 && f.StreamID != c.curStream {
			// Streams are served one at a time; refuse concurrent ones.
			_ = c.fr.WriteRSTStream(f.StreamID, http2.ErrCodeRefusedStream)
			return nil
		}
		c.curStream = f.StreamID
		c.endStream = f.StreamEnded()
		c.frag = append(c.frag[:0], f.HeaderBlockFragment()...)
		if f.HeadersEnded() {
			return c.finishHeaders()
		}
	case *http2.ContinuationFrame:
		if f.StreamID != c.curStream {
			return nil
		}
		c.frag = append(c.frag, f.HeaderBlockFragment()...)
		if f.HeadersEnded() {
			return c.finishHeaders()
		}
	case *http2.DataFrame:
		if f.StreamID != c.curStream {
			return nil
		}
		if n := len(f.Data()); n > 0 {
			c.emit(h1.StateBody, f.Data())
			_ = c.fr.WriteWindowUpdate(0, uint32(n))
			_ = c.fr.WriteWindowUpdate(f.StreamID, uint32(n))
		}
		if f.StreamEnded() {
			c.complete = true
			c.emit(h1.StateMessageComplete, nil)
		}
	}
	return nil
}

func (c *Codec) finishHeaders() error {
	fields, err := c.hdec.DecodeFull(c.frag)
	c.frag = nil
	if err != nil {
		return fmt.Errorf("h2: hpack decode: %w", err)
	}
	c.req.Major, c.req.Minor = 2, 0
	for _, f := range fields {
		switch f.Name {
		case ":method":
			c.req.Method = f.Value
		case ":path":
			c.req.RawURL = f.Value
		case ":scheme":
			c.req.Scheme = f.Value
		case ":authority":
			c.req.Host = f.Value
		default:
			c.req.Headers.Set(f.Name, f.Value)
		}
	}
	c.emit(h1.StateHeadersComplete, nil)
	if c.endStream {
		c.complete = true
		c.emit(h1.StateMessageComplete, nil)
	}
	return nil
}

// SubmitResponse encodes the response as HEADERS (+DATA) frames for the
// active stream.
func (c *Codec) SubmitResponse(resp *httpmsg.Response) {
	if c.curStream == 0 {
		return
	}
	c.hbuf.Reset()
	_ = c.henc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(resp.Status)})
	if resp.ContentType != "" && !resp.Headers.Has("Content-Type") {
		_ = c.henc.WriteField(hpack.HeaderField{Name: "content-type", Value: resp.ContentType})
	}
	for _, h := range resp.Headers.All() {
		if connectionLevelHeader(h[0]) {
			continue
		}
		_ = c.henc.WriteField(hpack.HeaderField{Name: h[0], Value: h[1]})
	}
	body := resp.ContentBytes()
	_ = c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      c.curStream,
		BlockFragment: c.hbuf.Bytes(),
		EndHeaders:    true,
		EndStream:     len(body) == 0,
	})
	for len(body) > 0 {
		n := len(body)
		if n > maxFrameSize {
			n = maxFrameSize
		}
		_ = c.fr.WriteData(c.curStream, n == len(body), body[:n])
		body = body[n:]
	}
}

// SendData drains queued output frames, returning nil when empty.
func (c *Codec) SendData() []byte {
	if c.out.Len() == 0 {
		return nil
	}
	b := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return b
}

func (c *Codec) emit(state h1.ParserState, data []byte) {
	if c.cb != nil {
		c.cb(state, data)
	}
}

// connectionLevelHeader reports whether an HTTP/1 header must not appear in
// an HTTP/2 response (RFC 7540 8.1.2.2).
func connectionLevelHeader(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade":
		return true
	}
	return false
}
