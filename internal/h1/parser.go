// Package h1 provides an incremental, push-style HTTP/1.x request parser.
// Bytes are fed in arbitrary chunks; parse progress is reported through a
// single event callback.
package h1

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/bamlan/hive/internal/httpmsg"
)

// ParserState identifies an event delivered to the parser callback.
type ParserState int

const (
	// StateHeadersComplete fires once the request line and all headers parsed.
	StateHeadersComplete ParserState = iota + 1
	// StateBody fires for each decoded body chunk; data holds the bytes.
	StateBody
	// StateMessageComplete fires when the message is fully received.
	StateMessageComplete
	// StateError fires when the wire bytes are unparseable.
	StateError
)

// EventFunc receives parse events. data is only set for StateBody.
type EventFunc func(state ParserState, data []byte)

// maxHeaderBytes bounds the request line plus headers.
const maxHeaderBytes = 1 << 20

type phase int

const (
	phaseStartLine phase = iota
	phaseHeaders
	phaseBody
	phaseChunkSize
	phaseChunkData
	phaseChunkCRLF
	phaseTrailer
	phaseDone
)

// Parser is an incremental HTTP/1.x request parser. It writes parsed fields
// into the bound request and emits events through the bound callback. After
// StateMessageComplete the owner may re-arm it with Init to parse the next
// pipelined request from the same feed.
type Parser struct {
	req *httpmsg.Request
	cb  EventFunc

	phase      phase
	line       []byte // partial line carried across feeds
	headerSize int
	bodyRemain int64
	chunkSize  int64
	err        error
}

// NewParser creates an unbound parser; call Init before feeding.
func NewParser() *Parser {
	return &Parser{phase: phaseStartLine}
}

// Init binds the parser to a request and callback and re-arms it for a new
// message. Safe to call from within a StateMessageComplete event.
func (p *Parser) Init(req *httpmsg.Request, cb EventFunc) {
	p.req = req
	p.cb = cb
	p.phase = phaseStartLine
	p.line = p.line[:0]
	p.headerSize = 0
	p.bodyRemain = 0
	p.chunkSize = 0
	p.err = nil
}

// IsComplete reports whether the current message has been fully received.
func (p *Parser) IsComplete() bool {
	return p.phase == phaseDone
}

// SubmitResponse is part of the shared parser contract; the HTTP/1 response
// path serializes directly, so there is nothing to hand to the parser.
func (p *Parser) SubmitResponse(_ *httpmsg.Response) {}

// SendData is part of the shared parser contract; HTTP/1 produces no framed
// output of its own.
func (p *Parser) SendData() []byte { return nil }

// Feed consumes data, emitting events as messages complete. It returns the
// number of bytes consumed; on a parse error the count falls short of
// len(data) and the error describes the fault.
func (p *Parser) Feed(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	pos := 0
	for pos < len(data) {
		switch p.phase {
		case phaseStartLine, phaseHeaders, phaseChunkSize, phaseChunkCRLF, phaseTrailer:
			start := pos
			line, n, ok := p.takeLine(data[pos:])
			pos += n
			if !ok {
				return pos, nil
			}
			if err := p.consumeLine(line); err != nil {
				p.fail(err)
				return start, err
			}
		case phaseBody:
			n := int64(len(data) - pos)
			if n > p.bodyRemain {
				n = p.bodyRemain
			}
			p.emit(StateBody, data[pos:pos+int(n)])
			pos += int(n)
			p.bodyRemain -= n
			if p.bodyRemain == 0 {
				p.finishMessage()
			}
		case phaseChunkData:
			n := int64(len(data) - pos)
			if n > p.chunkSize {
				n = p.chunkSize
			}
			p.emit(StateBody, data[pos:pos+int(n)])
			pos += int(n)
			p.chunkSize -= n
			if p.chunkSize == 0 {
				p.phase = phaseChunkCRLF
			}
		case phaseDone:
			// A completed message that was not re-armed means the remaining
			// bytes belong to a request nobody wants; stop consuming.
			return pos, nil
		}
	}
	return pos, nil
}

// takeLine accumulates bytes until LF, returning the complete line without
// its terminator. ok is false when more data is needed.
func (p *Parser) takeLine(data []byte) (line []byte, n int, ok bool) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		p.line = append(p.line, data...)
		p.headerSize += len(data)
		return nil, len(data), false
	}
	p.headerSize += idx + 1
	if len(p.line) > 0 {
		p.line = append(p.line, data[:idx]...)
		line = p.line
	} else {
		line = data[:idx]
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, idx + 1, true
}

func (p *Parser) consumeLine(line []byte) error {
	defer func() { p.line = p.line[:0] }()
	if p.headerSize > maxHeaderBytes {
		return fmt.Errorf("header block exceeds %d bytes", maxHeaderBytes)
	}
	switch p.phase {
	case phaseStartLine:
		if len(line) == 0 {
			// Tolerate a stray CRLF before the request line.
			return nil
		}
		return p.parseRequestLine(line)
	case phaseHeaders:
		if len(line) == 0 {
			return p.endHeaders()
		}
		return p.parseHeaderLine(line)
	case phaseChunkSize:
		return p.parseChunkSize(line)
	case phaseChunkCRLF:
		if len(line) != 0 {
			return fmt.Errorf("missing CRLF after chunk data")
		}
		p.phase = phaseChunkSize
		return nil
	case phaseTrailer:
		if len(line) == 0 {
			p.finishMessage()
		}
		// Trailer fields are consumed and dropped.
		return nil
	}
	return nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return fmt.Errorf("invalid request line")
	}
	p.req.Method = string(parts[0])
	p.req.RawURL = string(parts[1])
	version := string(parts[2])
	switch version {
	case "HTTP/1.1":
		p.req.Major, p.req.Minor = 1, 1
	case "HTTP/1.0":
		p.req.Major, p.req.Minor = 1, 0
	default:
		return fmt.Errorf("unsupported HTTP version: %s", version)
	}
	p.req.ContentLength = -1
	p.phase = phaseHeaders
	return nil
}

func (p *Parser) parseHeaderLine(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return fmt.Errorf("invalid header line")
	}
	name := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))
	p.req.Headers.Set(name, value)
	switch {
	case asciiEqualFold(name, "Host"):
		p.req.Host = value
	case asciiEqualFold(name, "Content-Length"):
		cl, err := strconv.ParseInt(value, 10, 64)
		if err != nil || cl < 0 {
			return fmt.Errorf("invalid content-length %q", value)
		}
		p.req.ContentLength = cl
	case asciiEqualFold(name, "Transfer-Encoding"):
		if asciiContainsFold(value, "chunked") {
			p.req.Chunked = true
			p.req.ContentLength = -1
		}
	}
	return nil
}

func (p *Parser) endHeaders() error {
	p.emit(StateHeadersComplete, nil)
	switch {
	case p.req.Chunked:
		p.phase = phaseChunkSize
	case p.req.ContentLength > 0:
		p.bodyRemain = p.req.ContentLength
		p.phase = phaseBody
	default:
		p.finishMessage()
	}
	return nil
}

func (p *Parser) parseChunkSize(line []byte) error {
	// Chunk extensions after ';' are ignored.
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("invalid chunk size %q", line)
	}
	if size == 0 {
		p.phase = phaseTrailer
		return nil
	}
	p.chunkSize = size
	p.phase = phaseChunkData
	return nil
}

func (p *Parser) finishMessage() {
	p.phase = phaseDone
	p.emit(StateMessageComplete, nil)
}

func (p *Parser) fail(err error) {
	p.err = err
	p.emit(StateError, nil)
}

func (p *Parser) emit(state ParserState, data []byte) {
	if p.cb != nil {
		p.cb(state, data)
	}
}

// asciiEqualFold reports whether s equals t under ASCII case-insensitive
// comparison.
func asciiEqualFold(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		cs := s[i]
		ct := t[i]
		if 'A' <= cs && cs <= 'Z' {
			cs |= 0x20
		}
		if 'A' <= ct && ct <= 'Z' {
			ct |= 0x20
		}
		if cs != ct {
			return false
		}
	}
	return true
}

// asciiContainsFold reports whether s contains sub, ASCII case-insensitively.
func asciiContainsFold(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	if len(sub) > len(s) {
		return false
	}
	sub = strings.ToLower(sub)
	for i := 0; i+len(sub) <= len(s); i++ {
		if asciiEqualFold(s[i:i+len(sub)], sub) {
			return true
		}
	}
	return false
}
