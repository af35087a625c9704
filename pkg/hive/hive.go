// Package hive is the public API of the hive HTTP server: configuration,
// routing, middleware and the server itself. The per-connection protocol
// machinery lives in internal/httpd.
package hive

import (
	"github.com/bamlan/hive/internal/h1"
	"github.com/bamlan/hive/internal/httpd"
	"github.com/bamlan/hive/internal/httpmsg"
	"github.com/bamlan/hive/internal/ws"
)

// Core types re-exported for handler signatures.
type (
	// Context aggregates service, request, response and writer for a request.
	Context = httpd.Context
	// Request is a parsed HTTP request.
	Request = httpmsg.Request
	// Response is the HTTP response under construction.
	Response = httpmsg.Response
	// ResponseWriter streams a response on behalf of asynchronous handlers.
	ResponseWriter = httpd.ResponseWriter
	// Route is a pluggable handler in one of four flavors.
	Route = httpd.Route
	// WebSocketService carries WebSocket callbacks and heartbeat settings.
	WebSocketService = httpd.WebSocketService
	// WebSocketChannel is the server end of an upgraded connection.
	WebSocketChannel = ws.Channel
	// ParserState identifies an event delivered to streaming handlers.
	ParserState = h1.ParserState
	// Opcode is a WebSocket frame opcode.
	Opcode = ws.Opcode
)

// HandlerFunc is the context-flavor request handler: it runs on the I/O
// goroutine and returns a status code.
type HandlerFunc func(c *Context) int

// Middleware is a pipeline stage; return StatusNext to continue the chain.
type Middleware func(c *Context) int

// Pipeline status sentinels.
const (
	StatusNext       = httpd.StatusNext
	StatusUnfinished = httpd.StatusUnfinished
)

// Streaming handler event states.
const (
	StateHeadersComplete = h1.StateHeadersComplete
	StateBody            = h1.StateBody
	StateMessageComplete = h1.StateMessageComplete
	StateError           = h1.StateError
)

// WebSocket opcodes.
const (
	OpcodeText   = ws.OpcodeText
	OpcodeBinary = ws.OpcodeBinary
	OpcodeClose  = ws.OpcodeClose
	OpcodePing   = ws.OpcodePing
	OpcodePong   = ws.OpcodePong
)
