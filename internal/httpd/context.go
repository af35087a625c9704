package httpd

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/bamlan/hive/internal/httpmsg"
)

// Context aggregates everything a pluggable handler needs: the service, the
// request/response pair and the writer for streamed responses. Handlers that
// escape to another goroutine must go through the writer's published
// operations.
type Context struct {
	Service  *Service
	Request  *httpmsg.Request
	Response *httpmsg.Response
	Writer   *ResponseWriter

	// Params holds captured path parameters from routing.
	Params map[string]string

	values   map[string]interface{}
	deferred []func(*Context)
}

// Method returns the request method.
func (c *Context) Method() string { return c.Request.Method }

// Path returns the request path.
func (c *Context) Path() string { return c.Request.Path }

// Query returns the first value of a query parameter.
func (c *Context) Query(key string) string {
	if c.Request.Query == nil {
		return ""
	}
	return c.Request.Query.Get(key)
}

// Param returns a captured path parameter.
func (c *Context) Param(name string) string {
	return c.Params[name]
}

// Set stores a request-scoped value.
func (c *Context) Set(key string, value interface{}) {
	if c.values == nil {
		c.values = make(map[string]interface{}, 8)
	}
	c.values[key] = value
}

// Get retrieves a request-scoped value.
func (c *Context) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// SetHeader sets a response header.
func (c *Context) SetHeader(key, value string) {
	c.Response.Headers.Set(key, value)
}

// Defer registers fn to run in the postprocessor, after the final status is
// known. Used by middleware that observes the completed response.
func (c *Context) Defer(fn func(*Context)) {
	c.deferred = append(c.deferred, fn)
}

// RunDeferred executes deferred middleware hooks in reverse registration
// order. The pipeline calls it once the final status is known.
func (c *Context) RunDeferred() {
	for i := len(c.deferred) - 1; i >= 0; i-- {
		c.deferred[i](c)
	}
	c.deferred = nil
}

// String writes a formatted text/plain response and returns the status.
func (c *Context) String(status int, format string, args ...interface{}) int {
	c.Response.ContentType = "text/plain; charset=utf-8"
	if len(args) == 0 {
		c.Response.Body = append(c.Response.Body, format...)
	} else {
		c.Response.Body = append(c.Response.Body, fmt.Sprintf(format, args...)...)
	}
	return status
}

// JSON marshals v as the response body and returns the status.
func (c *Context) JSON(status int, v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		c.Response.Body = c.Response.Body[:0]
		return http.StatusInternalServerError
	}
	c.Response.ContentType = "application/json"
	c.Response.Body = append(c.Response.Body, data...)
	return status
}

// Data writes raw bytes with the given content type and returns the status.
func (c *Context) Data(status int, contentType string, data []byte) int {
	c.Response.ContentType = contentType
	c.Response.Body = append(c.Response.Body, data...)
	return status
}

// NoContent returns status with an empty body.
func (c *Context) NoContent(status int) int {
	c.Response.Body = c.Response.Body[:0]
	return status
}

// BindJSON unmarshals the request body into v.
func (c *Context) BindJSON(v interface{}) error {
	return json.Unmarshal(c.Request.Body, v)
}
