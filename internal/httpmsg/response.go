package httpmsg

import (
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
)

// Response represents an HTTP response under construction.
type Response struct {
	Status  int
	Headers Headers

	// Body holds response bytes produced by handlers. Content, when set,
	// points at externally owned bytes (e.g. a file cache entry) and takes
	// precedence over Body.
	Body    []byte
	Content []byte

	// ContentLength is the number of body bytes still to be sent. The
	// large-file streamer decrements it as chunks go out.
	ContentLength int64
	ContentType   string

	Major int
	Minor int
}

// Reset clears the response for reuse on a keep-alive connection.
func (r *Response) Reset() {
	r.Status = http.StatusOK
	r.Headers.Reset()
	r.Body = r.Body[:0]
	r.Content = nil
	r.ContentLength = -1
	r.ContentType = ""
	r.Major = 1
	r.Minor = 1
}

// StatusMessage returns the reason phrase for the current status code.
func (r *Response) StatusMessage() string {
	if s := http.StatusText(r.Status); s != "" {
		return s
	}
	return "Unknown"
}

// ContentBytes returns the bytes to send as the response body.
func (r *Response) ContentBytes() []byte {
	if r.Content != nil {
		return r.Content
	}
	if len(r.Body) > 0 {
		return r.Body
	}
	return nil
}

// ContentLen returns the length of the response body in bytes.
func (r *Response) ContentLen() int64 {
	if r.Content != nil {
		return int64(len(r.Content))
	}
	return int64(len(r.Body))
}

// SetRange sets the Content-Range header for a 206 response.
func (r *Response) SetRange(from, to, total int64) {
	r.Headers.Set("Content-Range",
		"bytes "+strconv.FormatInt(from, 10)+"-"+strconv.FormatInt(to, 10)+"/"+strconv.FormatInt(total, 10))
}

// SetContentTypeByFilename infers the content type from the file extension.
func (r *Response) SetContentTypeByFilename(path string) {
	ext := filepath.Ext(path)
	if ct := mime.TypeByExtension(ext); ct != "" {
		r.ContentType = ct
		return
	}
	r.ContentType = "application/octet-stream"
}

// DumpHeader serializes the status line and headers, terminated by the blank
// line. Content-Type, Content-Length and Date are filled in when not already
// present in Headers.
func (r *Response) DumpHeader() []byte {
	b := make([]byte, 0, 256)
	b = append(b, "HTTP/"...)
	b = strconv.AppendInt(b, int64(r.Major), 10)
	b = append(b, '.')
	b = strconv.AppendInt(b, int64(r.Minor), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(r.Status), 10)
	b = append(b, ' ')
	b = append(b, r.StatusMessage()...)
	b = append(b, '\r', '\n')

	if !r.Headers.Has("Date") {
		b = append(b, "Date: "...)
		b = append(b, DateHeader()...)
		b = append(b, '\r', '\n')
	}
	if r.ContentType != "" && !r.Headers.Has("Content-Type") {
		b = append(b, "Content-Type: "...)
		b = append(b, r.ContentType...)
		b = append(b, '\r', '\n')
	}
	if !r.Headers.Has("Content-Length") && r.ContentLength >= 0 && includeContentLength(r.Status) {
		b = append(b, "Content-Length: "...)
		b = strconv.AppendInt(b, r.ContentLength, 10)
		b = append(b, '\r', '\n')
	}
	for _, h := range r.Headers.All() {
		b = append(b, canonicalHeaderName(h[0])...)
		b = append(b, ": "...)
		b = append(b, h[1]...)
		b = append(b, '\r', '\n')
	}
	b = append(b, '\r', '\n')
	return b
}

// includeContentLength reports whether a response with the given status may
// carry a Content-Length header.
func includeContentLength(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
