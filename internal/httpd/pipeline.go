package httpd

import (
	"net/http"

	"github.com/bamlan/hive/internal/filecache"
	"github.com/bamlan/hive/internal/h1"
)

// handleHTTPRequest runs the processing pipeline:
// preprocessor -> middleware -> processor -> postprocessor. Any stage status
// other than StatusNext short-circuits to the postprocessor.
func (h *Handler) handleHTTPRequest() int {
	status := h.resp.Status
	if status == http.StatusOK {
		status = h.runStagesLocked()
	}

	// Postprocessor: clamp status, insert the error page, bind cache fields.
	if status >= 100 && status < 600 {
		h.resp.Status = status
		if h.resp.Status >= 400 && h.resp.ContentLen() == 0 && h.req.Method != http.MethodHead {
			if h.svc.ErrorHandler != nil {
				h.invokeRouteLocked(h.svc.ErrorHandler)
			} else {
				h.defaultErrorHandler()
			}
		}
	}
	if h.fc != nil {
		h.resp.Content = h.fc.FileBuf()
		h.resp.ContentLength = int64(len(h.fc.FileBuf()))
		h.resp.Headers.Set("Content-Type", h.fc.ContentType)
		h.resp.Headers.Set("Last-Modified", h.fc.LastModified)
		h.resp.Headers.Set("Etag", h.fc.Etag)
	}
	if h.svc.Postprocessor != nil {
		h.invokeRouteLocked(h.svc.Postprocessor)
	}
	if h.ctx != nil {
		h.ctx.RunDeferred()
	}

	// A writer that already began sending owns the response; the framer must
	// not be driven synchronously.
	if h.writer != nil && h.writer.Started() {
		status = StatusNext
	}
	if status == StatusNext {
		h.state = stateHandleContinue
	} else {
		h.state = stateHandleEnd
		h.parser.SubmitResponse(h.resp)
	}
	return status
}

func (h *Handler) runStagesLocked() int {
	h.state = stateHandleBegin
	if h.svc.Preprocessor != nil {
		if status := h.invokeRouteLocked(h.svc.Preprocessor); status != StatusNext {
			return status
		}
	}
	for _, mw := range h.svc.Middleware {
		if status := h.invokeRouteLocked(mw); status != StatusNext {
			return status
		}
	}
	if h.svc.Processor != nil {
		return h.invokeRouteLocked(h.svc.Processor)
	}
	return h.defaultRequestHandler()
}

// invokeRouteLocked dispatches one of the four handler flavors. Panics in
// handlers become 500s instead of taking the connection down.
func (h *Handler) invokeRouteLocked(r *Route) (status int) {
	defer func() {
		if rec := recover(); rec != nil {
			h.svc.logger().Printf("[%s:%d] panic in handler: %v", h.ip, h.port, rec)
			status = http.StatusInternalServerError
		}
	}()
	switch {
	case r.Sync != nil:
		return r.Sync(h.req, h.resp)
	case r.Deferred != nil:
		// Queued, not launched: the worker must not touch the response while
		// the pipeline is still reading it.
		fn := r.Deferred
		req := h.req
		w := h.writer
		h.pendingAsync = append(h.pendingAsync, func() { fn(req, w) })
		return StatusNext
	case r.Ctx != nil:
		return r.Ctx(h.getContextLocked())
	case r.State != nil:
		return r.State(h.getContextLocked(), h1.StateMessageComplete, nil)
	}
	return http.StatusNotImplemented
}

// defaultRequestHandler dispatches to the matched route, the static file
// service for GET/HEAD, or 501.
func (h *Handler) defaultRequestHandler() int {
	if h.route != nil {
		return h.invokeRouteLocked(h.route)
	}
	if h.req.Method == http.MethodGet || h.req.Method == http.MethodHead {
		if h.svc.StaticHandler != nil {
			return h.invokeRouteLocked(h.svc.StaticHandler)
		}
		if h.svc.DocumentRoot != "" {
			return h.defaultStaticHandler()
		}
		return http.StatusNotFound
	}
	return http.StatusNotImplemented
}

// defaultErrorHandler loads the configured error page through the file
// cache, falling back to a generated status page.
func (h *Handler) defaultErrorHandler() int {
	if h.svc.ErrorPage != "" && h.files != nil {
		path := h.svc.DocumentRoot + "/" + h.svc.ErrorPage
		if fc, err := h.files.Open(path, &filecache.OpenParam{NeedRead: true}); err == nil {
			h.fc = fc
		}
	}
	if h.fc == nil && len(h.resp.Body) == 0 {
		h.resp.ContentType = "text/html"
		h.resp.Body = append(h.resp.Body, statusPage(h.resp.Status)...)
	}
	return 0
}
