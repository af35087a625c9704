package httpd

import "errors"

// Protocol- and I/O-level failures surfaced by the handler. Parse-class
// errors stop the feed and make the outer server close the connection;
// upstream and file errors map to HTTP status responses first.
var (
	ErrRequest         = errors.New("httpd: invalid http request")
	ErrInvalidProtocol = errors.New("httpd: invalid protocol")
	ErrParse           = errors.New("httpd: parse error")
	ErrSocket          = errors.New("httpd: upstream socket error")
	ErrReadFile        = errors.New("httpd: read file error")
	ErrNullTransport   = errors.New("httpd: no transport")
)

// Pipeline status sentinels. Real HTTP statuses are 100..599; these sit
// outside that range.
const (
	// StatusNext means the stage deferred completion to an external actor:
	// the pipeline continues (for stages) or the lifecycle enters
	// HandleContinue (as a final status).
	StatusNext = 0
	// StatusUnfinished is returned by streaming senders that have taken over
	// the response writer and will finish it asynchronously.
	StatusUnfinished = 1
)
