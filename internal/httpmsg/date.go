package httpmsg

import (
	"sync/atomic"
	"time"
)

// cachedDate stores the formatted Date header value to avoid calling
// time.Now().Format() on every response. Refreshed at most once per second.
type cachedDate struct {
	unix  int64
	value string
}

var currentDate atomic.Pointer[cachedDate]

// DateHeader returns the current RFC 7231 (http.TimeFormat) date string.
func DateHeader() string {
	now := time.Now()
	if d := currentDate.Load(); d != nil && d.unix == now.Unix() {
		return d.value
	}
	d := &cachedDate{
		unix:  now.Unix(),
		value: now.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"),
	}
	currentDate.Store(d)
	return d.value
}
