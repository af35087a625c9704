package httpd

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bamlan/hive/internal/filecache"
)

// sendFileBufSize is the read/write granularity of the large-file streamer.
const sendFileBufSize = 40960

// largeFile is an open file being streamed outside the cache.
type largeFile struct {
	f        *os.File
	size     int64
	buf      []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func (lf *largeFile) stopTimer() {
	if lf.stop != nil {
		lf.stopOnce.Do(func() { close(lf.stop) })
	}
}

// defaultStaticHandler serves a file from the document root, honoring Range
// requests and conditional GETs.
func (h *Handler) defaultStaticHandler() int {
	reqPath := h.req.Path
	if reqPath == "" || reqPath[0] != '/' || strings.Contains(reqPath, "/../") {
		return http.StatusBadRequest
	}
	filePath := h.svc.GetStaticFilepath(reqPath)
	if filePath == "" {
		return http.StatusNotFound
	}

	// Range: open the file directly, bypassing the cache.
	if from, to, ok := h.req.Range(); ok {
		return h.serveRangeLocked(filePath, from, to)
	}

	if h.files == nil {
		return http.StatusNotFound
	}
	param := filecache.OpenParam{
		MaxRead:  h.svc.MaxFileCacheSize,
		NeedRead: h.req.Method != http.MethodHead,
	}
	fc, err := h.files.Open(filePath, &param)
	if err != nil {
		if errors.Is(err, filecache.ErrOverLimit) {
			return h.invokeLargeFileLocked()
		}
		return http.StatusNotFound
	}
	h.fc = fc

	// Conditional GET against the cached validators.
	if inm := h.req.Headers.Get("if-not-match"); inm != "" && inm == fc.Etag {
		h.files.Release(fc)
		h.fc = nil
		return http.StatusNotModified
	}
	if ims := h.req.Headers.Get("if-modified-since"); ims != "" && ims == fc.LastModified {
		h.files.Release(fc)
		h.fc = nil
		return http.StatusNotModified
	}
	return http.StatusOK
}

func (h *Handler) serveRangeLocked(filePath string, from, to int64) int {
	if err := h.openFileLocked(filePath); err != nil {
		return http.StatusNotFound
	}
	total := h.file.size
	if to == 0 || to >= total {
		to = total - 1
	}
	if from > to || from >= total {
		h.closeFileLocked()
		return http.StatusRequestedRangeNotSatisfiable
	}
	if _, err := h.file.f.Seek(from, io.SeekStart); err != nil {
		h.closeFileLocked()
		return http.StatusInternalServerError
	}
	h.resp.Status = http.StatusPartialContent
	h.resp.ContentLength = to - from + 1
	h.resp.SetContentTypeByFilename(filePath)
	h.resp.SetRange(from, to, total)

	if h.resp.ContentLength < h.svc.MaxFileCacheSize {
		// Small enough: read the range straight into the body.
		buf := make([]byte, h.resp.ContentLength)
		n, err := io.ReadFull(h.file.f, buf)
		h.closeFileLocked()
		if err != nil || int64(n) != h.resp.ContentLength {
			h.resp.ContentLength = 0
			h.resp.Body = h.resp.Body[:0]
			return http.StatusInternalServerError
		}
		h.resp.Body = buf
		return http.StatusPartialContent
	}
	return h.invokeLargeFileLocked()
}

func (h *Handler) invokeLargeFileLocked() int {
	if h.svc.LargeFileHandler != nil {
		return h.invokeRouteLocked(h.svc.LargeFileHandler)
	}
	return h.defaultLargeFileHandler()
}

// defaultLargeFileHandler streams a file too large for the cache, pacing
// sends by writable events (unlimited) or a rate-derived interval timer.
func (h *Handler) defaultLargeFileHandler() int {
	if h.writer == nil {
		return http.StatusNotImplemented
	}
	if h.file == nil {
		filePath := h.svc.GetStaticFilepath(h.req.Path)
		if filePath == "" || h.openFileLocked(filePath) != nil {
			return http.StatusNotFound
		}
		h.resp.ContentLength = h.file.size
		h.resp.SetContentTypeByFilename(filePath)
	}
	if h.svc.LimitRate == 0 {
		// Serving large files is forbidden.
		h.resp.ContentLength = 0
		h.resp.Status = http.StatusForbidden
	} else {
		h.file.buf = make([]byte, sendFileBufSize)
		if h.svc.LimitRate < 0 {
			// Unlimited: continue as soon as the previous write drains.
			h.writer.OnWrite = func() {
				h.mu.Lock()
				defer h.mu.Unlock()
				if h.writer.IsWriteComplete() {
					h.sendFileLocked()
				}
			}
		} else {
			// limit_rate=40KiB/s -> one 40KiB buffer per second.
			intervalMs := sendFileBufSize / 1024 * 1000 / h.svc.LimitRate
			if intervalMs <= 0 {
				intervalMs = 1
			}
			h.startFileTimerLocked(time.Duration(intervalMs) * time.Millisecond)
		}
	}
	_ = h.writer.EndHeaders()
	return StatusUnfinished
}

// sendFileLocked ships one buffer of the streaming file. Called with the
// handler lock held, from timer ticks or writable callbacks.
func (h *Handler) sendFileLocked() int {
	if h.writer == nil || !h.writer.IsWriteComplete() ||
		h.file == nil || h.file.f == nil || len(h.file.buf) == 0 ||
		h.resp.ContentLength == 0 {
		return -1
	}
	want := int64(len(h.file.buf))
	if want > h.resp.ContentLength {
		want = h.resp.ContentLength
	}
	n, err := h.file.f.Read(h.file.buf[:want])
	if n <= 0 || err != nil {
		h.svc.logger().Printf("[%s:%d] read file error: %v", h.ip, h.port, err)
		h.err = ErrReadFile
		h.writer.CloseHard()
		h.closeFileLocked()
		return -1
	}
	if _, werr := h.writer.WriteBody(h.file.buf[:n]); werr != nil {
		h.writer.CloseHard()
		h.closeFileLocked()
		return -1
	}
	h.resp.ContentLength -= int64(n)
	if h.resp.ContentLength == 0 {
		_ = h.writer.endQuiet()
		h.closeFileLocked()
		h.finishExchangeLocked()
	}
	return n
}

func (h *Handler) openFileLocked(path string) error {
	h.closeFileLocked()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		_ = f.Close()
		return os.ErrNotExist
	}
	h.file = &largeFile{f: f, size: st.Size()}
	return nil
}

func (h *Handler) closeFileLocked() {
	if h.file == nil {
		return
	}
	h.file.stopTimer()
	if h.file.f != nil {
		_ = h.file.f.Close()
	}
	h.file = nil
}

func (h *Handler) startFileTimerLocked(interval time.Duration) {
	stop := make(chan struct{})
	h.file.stop = stop
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.mu.Lock()
				h.sendFileLocked()
				h.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}
