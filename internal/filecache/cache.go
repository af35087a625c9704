// Package filecache provides a sharded, reference-counted cache of static
// file contents and metadata (etag, last-modified, content type). Each entry
// reserves space in front of the file bytes so a serialized HTTP header can
// be prepended and the whole response shipped as one contiguous buffer.
package filecache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOverLimit is returned when the file is larger than OpenParam.MaxRead;
// callers fall back to streaming the file instead of caching it.
var ErrOverLimit = errors.New("filecache: file exceeds read limit")

// headSlot is the space reserved in front of the file bytes for a prepended
// HTTP header.
const headSlot = 512

const shardCount = 16

// OpenParam controls how Open loads a file.
type OpenParam struct {
	// MaxRead caps how many bytes may be loaded into memory; 0 means no cap.
	MaxRead int64
	// NeedRead loads the file contents; when false only metadata is read.
	NeedRead bool
}

// Entry is a cached file. Entries are shared: holders take a reference via
// Open and drop it via Release; the bytes stay valid for the longest holder.
type Entry struct {
	path string
	ref  atomic.Int32

	// buf holds headSlot reserved bytes followed by the file contents.
	buf     []byte
	headLen int
	// big holds header+body when the header outgrew the reserved slot.
	big []byte

	Size         int64
	ModTime      time.Time
	ContentType  string
	Etag         string
	LastModified string
}

// FileBuf returns the cached file bytes (empty when opened without NeedRead).
func (e *Entry) FileBuf() []byte {
	return e.buf[headSlot:]
}

// PrependHeader places header immediately in front of the file bytes so
// HTTPBuf returns header and body as one slice. Headers larger than the
// reserved slot fall back to a combined copy.
func (e *Entry) PrependHeader(header []byte) {
	if len(header) <= headSlot {
		copy(e.buf[headSlot-len(header):], header)
		e.headLen = len(header)
		e.big = nil
		return
	}
	e.big = make([]byte, 0, len(header)+len(e.buf)-headSlot)
	e.big = append(e.big, header...)
	e.big = append(e.big, e.buf[headSlot:]...)
	e.headLen = len(header)
}

// HTTPBuf returns the prepended header plus file bytes as a single slice.
func (e *Entry) HTTPBuf() []byte {
	if e.big != nil {
		return e.big
	}
	return e.buf[headSlot-e.headLen:]
}

// ClearHeader discards a previously prepended header.
func (e *Entry) ClearHeader() {
	e.headLen = 0
	e.big = nil
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Cache is a sharded file cache keyed by file path.
type Cache struct {
	shards [shardCount]shard
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*Entry)
	}
	return c
}

func (c *Cache) shardFor(path string) *shard {
	h := fnv.New32a()
	h.Write([]byte(path))
	return &c.shards[h.Sum32()%shardCount]
}

// Open returns a cached entry for path, loading or refreshing it as needed,
// and takes a reference that must be dropped with Release.
func (c *Cache) Open(path string, p *OpenParam) (*Entry, error) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return nil, fmt.Errorf("filecache: stat %s: %w", path, os.ErrNotExist)
	}
	if p.MaxRead > 0 && st.Size() > p.MaxRead {
		return nil, ErrOverLimit
	}

	s := c.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[path]
	if e != nil && (e.Size != st.Size() || !e.ModTime.Equal(st.ModTime())) {
		// Stale: the file changed on disk since it was cached.
		delete(s.entries, path)
		e = nil
	}
	if e != nil && p.NeedRead && len(e.buf) == headSlot && st.Size() > 0 {
		// Cached metadata-only entry, but the caller wants contents.
		delete(s.entries, path)
		e = nil
	}
	if e == nil {
		e, err = loadEntry(path, st, p.NeedRead)
		if err != nil {
			return nil, err
		}
		s.entries[path] = e
	}
	e.ref.Add(1)
	return e, nil
}

// Release drops a reference taken by Open.
func (c *Cache) Release(e *Entry) {
	if e == nil {
		return
	}
	e.ref.Add(-1)
}

// Evict removes the entry from the cache. Existing holders keep their bytes;
// the next Open reloads from disk.
func (c *Cache) Evict(e *Entry) {
	if e == nil {
		return
	}
	s := c.shardFor(e.path)
	s.mu.Lock()
	if cur, ok := s.entries[e.path]; ok && cur == e {
		delete(s.entries, e.path)
	}
	s.mu.Unlock()
}

func loadEntry(path string, st os.FileInfo, needRead bool) (*Entry, error) {
	e := &Entry{
		path:         path,
		Size:         st.Size(),
		ModTime:      st.ModTime(),
		Etag:         fmt.Sprintf("%x-%x", st.Size(), st.ModTime().Unix()),
		LastModified: st.ModTime().UTC().Format(http.TimeFormat),
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		e.ContentType = ct
	} else {
		e.ContentType = "application/octet-stream"
	}
	if !needRead {
		e.buf = make([]byte, headSlot)
		return e, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filecache: read %s: %w", path, err)
	}
	e.buf = make([]byte, headSlot+len(data))
	copy(e.buf[headSlot:], data)
	return e, nil
}
