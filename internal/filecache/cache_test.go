package filecache

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCache_OpenReadsContents(t *testing.T) {
	path := writeTemp(t, "page.html", []byte("<html>hi</html>"))
	c := New()

	e, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer c.Release(e)

	if !bytes.Equal(e.FileBuf(), []byte("<html>hi</html>")) {
		t.Errorf("Unexpected contents %q", e.FileBuf())
	}
	if e.Size != 15 {
		t.Errorf("Expected size 15, got %d", e.Size)
	}
	if e.ContentType == "" || e.ContentType == "application/octet-stream" {
		t.Errorf("Expected html content type, got %q", e.ContentType)
	}
	if e.Etag == "" {
		t.Error("Expected an etag")
	}
	if _, err := time.Parse(http.TimeFormat, e.LastModified); err != nil {
		t.Errorf("Last-Modified not in HTTP date format: %q", e.LastModified)
	}
}

func TestCache_SecondOpenHitsCache(t *testing.T) {
	path := writeTemp(t, "a.txt", []byte("data"))
	c := New()

	e1, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	e2, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("second Open error: %v", err)
	}
	if e1 != e2 {
		t.Error("Expected the same entry from cache")
	}
	c.Release(e1)
	c.Release(e2)
}

func TestCache_OverLimit(t *testing.T) {
	path := writeTemp(t, "big.bin", bytes.Repeat([]byte{1}, 100))
	c := New()

	if _, err := c.Open(path, &OpenParam{MaxRead: 99, NeedRead: true}); !errors.Is(err, ErrOverLimit) {
		t.Errorf("Expected ErrOverLimit, got %v", err)
	}
	// Exactly at the cap is fine.
	e, err := c.Open(path, &OpenParam{MaxRead: 100, NeedRead: true})
	if err != nil {
		t.Fatalf("Open at cap error: %v", err)
	}
	c.Release(e)
}

func TestCache_MetadataOnly(t *testing.T) {
	path := writeTemp(t, "head.bin", bytes.Repeat([]byte{2}, 64))
	c := New()

	e, err := c.Open(path, &OpenParam{NeedRead: false})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if len(e.FileBuf()) != 0 {
		t.Error("Expected no contents loaded")
	}
	if e.Size != 64 {
		t.Errorf("Expected size 64, got %d", e.Size)
	}
	c.Release(e)

	// A later reader that needs contents gets a reloaded entry.
	e2, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("reload Open error: %v", err)
	}
	if len(e2.FileBuf()) != 64 {
		t.Errorf("Expected contents loaded on reload, got %d bytes", len(e2.FileBuf()))
	}
	c.Release(e2)
}

func TestCache_StaleReload(t *testing.T) {
	path := writeTemp(t, "mut.txt", []byte("one"))
	c := New()

	e1, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	c.Release(e1)

	// Rewrite with different size; mtime granularity alone is unreliable.
	if err := os.WriteFile(path, []byte("two-longer"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	e2, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if !bytes.Equal(e2.FileBuf(), []byte("two-longer")) {
		t.Errorf("Expected reloaded contents, got %q", e2.FileBuf())
	}
	c.Release(e2)
}

func TestCache_MissingFile(t *testing.T) {
	c := New()
	if _, err := c.Open(filepath.Join(t.TempDir(), "nope"), &OpenParam{NeedRead: true}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestEntry_PrependHeader(t *testing.T) {
	path := writeTemp(t, "body.txt", []byte("BODY"))
	c := New()
	e, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer c.Release(e)

	header := []byte("HTTP/1.1 200 OK\r\n\r\n")
	e.PrependHeader(header)
	got := e.HTTPBuf()
	if !bytes.HasPrefix(got, header) || !bytes.HasSuffix(got, []byte("BODY")) {
		t.Errorf("Expected contiguous header+body, got %q", got)
	}
	if len(got) != len(header)+4 {
		t.Errorf("Expected %d bytes, got %d", len(header)+4, len(got))
	}

	e.ClearHeader()
	if len(e.HTTPBuf()) != 4 {
		t.Error("Expected header cleared")
	}
}

func TestEntry_PrependHeaderLargerThanSlot(t *testing.T) {
	path := writeTemp(t, "body.txt", []byte("BODY"))
	c := New()
	e, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer c.Release(e)

	header := bytes.Repeat([]byte{'H'}, headSlot+100)
	e.PrependHeader(header)
	got := e.HTTPBuf()
	if !bytes.HasPrefix(got, header) || !bytes.HasSuffix(got, []byte("BODY")) {
		t.Errorf("Expected oversized header handled, got %d bytes", len(got))
	}
}

func TestCache_Evict(t *testing.T) {
	path := writeTemp(t, "ev.txt", []byte("gone"))
	c := New()

	e1, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	c.Release(e1)
	c.Evict(e1)

	e2, err := c.Open(path, &OpenParam{NeedRead: true})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if e1 == e2 {
		t.Error("Expected a fresh entry after eviction")
	}
	// The evicted entry's bytes remain valid for holders.
	if !bytes.Equal(e1.FileBuf(), []byte("gone")) {
		t.Error("Expected evicted entry bytes to stay valid")
	}
	c.Release(e2)
}
