// Package httpmsg holds the HTTP message model shared by the parsers and
// the per-connection handler: requests, responses and their headers.
package httpmsg

import "strings"

// Headers represents HTTP headers with case-insensitive, last-wins access.
type Headers struct {
	kv    [][2]string
	index map[string]int
}

// Set sets a header value, replacing any existing value.
// Keys are normalized to lowercase.
func (h *Headers) Set(key, value string) {
	lowerKey := strings.ToLower(key)
	// Lazily build index on first set if nil
	if h.index == nil {
		h.index = make(map[string]int, len(h.kv)+2)
		for i := range h.kv {
			h.index[h.kv[i][0]] = i
		}
	}
	if idx, ok := h.index[lowerKey]; ok {
		h.kv[idx][1] = value
		return
	}
	h.index[lowerKey] = len(h.kv)
	h.kv = append(h.kv, [2]string{lowerKey, value})
}

// Get retrieves a header value by key, case-insensitively.
func (h *Headers) Get(key string) string {
	lowerKey := strings.ToLower(key)
	if h.index != nil {
		if idx, ok := h.index[lowerKey]; ok {
			return h.kv[idx][1]
		}
		return ""
	}
	for i := range h.kv {
		if h.kv[i][0] == lowerKey {
			return h.kv[i][1]
		}
	}
	return ""
}

// Has checks if a header exists.
func (h *Headers) Has(key string) bool {
	lowerKey := strings.ToLower(key)
	if h.index != nil {
		_, ok := h.index[lowerKey]
		return ok
	}
	for i := range h.kv {
		if h.kv[i][0] == lowerKey {
			return true
		}
	}
	return false
}

// Del removes a header by key.
func (h *Headers) Del(key string) {
	lowerKey := strings.ToLower(key)
	for i := range h.kv {
		if h.kv[i][0] == lowerKey {
			h.kv = append(h.kv[:i], h.kv[i+1:]...)
			break
		}
	}
	if h.index != nil {
		delete(h.index, lowerKey)
		for i := range h.kv {
			h.index[h.kv[i][0]] = i
		}
	}
}

// All returns all headers as a slice of key-value pairs in insertion order.
func (h *Headers) All() [][2]string {
	return h.kv
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.kv)
}

// Reset clears all headers, retaining allocated capacity.
func (h *Headers) Reset() {
	h.kv = h.kv[:0]
	for k := range h.index {
		delete(h.index, k)
	}
}
