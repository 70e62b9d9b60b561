package sendinblue

import "strings"

type headerEntry struct {
	name  string
	value string
}

// HeaderMap holds message headers with case-insensitive names. Setting an
// existing header keeps its position but takes the new casing and value.
type HeaderMap struct {
	order   []string
	entries map[string]headerEntry
}

// NewHeaderMap returns an empty HeaderMap.
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{entries: make(map[string]headerEntry)}
}

// Set stores value under name.
func (h *HeaderMap) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.entries[key]; !ok {
		h.order = append(h.order, key)
	}
	h.entries[key] = headerEntry{name: name, value: value}
}

// Get looks name up regardless of case.
func (h *HeaderMap) Get(name string) (string, bool) {
	e, ok := h.entries[strings.ToLower(name)]
	return e.value, ok
}

// Pop removes name and returns its value.
func (h *HeaderMap) Pop(name string) (string, bool) {
	key := strings.ToLower(name)
	e, ok := h.entries[key]
	if !ok {
		return "", false
	}
	delete(h.entries, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return e.value, true
}

// Len reports the number of headers.
func (h *HeaderMap) Len() int {
	return len(h.order)
}

// Names returns the header names, with their last supplied casing, in
// insertion order.
func (h *HeaderMap) Names() []string {
	out := make([]string, 0, len(h.order))
	for _, k := range h.order {
		out = append(out, h.entries[k].name)
	}
	return out
}

// Flatten converts the map into a plain, case-sensitive map for encoding.
func (h *HeaderMap) Flatten() map[string]string {
	out := make(map[string]string, len(h.order))
	for _, k := range h.order {
		e := h.entries[k]
		out[e.name] = e.value
	}
	return out
}
