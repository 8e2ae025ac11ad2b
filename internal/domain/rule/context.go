package rule

import (
	"encoding/json"
	"strings"
)

// Context carries the values a rule expression can read. Values holds the
// evaluation subject (nested maps reached via dot paths); Lists is the
// registry of named sets for membership terms.
type Context struct {
	Values map[string]any
	Lists  map[string][]string
}

// NewContext wraps a value map with an empty list registry.
func NewContext(values map[string]any) Context {
	return Context{Values: values}
}

// WithList returns a copy of the context with a named list registered.
func (c Context) WithList(name string, items []string) Context {
	lists := make(map[string][]string, len(c.Lists)+1)
	for k, v := range c.Lists {
		lists[k] = v
	}
	lists[name] = items
	c.Lists = lists
	return c
}

// List returns the named list, or nil when unregistered.
func (c Context) List(name string) []string {
	return c.Lists[name]
}

// Resolve walks a dot-separated path into the value map.
// A missing segment resolves to (nil, false).
func (c Context) Resolve(path string) (any, bool) {
	var cur any = c.Values
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Number resolves a path to a numeric value. JSON-decoded payloads yield
// float64 or json.Number; typed contexts may carry Go integers.
func (c Context) Number(path string) (float64, bool) {
	v, ok := c.Resolve(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// String resolves a path to a string value.
func (c Context) String(path string) (string, bool) {
	v, ok := c.Resolve(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Fingerprint returns a stable serialization of the context for use as a
// cache key component. It covers every field an expression can read, so a
// cache hit is equivalent to a fresh evaluation.
func (c Context) Fingerprint() string {
	var b strings.Builder
	vals, _ := json.Marshal(c.Values)
	b.Write(vals)
	if len(c.Lists) > 0 {
		lists, _ := json.Marshal(c.Lists)
		b.WriteByte('|')
		b.Write(lists)
	}
	return b.String()
}
