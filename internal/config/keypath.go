package config

import (
	"strings"
)

// KeyPath addresses a value in the raw YAML config, e.g. "llm.model".
type KeyPath []string

// ParseKeyPath splits a dotted key. Segments may hold letters, digits,
// '_' and '-'.
func ParseKeyPath(raw string) (KeyPath, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config key " + raw + " has an empty segment"}
		}
		if strings.IndexFunc(p, invalidKeyRune) >= 0 {
			return nil, &ConfigError{Message: "config key segment " + p + " has invalid characters"}
		}
	}
	return KeyPath(parts), nil
}

func invalidKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		return false
	}
	return true
}

func (k KeyPath) String() string { return strings.Join(k, ".") }

// Get returns the value at k, failing when a segment is missing or an
// intermediate value is not a map.
func (k KeyPath) Get(root map[string]any) (any, bool) {
	var cur any = root
	for _, seg := range k {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at k, replacing scalars in the way with maps.
func (k KeyPath) Set(root map[string]any, v any) {
	m := root
	for _, seg := range k[:len(k)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[k[len(k)-1]] = v
}

// Unset removes the value at k and any maps left empty by the removal.
// It reports whether there was a value.
func (k KeyPath) Unset(root map[string]any) bool {
	parents := make([]map[string]any, 0, len(k))
	m := root
	for _, seg := range k[:len(k)-1] {
		parents = append(parents, m)
		next, ok := m[seg].(map[string]any)
		if !ok {
			return false
		}
		m = next
	}
	last := k[len(k)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)

	for i := len(parents) - 1; i >= 0 && len(m) == 0; i-- {
		delete(parents[i], k[i])
		m = parents[i]
	}
	return true
}
