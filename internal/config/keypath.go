package config

import (
	"fmt"
	"strings"
)

// sections are the top-level keys of the config file.
var sections = map[string]bool{
	"gateway": true,
	"mail":    true,
	"agent":   true,
	"compose": true,
	"session": true,
	"logging": true,
	"hooks":   true,
}

// KeyPath addresses one value in the raw config tree, written dotted on the
// command line: "mail.imapHost", "gateway.auth.token".
type KeyPath []string

// ParseKeyPath splits a dotted key. The first segment must name a config
// section and every segment must be a plain identifier.
func ParseKeyPath(raw string) (KeyPath, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if !isIdent(p) {
			return nil, &ConfigError{Message: fmt.Sprintf("invalid segment %q in config key %q", p, raw)}
		}
	}
	if !sections[parts[0]] {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown config section %q", parts[0])}
	}
	return KeyPath(parts), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_'):
		default:
			return false
		}
	}
	return true
}

func (k KeyPath) String() string {
	return strings.Join(k, ".")
}

// parent walks to the map holding the last segment. With create set, missing
// or scalar intermediates are replaced by empty maps.
func (k KeyPath) parent(root map[string]any, create bool) (map[string]any, bool) {
	cur := root
	for _, seg := range k[:len(k)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	return cur, true
}

// Get returns the value at k.
func (k KeyPath) Get(root map[string]any) (any, bool) {
	m, ok := k.parent(root, false)
	if !ok {
		return nil, false
	}
	v, ok := m[k[len(k)-1]]
	return v, ok
}

// Set stores v at k, creating intermediate maps.
func (k KeyPath) Set(root map[string]any, v any) {
	m, _ := k.parent(root, true)
	m[k[len(k)-1]] = v
}

// Unset removes the value at k and reports whether there was one.
func (k KeyPath) Unset(root map[string]any) bool {
	m, ok := k.parent(root, false)
	if !ok {
		return false
	}
	last := k[len(k)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
