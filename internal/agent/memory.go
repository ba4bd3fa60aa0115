package agent

import (
	"sort"
	"strings"
)

// Memory is an agent's private key/value state. Values are treated as
// immutable: policies replace a value through MemoryUpdates rather than
// mutating what they read.
type Memory map[string]any

func (m Memory) clone() Memory {
	out := make(Memory, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Memory) merge(updates map[string]any) {
	for k, v := range updates {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
}

// Has reports whether key is set.
func (m Memory) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Keys returns every key with the given prefix, sorted.
func (m Memory) Keys(prefix string) []string {
	var keys []string
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Recall returns the value under key when it holds a T.
func Recall[T any](m Memory, key string) (T, bool) {
	v, ok := m[key].(T)
	return v, ok
}

// RecallPrefix returns every T stored under keys with prefix, ordered by key.
func RecallPrefix[T any](m Memory, prefix string) []T {
	var out []T
	for _, k := range m.Keys(prefix) {
		if v, ok := m[k].(T); ok {
			out = append(out, v)
		}
	}
	return out
}
