// Package metadata implements the ordered multimap of document metadata
// described in the core's data model: string keys to sets of string
// values, with stable (key, value)-sorted iteration and an immutable
// view for safe sharing across a push batch's lifetime.
package metadata

import "sort"

// Entry is a single (key, value) pair produced by iteration.
type Entry struct {
	Key   string
	Value string
}

// Metadata is an ordered multimap from key to a set of values. The zero
// value is not usable; construct with New.
type Metadata struct {
	values map[string]map[string]struct{}
}

// New returns an empty Metadata.
func New() *Metadata {
	return &Metadata{values: make(map[string]map[string]struct{})}
}

// Set replaces all values for key with the given values.
func (m *Metadata) Set(key string, values ...string) {
	if len(values) == 0 {
		delete(m.values, key)
		return
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	m.values[key] = set
}

// Add appends a value to key's value set.
func (m *Metadata) Add(key, value string) {
	set, ok := m.values[key]
	if !ok {
		set = make(map[string]struct{})
		m.values[key] = set
	}
	set[value] = struct{}{}
}

// Values returns a copy of the value set for key; nil if key is absent or
// its value set is empty (an empty value set is equivalent to no entry).
func (m *Metadata) Values(key string) []string {
	set, ok := m.values[key]
	if !ok || len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Keys returns the sorted set of non-empty keys.
func (m *Metadata) Keys() []string {
	out := make([]string, 0, len(m.values))
	for k, set := range m.values {
		if len(set) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Entries returns every (key, value) pair sorted ascending by (key,
// value), with no duplicates.
func (m *Metadata) Entries() []Entry {
	entries := make([]Entry, 0)
	for key, set := range m.values {
		for v := range set {
			entries = append(entries, Entry{Key: key, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Value < entries[j].Value
	})
	return entries
}

// Len returns the number of (key, value) pairs.
func (m *Metadata) Len() int {
	n := 0
	for _, set := range m.values {
		n += len(set)
	}
	return n
}

// Equal reports whether two Metadata instances hold identical entries.
func (m *Metadata) Equal(other *Metadata) bool {
	if other == nil {
		return m.Len() == 0
	}
	a, b := m.Entries(), other.Entries()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// View is an immutable snapshot of a Metadata, safe to share across
// goroutines once a feed batch has been serialized.
type View struct {
	entries []Entry
}

// Freeze captures an immutable view of m.
func (m *Metadata) Freeze() *View {
	return &View{entries: m.Entries()}
}

// Entries returns the frozen (key, value) pairs.
func (v *View) Entries() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}
