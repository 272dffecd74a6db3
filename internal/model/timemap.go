package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
)

// TimeMap is an ordered map keyed by an exact FixedPoint time. Entries are
// never removed; a closed cohort is zeroed in place so its key still reports
// that a position once existed there.
//
// The zero value is an empty map ready to use. TimeMap is not safe for
// concurrent use.
type TimeMap[V any] struct {
	keys   []fixedpoint.FixedPoint
	values map[string]V
}

func timeKey(t fixedpoint.FixedPoint) string {
	return t.String()
}

// Get returns the value at t or the zero value.
func (m *TimeMap[V]) Get(t fixedpoint.FixedPoint) V {
	v, _ := m.Lookup(t)
	return v
}

// Lookup returns the value at t and whether the key exists.
func (m *TimeMap[V]) Lookup(t fixedpoint.FixedPoint) (V, bool) {
	v, ok := m.values[timeKey(t)]
	return v, ok
}

// Has reports whether t has ever been written.
func (m *TimeMap[V]) Has(t fixedpoint.FixedPoint) bool {
	_, ok := m.values[timeKey(t)]
	return ok
}

// Set stores v at t, inserting the key in time order when it is new.
func (m *TimeMap[V]) Set(t fixedpoint.FixedPoint, v V) {
	if m.values == nil {
		m.values = make(map[string]V)
	}
	k := timeKey(t)
	if _, ok := m.values[k]; !ok {
		i := sort.Search(len(m.keys), func(i int) bool { return !m.keys[i].Lt(t) })
		m.keys = append(m.keys, fixedpoint.Zero)
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = t
	}
	m.values[k] = v
}

// Len is the number of keys ever written.
func (m *TimeMap[V]) Len() int { return len(m.keys) }

// Keys returns the keys in ascending time order.
func (m *TimeMap[V]) Keys() []fixedpoint.FixedPoint {
	out := make([]fixedpoint.FixedPoint, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for every entry in ascending time order until fn returns
// false.
func (m *TimeMap[V]) Range(fn func(t fixedpoint.FixedPoint, v V) bool) {
	for _, t := range m.keys {
		if !fn(t, m.values[timeKey(t)]) {
			return
		}
	}
}

// Clone copies the map. Values are copied by assignment.
func (m *TimeMap[V]) Clone() TimeMap[V] {
	out := TimeMap[V]{keys: m.Keys()}
	if m.values != nil {
		out.values = make(map[string]V, len(m.values))
		for k, v := range m.values {
			out.values[k] = v
		}
	}
	return out
}

type timeEntry[V any] struct {
	Time  fixedpoint.FixedPoint `json:"time"`
	Value V                     `json:"value"`
}

// MarshalJSON encodes the map as a time-ordered array of entries.
func (m TimeMap[V]) MarshalJSON() ([]byte, error) {
	entries := make([]timeEntry[V], 0, len(m.keys))
	for _, t := range m.keys {
		entries = append(entries, timeEntry[V]{Time: t, Value: m.values[timeKey(t)]})
	}
	return json.Marshal(entries)
}

func (m *TimeMap[V]) UnmarshalJSON(b []byte) error {
	var entries []timeEntry[V]
	if err := json.Unmarshal(b, &entries); err != nil {
		return fmt.Errorf("model: decode time map: %w", err)
	}
	*m = TimeMap[V]{}
	for _, e := range entries {
		if !e.Time.IsFinite() {
			return fmt.Errorf("model: decode time map: non-finite key %s", e.Time)
		}
		m.Set(e.Time, e.Value)
	}
	return nil
}
