package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State accumulates stage outputs. Each key is written exactly once and
// insertion order is kept.
type State struct {
	values map[string]string
	order  []string
}

func newState() *State {
	return &State{values: make(map[string]string)}
}

func (s *State) set(key, value string) error {
	if _, ok := s.values[key]; ok {
		return fmt.Errorf("pipeline state key %q already set", key)
	}
	s.values[key] = value
	s.order = append(s.order, key)
	return nil
}

func (s *State) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the keys in the order they were written.
func (s *State) Keys() []string {
	return append([]string(nil), s.order...)
}

func (s *State) Len() int { return len(s.order) }

// Map returns a copy of the outputs.
func (s *State) Map() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the state as an object whose keys follow write order.
func (s *State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
