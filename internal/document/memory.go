package document

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Host holding blocks in insertion order. It backs
// tests and dry runs: the engine sees exactly what a browser page would
// expose through the same interface.
type Memory struct {
	mu      sync.Mutex
	order   []Handle
	text    map[Handle]string
	states  map[Handle]State
	outputs map[Handle]string
	history map[Handle][]State
	fail    error
}

// NewMemory creates an empty in-memory document.
func NewMemory() *Memory {
	return &Memory{
		text:    make(map[Handle]string),
		states:  make(map[Handle]State),
		outputs: make(map[Handle]string),
		history: make(map[Handle][]State),
	}
}

// Put inserts h at the end of the document or replaces its text.
func (m *Memory) Put(h Handle, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.text[h]; !ok {
		m.order = append(m.order, h)
	}
	m.text[h] = text
}

// Remove deletes h from the document.
func (m *Memory) Remove(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.text, h)
	for i, o := range m.order {
		if o == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// FailWith makes every subsequent call return err until called with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// State returns the current visual state of h.
func (m *Memory) State(h Handle) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[h]
}

// States returns every state ever applied to h, in order.
func (m *Memory) States(h Handle) []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history[h]...)
}

// Output returns the rendered output fragment attached to h.
func (m *Memory) Output(h Handle) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[h]
}

func (m *Memory) Candidates(_ context.Context) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([]Candidate, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, Candidate{Handle: h, Text: m.text[h]})
	}
	return out, nil
}

func (m *Memory) Text(_ context.Context, h Handle) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", false, m.fail
	}
	t, ok := m.text[h]
	return t, ok, nil
}

func (m *Memory) SetState(_ context.Context, h Handle, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.text[h]; !ok {
		return fmt.Errorf("document: unknown handle %q", h)
	}
	m.states[h] = s
	m.history[h] = append(m.history[h], s)
	return nil
}

func (m *Memory) RenderOutput(_ context.Context, h Handle, fragment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if fragment == "" {
		delete(m.outputs, h)
		return nil
	}
	m.outputs[h] = fragment
	return nil
}
