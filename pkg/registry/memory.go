package registry

import (
	"sort"
	"sync"

	"github.com/protocore/governor/pkg/protocol"
)

// Memory is a minimal in-memory Registry used by tests and examples. It is
// not a deliverable persistence layer — real Registry storage and transport
// are out of scope here.
type Memory struct {
	mu         sync.RWMutex
	protocols  map[string]protocol.Protocol
	active     map[string]bool
	violations []ViolationRecord
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		protocols: make(map[string]protocol.Protocol),
		active:    make(map[string]bool),
	}
}

// Put inserts or replaces a protocol.
func (m *Memory) Put(p protocol.Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocols[p.ID] = p
}

// Activate marks a protocol id as currently enforced.
func (m *Memory) Activate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = true
}

// Deactivate unmarks a protocol id.
func (m *Memory) Deactivate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

func (m *Memory) GetProtocol(id string) (*protocol.Protocol, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.protocols[id]
	if !ok {
		return nil, false
	}
	cp := p
	return &cp, true
}

func (m *Memory) GetActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) GetActiveProtocols() []protocol.Protocol {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.Protocol, 0, len(m.active))
	for id := range m.active {
		if p, ok := m.protocols[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *Memory) RecordViolation(v ViolationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, v)
	return nil
}

func (m *Memory) GetViolationCount(filter ViolationFilter) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, v := range m.violations {
		if filter.ProtocolID != "" && v.ProtocolID != filter.ProtocolID {
			continue
		}
		if filter.WorkerID != "" && v.WorkerID != filter.WorkerID {
			continue
		}
		if filter.Severity != "" && v.Severity != filter.Severity {
			continue
		}
		count++
	}
	return count
}
