package portal

import (
	"sort"
	"sync"
)

// Map holds the portal source for each configured account.
type Map struct {
	mu      sync.Mutex
	sources map[string]Source
}

// NewMap creates an empty account Map.
func NewMap() *Map {
	return &Map{
		sources: make(map[string]Source),
	}
}

// Source returns the portal source for the given account.
func (m *Map) Source(account string) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[account]
	return src, ok
}

// Accounts returns every configured account name, sorted.
func (m *Map) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sources))
	for name := range m.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetSource sets the source for an account. This is primarily used for testing.
func (m *Map) SetSource(account string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[account] = src
}
