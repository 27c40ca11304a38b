package ledger

import (
	"fmt"
	"sync"
)

// MemoryLedger is an in-memory Ledger used by dry runs and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]map[string]string)}
}

// Upsert implements Ledger.
func (l *MemoryLedger) Upsert(name string, attributes map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := make(map[string]string, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	l.entries[name] = copied
	return nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(name string) (map[string]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	attrs, ok := l.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return copied, nil
}

// Delete implements Ledger.
func (l *MemoryLedger) Delete(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, name)
	return nil
}

// Snapshot implements Ledger.
func (l *MemoryLedger) Snapshot() (map[string]map[string]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]map[string]string, len(l.entries))
	for name, attrs := range l.entries {
		copied := make(map[string]string, len(attrs))
		for k, v := range attrs {
			copied[k] = v
		}
		out[name] = copied
	}
	return out, nil
}
