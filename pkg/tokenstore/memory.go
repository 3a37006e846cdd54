package tokenstore

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
)

// Memory keeps records in a map. Records are lost when the process exits.
type Memory struct {
	mu      sync.RWMutex
	records map[string]authmgr.Record
}

var _ authmgr.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]authmgr.Record)}
}

func (m *Memory) Load(_ context.Context, projectKey string) (authmgr.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[projectKey], nil
}

func (m *Memory) Save(_ context.Context, projectKey string, rec authmgr.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[projectKey] = rec
	return nil
}

func (m *Memory) Clear(_ context.Context, projectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, projectKey)
	return nil
}

// Projects returns the keys that currently have a record, in no
// particular order.
func (m *Memory) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	return keys
}
