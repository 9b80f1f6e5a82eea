package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-process store. It backs the "memory" driver (useful for
// trying the watcher without a database file; tracked state is lost on
// restart) and doubles as the deterministic fake in tests.
type Memory struct {
	mu         sync.RWMutex
	alerts     map[int]PersistedAlert
	recipients []Recipient
}

func NewMemory() *Memory {
	return &Memory{alerts: map[int]PersistedAlert{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) AlertsByIDs(ctx context.Context, ids []int) ([]PersistedAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PersistedAlert
	for _, id := range ids {
		if rec, ok := m.alerts[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) InsertAlert(ctx context.Context, rec PersistedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[rec.ID]; ok {
		return fmt.Errorf("insert alert %d: %w", rec.ID, ErrAlertExists)
	}
	m.alerts[rec.ID] = rec
	return nil
}

func (m *Memory) UpdateAlert(ctx context.Context, rec PersistedAlert, addPublished int) error {
	if addPublished < 0 {
		addPublished = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.alerts[rec.ID]
	if !ok {
		return fmt.Errorf("update alert %d: no such row", rec.ID)
	}
	rec.PublishedTo = old.PublishedTo + addPublished
	m.alerts[rec.ID] = rec
	return nil
}

func (m *Memory) SubscribedRecipients(ctx context.Context) ([]Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Recipient
	for _, r := range m.recipients {
		if r.HasAlerts {
			out = append(out, r)
		}
	}
	return out, nil
}

// SetRecipients replaces the recipient set. The registry side owns recipient
// rows; for the memory driver this is the seeding hook.
func (m *Memory) SetRecipients(rs []Recipient) {
	m.mu.Lock()
	m.recipients = append([]Recipient(nil), rs...)
	m.mu.Unlock()
}

// Alert returns the persisted row for id, if any. Test helper.
func (m *Memory) Alert(id int) (PersistedAlert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.alerts[id]
	return rec, ok
}
