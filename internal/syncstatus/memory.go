package syncstatus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps statuses in process. Suitable for a single instance.
type MemoryStore struct {
	mu       sync.Mutex
	statuses map[Key]*Status
	now      func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[Key]*Status),
		now:      time.Now,
	}
}

func (m *MemoryStore) Begin(ctx context.Context, key Key, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()
	m.statuses[key] = &Status{
		UserID:    key.UserID,
		AccountID: key.AccountID,
		RunID:     runID,
		Phase:     PhaseSyncing,
		StartedAt: ts,
		UpdatedAt: ts,
	}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, key Key, runID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[key]
	if !ok || s.RunID != runID {
		return nil
	}

	s.Fetched += p.Fetched
	s.Synced += p.Synced
	s.Skipped += p.Skipped
	s.Errored += p.Errored
	if p.Folder != "" {
		s.Folder = p.Folder
	}
	if p.Page > 0 {
		s.Page = p.Page
	}
	if p.EstimatedTotal > 0 {
		s.EstimatedTotal = p.EstimatedTotal
	}
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Complete(ctx context.Context, key Key, runID string) error {
	return m.finish(key, runID, PhaseComplete, "")
}

func (m *MemoryStore) Fail(ctx context.Context, key Key, runID string, reason string) error {
	return m.finish(key, runID, PhaseError, reason)
}

func (m *MemoryStore) finish(key Key, runID string, phase Phase, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[key]
	if !ok || s.RunID != runID {
		return nil
	}

	s.Phase = phase
	s.IsComplete = true
	s.Error = reason
	s.UpdatedAt = m.now()
	return nil
}

// Get returns a copy of the status for key
func (m *MemoryStore) Get(ctx context.Context, key Key) (*Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[key]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

// ListByUser returns copies of all statuses of a user ordered by account id
func (m *MemoryStore) ListByUser(ctx context.Context, userID int64) ([]*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Status
	for key, s := range m.statuses {
		if key.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}
