// Package syncstatus keeps the live progress of sync runs for polling clients.
// Status is volatile: losing it on restart is acceptable and readers treat a
// missing entry as idle.
package syncstatus

import (
	"context"
	"time"
)

// Phase of a sync run
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSyncing  Phase = "syncing"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// Key identifies the status of one account
type Key struct {
	UserID    int64
	AccountID int64
}

// Status progress of the latest run for a key
type Status struct {
	UserID         int64     `json:"userId"`
	AccountID      int64     `json:"accountId"`
	RunID          string    `json:"runId,omitempty"`
	Phase          Phase     `json:"phase"`
	Folder         string    `json:"folder,omitempty"`
	Page           int       `json:"page"`
	EstimatedTotal int       `json:"estimatedTotal"`
	Fetched        int       `json:"fetched"`
	Synced         int       `json:"synced"`
	Skipped        int       `json:"skipped"`
	Errored        int       `json:"errored"`
	IsComplete     bool      `json:"isComplete"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Idle is the payload for a key that has no status: zeroed counters, not complete
func Idle(key Key) *Status {
	return &Status{
		UserID:    key.UserID,
		AccountID: key.AccountID,
		Phase:     PhaseIdle,
	}
}

// IsIdle reports whether s no longer describes a live run: either nothing ever ran,
// or the run finished more than staleAfter ago
func (s *Status) IsIdle(now time.Time, staleAfter time.Duration) bool {
	if s == nil || s.Phase == PhaseIdle {
		return true
	}
	if s.Phase == PhaseSyncing {
		return false
	}
	return now.Sub(s.UpdatedAt) > staleAfter
}

// Progress is a delta applied to a running status. Counters accumulate;
// Folder, Page and EstimatedTotal replace the current value when set.
type Progress struct {
	Folder         string
	Page           int
	EstimatedTotal int
	Fetched        int
	Synced         int
	Skipped        int
	Errored        int
}

// Store holds one status per key. Begin starts a new run and overwrites whatever
// the key held; updates carrying another run id are dropped. Implementations must
// be safe for concurrent use.
type Store interface {
	Begin(ctx context.Context, key Key, runID string) error
	Update(ctx context.Context, key Key, runID string, p Progress) error
	Complete(ctx context.Context, key Key, runID string) error
	Fail(ctx context.Context, key Key, runID string, reason string) error
	Get(ctx context.Context, key Key) (*Status, bool, error)
	ListByUser(ctx context.Context, userID int64) ([]*Status, error)
}
