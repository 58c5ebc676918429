package models

import "time"

// Decision per-sender screening choice
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Valid reports whether d is allow or deny
func (d Decision) Valid() bool {
	return d == DecisionAllow || d == DecisionDeny
}

// ScreeningDecision at most one row per (user, sender)
type ScreeningDecision struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	Sender    string    `db:"sender" json:"sender"`
	Decision  Decision  `db:"decision" json:"decision"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
