// Package store persists session lifecycle events and completed turns.
// The coordinator hands records off here and keeps nothing beyond its
// rolling context window.
package store

import (
	"context"
	"time"
)

// TurnRecord is one completed exchange entry.
type TurnRecord struct {
	SessionID string
	Speaker   string // "user" or "agent"
	Text      string
	Intent    string
	LatencyMS int64
	CreatedAt time.Time
}

// SessionRecord describes one session's lifecycle.
type SessionRecord struct {
	SessionID string
	AgentID   string
	UserID    string
	StartedAt time.Time
	EndedAt   time.Time
	EndReason string
}

// TurnStore is the persistence collaborator consumed by the coordinator.
type TurnStore interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	EndSession(ctx context.Context, sessionID, reason string, endedAt time.Time) error
	AppendTurn(ctx context.Context, rec TurnRecord) error
	Close() error
}

// Noop discards everything. Used in tests and ephemeral deployments.
type Noop struct{}

func (Noop) CreateSession(context.Context, SessionRecord) error          { return nil }
func (Noop) EndSession(context.Context, string, string, time.Time) error { return nil }
func (Noop) AppendTurn(context.Context, TurnRecord) error                { return nil }
func (Noop) Close() error                                                { return nil }
