// Package calllog persists the engine's call history.
package calllog

import (
	"context"
	"strings"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// Entry is one finished call.
type Entry struct {
	ID            int64
	CallID        string
	CorrelationID string
	Direction     engine.Direction
	Status        engine.CallStatus
	RemoteUser    string
	RemoteAddress string
	StartedAt     time.Time
	Duration      time.Duration
	RecordFile    string
	Seen          bool
}

// Store defines operations on the call log.
type Store interface {
	Add(ctx context.Context, e *Entry) error
	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)
	// MissedCount counts inbound missed calls not yet marked seen.
	MissedCount(ctx context.Context) (int, error)
	// MarkMissedSeen marks every missed call seen.
	MarkMissedSeen(ctx context.Context) error
	Close() error
}

// Open selects a store from dsn: postgres:// or postgresql:// URLs open
// PostgreSQL, anything else opens SQLite under dataDir.
func Open(dsn, dataDir string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(dataDir)
}

// ToEngine converts an entry to the engine call log type.
func (e Entry) ToEngine() engine.CallLog {
	return engine.CallLog{
		CallID:        e.CallID,
		CorrelationID: e.CorrelationID,
		Dir:           e.Direction,
		Status:        e.Status,
		RemoteUser:    e.RemoteUser,
		RemoteAddress: e.RemoteAddress,
		StartedAt:     e.StartedAt,
		Duration:      e.Duration,
		RecordFile:    e.RecordFile,
	}
}

func directionName(d engine.Direction) string {
	if d == engine.Incoming {
		return "inbound"
	}
	return "outbound"
}

func parseDirection(s string) engine.Direction {
	if s == "inbound" {
		return engine.Incoming
	}
	return engine.Outgoing
}
