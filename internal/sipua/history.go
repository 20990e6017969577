package sipua

import (
	"context"
	"fmt"

	"github.com/tiensd92/voip-linphone-sdk/internal/calllog"
	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// logCall persists a finished call.
func (u *UA) logCall(c *call) {
	u.mu.Lock()
	entry := &calllog.Entry{
		CallID:        c.id,
		CorrelationID: c.correlationID,
		Direction:     c.dir,
		Status:        c.status,
		RemoteUser:    c.remoteUser,
		RemoteAddress: c.remoteAddress,
		StartedAt:     c.startedAt,
		Duration:      c.duration,
		RecordFile:    c.recordFile,
	}
	if c.dir == engine.Incoming && c.status == engine.StatusMissed {
		u.missed++
	}
	u.mu.Unlock()

	if u.opts.CallLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := u.opts.CallLog.Add(ctx, entry); err != nil {
		u.logger.Error("failed to write call log", "call_id", c.id, "error", err)
	}
}

// MissedCallsCount returns the number of unseen missed calls.
func (u *UA) MissedCallsCount() int {
	if u.opts.CallLog == nil {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.missed
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	n, err := u.opts.CallLog.MissedCount(ctx)
	if err != nil {
		u.logger.Error("failed to count missed calls", "error", err)
		return 0
	}
	return n
}

// ResetMissedCallsCount marks every missed call seen.
func (u *UA) ResetMissedCallsCount() error {
	u.mu.Lock()
	u.missed = 0
	u.mu.Unlock()

	if u.opts.CallLog == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := u.opts.CallLog.MarkMissedSeen(ctx); err != nil {
		return fmt.Errorf("sipua: %w", err)
	}
	return nil
}

// CallLogs returns up to limit finished calls, newest first.
func (u *UA) CallLogs(limit int) ([]engine.CallLog, error) {
	if u.opts.CallLog == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	entries, err := u.opts.CallLog.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("sipua: %w", err)
	}
	logs := make([]engine.CallLog, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, e.ToEngine())
	}
	return logs, nil
}
