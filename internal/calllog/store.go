package calllog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// dialect captures what differs between the SQLite and PostgreSQL stores.
type dialect struct {
	name          string
	migrationsDir string
	numbered      bool // $1 placeholders instead of ?
	appliedAtType string
	seenFalse     string
	seenTrue      string
}

var (
	sqliteDialect = dialect{
		name:          "sqlite",
		migrationsDir: "migrations/sqlite",
		appliedAtType: "DATETIME DEFAULT (datetime('now'))",
		seenFalse:     "0",
		seenTrue:      "1",
	}
	postgresDialect = dialect{
		name:          "postgres",
		migrationsDir: "migrations/postgres",
		numbered:      true,
		appliedAtType: "TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		seenFalse:     "FALSE",
		seenTrue:      "TRUE",
	}
)

// bind rewrites ? placeholders for dialects that number them.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// Add inserts a call log entry.
func (s *sqlStore) Add(ctx context.Context, e *Entry) error {
	query := `INSERT INTO call_logs (call_id, correlation_id, direction, status,
		 remote_user, remote_address, started_at, duration_ms, record_file, seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		e.CallID, e.CorrelationID, directionName(e.Direction), e.Status.String(),
		e.RemoteUser, e.RemoteAddress, e.StartedAt.UTC(), e.Duration.Milliseconds(),
		e.RecordFile, e.Seen,
	}

	if s.d.numbered {
		if err := s.db.QueryRowContext(ctx, s.d.bind(query)+" RETURNING id", args...).Scan(&e.ID); err != nil {
			return fmt.Errorf("calllog: inserting entry: %w", err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("calllog: inserting entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("calllog: getting last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// List returns the newest entries first.
func (s *sqlStore) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, call_id, correlation_id, direction, status, remote_user,
		 remote_address, started_at, duration_ms, record_file, seen
		 FROM call_logs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: listing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			direction  string
			status     string
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.CorrelationID, &direction, &status,
			&e.RemoteUser, &e.RemoteAddress, &e.StartedAt, &durationMs, &e.RecordFile, &e.Seen); err != nil {
			return nil, fmt.Errorf("calllog: scanning entry: %w", err)
		}
		e.Direction = parseDirection(direction)
		e.Status = engine.ParseCallStatus(status)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: iterating entries: %w", err)
	}
	return entries, nil
}

// MissedCount counts unseen inbound missed calls.
func (s *sqlStore) MissedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.d.bind(
		`SELECT COUNT(*) FROM call_logs WHERE direction = ? AND status = ? AND seen = `+s.d.seenFalse),
		"inbound", engine.StatusMissed.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("calllog: counting missed calls: %w", err)
	}
	return n, nil
}

// MarkMissedSeen marks all missed calls seen.
func (s *sqlStore) MarkMissedSeen(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.d.bind(
		`UPDATE call_logs SET seen = `+s.d.seenTrue+` WHERE status = ?`),
		engine.StatusMissed.String(),
	)
	if err != nil {
		return fmt.Errorf("calllog: marking missed calls seen: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files for the dialect in order.
func (s *sqlStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at ` + s.d.appliedAtType + `
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, s.d.migrationsDir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow(s.d.bind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(s.d.migrationsDir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec(s.d.bind("INSERT INTO schema_migrations (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "store", s.d.name, "version", version)
	}

	return nil
}
