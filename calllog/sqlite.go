package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	call_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	inputs TEXT NOT NULL,
	outputs TEXT,
	error TEXT,
	error_code TEXT NOT NULL DEFAULT '',
	duration_ms REAL NOT NULL,
	agent_metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_timestamp ON tool_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_tool_timestamp ON tool_calls(tool_name, timestamp);`

const (
	defaultSQLiteDir = ".toolpilot"
	defaultSQLiteDB  = "toolpilot.db"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStoreConfig configures the SQLite call log.
type SQLiteStoreConfig struct {
	// DSN is the database connection string or file path.
	DSN string
}

// SQLiteStore persists call records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultSQLitePath returns ~/.toolpilot/toolpilot.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("calllog: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSQLiteDir, defaultSQLiteDB), nil
}

// NewSQLiteStore opens (or creates) a SQLite call log. Parent directories of
// a plain file path are created.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("calllog: sqlite dsn is required")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("calllog: create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: sqlite open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calllog: sqlite set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calllog: sqlite create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append stores a record.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.CallID) == "" {
		return errors.New("calllog: record call_id is required")
	}

	inputs := rec.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("calllog: marshal inputs: %w", err)
	}
	outputsJSON, err := nullableJSON(rec.Outputs)
	if err != nil {
		return fmt.Errorf("calllog: marshal outputs: %w", err)
	}
	var metadataJSON sql.NullString
	if len(rec.Metadata) > 0 {
		metadataJSON, err = nullableJSON(rec.Metadata)
		if err != nil {
			return fmt.Errorf("calllog: marshal metadata: %w", err)
		}
	}
	var errText sql.NullString
	if rec.Failed() {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO tool_calls
	(call_id, tool_name, timestamp, inputs, outputs, error, error_code, duration_ms, agent_metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID,
		rec.ToolName,
		rec.Timestamp.UTC().Format(timeLayout),
		string(inputsJSON),
		outputsJSON,
		errText,
		rec.ErrorCode,
		rec.DurationMS,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("calllog: sqlite append: %w", err)
	}
	return nil
}

// Get returns a record by call ID.
func (s *SQLiteStore) Get(ctx context.Context, callID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT call_id, tool_name, timestamp, inputs, outputs, error, error_code, duration_ms, agent_metadata
FROM tool_calls
WHERE call_id = ?`, callID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns matching records, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.FailedOnly {
		where = append(where, "(error IS NOT NULL OR error_code != '')")
	}

	query := `SELECT call_id, tool_name, timestamp, inputs, outputs, error, error_code, duration_ms, agent_metadata
FROM tool_calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, call_id DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: sqlite list: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: sqlite list rows: %w", err)
	}
	return records, nil
}

// Prune deletes records selected by policy.
func (s *SQLiteStore) Prune(ctx context.Context, policy PrunePolicy) (int, error) {
	var deleted int64

	if !policy.OlderThan.IsZero() {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM tool_calls WHERE timestamp < ?`,
			policy.OlderThan.UTC().Format(timeLayout),
		)
		if err != nil {
			return 0, fmt.Errorf("calllog: prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if policy.KeepLatest > 0 {
		rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tool_name FROM tool_calls`)
		if err != nil {
			return int(deleted), fmt.Errorf("calllog: prune list tools: %w", err)
		}
		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				_ = rows.Close()
				return int(deleted), fmt.Errorf("calllog: prune scan tool: %w", err)
			}
			names = append(names, name)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return int(deleted), fmt.Errorf("calllog: prune rows err: %w", err)
		}

		for _, name := range names {
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM tool_calls WHERE tool_name = ? AND call_id NOT IN (
					SELECT call_id FROM tool_calls WHERE tool_name = ? ORDER BY timestamp DESC, call_id DESC LIMIT ?
				)`, name, name, policy.KeepLatest,
			)
			if err != nil {
				return int(deleted), fmt.Errorf("calllog: prune by count for %s: %w", name, err)
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
	}

	return int(deleted), nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec          Record
		timestamp    string
		inputsJSON   string
		outputsJSON  sql.NullString
		errText      sql.NullString
		metadataJSON sql.NullString
	)
	err := row.Scan(
		&rec.CallID,
		&rec.ToolName,
		&timestamp,
		&inputsJSON,
		&outputsJSON,
		&errText,
		&rec.ErrorCode,
		&rec.DurationMS,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("calllog: sqlite scan: %w", err)
	}

	ts, err := time.Parse(timeLayout, timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("calllog: parse timestamp %q: %w", timestamp, err)
	}
	rec.Timestamp = ts

	if err := json.Unmarshal([]byte(inputsJSON), &rec.Inputs); err != nil {
		return Record{}, fmt.Errorf("calllog: unmarshal inputs: %w", err)
	}
	if outputsJSON.Valid {
		if err := json.Unmarshal([]byte(outputsJSON.String), &rec.Outputs); err != nil {
			return Record{}, fmt.Errorf("calllog: unmarshal outputs: %w", err)
		}
	}
	if errText.Valid {
		rec.Error = errText.String
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("calllog: unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

func nullableJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

var _ Store = (*SQLiteStore)(nil)
