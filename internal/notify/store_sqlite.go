package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Fixed width so that lexical order on the TEXT column equals time order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteMemoryPath = ":memory:"

// modernc.org/sqlite applies connection pragmas through repeated _pragma parameters.
const sqliteDSNParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

var sqliteMigrations = []string{
	// 1: notifications
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		task_id    TEXT,
		type       TEXT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '{}',
		is_read    INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id);`,
	// 2: partial index for unread counters
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id) WHERE is_read = 0;`,
}

// SQLiteStore is a Store backed by a local SQLite file (modernc.org/sqlite, no cgo).
// It owns its *sql.DB; Close closes it.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies pending migrations.
// The file is created with 0600 permissions and its parent directory with 0700.
// path ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("notify: empty sqlite path")
	}

	if path != sqliteMemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	db, err := sql.Open("sqlite", path+sqliteDSNParams)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; also keeps a ":memory:" database alive on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(sqliteMigrations); i++ {
		s.log.Info("store.sqlite.migrate", "version", i+1)
		if _, err := s.db.ExecContext(ctx, sqliteMigrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveNotification inserts a record and returns its UUID.
func (s *SQLiteStore) SaveNotification(ctx context.Context, in SaveInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	data, err := encodeData(in.Data)
	if err != nil {
		return "", err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, task_id, type, title, message, data, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		id, in.UserID, nullIfEmpty(in.TaskID), string(in.Kind), in.Title, in.Message, string(data),
		now.UTC().Format(sqliteTimeFormat),
	); err != nil {
		return "", fmt.Errorf("inserting notification: %w", err)
	}
	return id, nil
}

const sqliteSelectColumns = `SELECT id, user_id, task_id, type, title, message, data, is_read, created_at FROM notifications`

// ListForUser returns a page of the user's records, newest first.
func (s *SQLiteStore) ListForUser(ctx context.Context, q ListQuery) ([]Record, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, invalidInput("missing user_id")
	}
	q = q.normalized()

	query := sqliteSelectColumns + ` WHERE user_id = ?`
	if q.UnreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, q.UserID, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return scanSQLiteRecords(rows)
}

// ListForTask returns every record tied to the task, newest first.
func (s *SQLiteStore) ListForTask(ctx context.Context, taskID string) ([]Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, invalidInput("missing task_id")
	}
	rows, err := s.db.QueryContext(ctx,
		sqliteSelectColumns+` WHERE task_id = ? ORDER BY created_at DESC, rowid DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task notifications: %w", err)
	}
	return scanSQLiteRecords(rows)
}

// CountUnread returns the number of unread records for the user.
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// MarkRead flags one record as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead flags every unread record of the user and returns how many changed.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("marking all read: %w", err)
	}
	return res.RowsAffected()
}

func scanSQLiteRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		var (
			r         Record
			taskID    sql.NullString
			kind      string
			data      string
			read      int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &taskID, &kind, &r.Title, &r.Message, &data, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		r.TaskID = taskID.String
		r.Kind = Kind(kind)
		r.Read = read != 0

		t, err := time.Parse(sqliteTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		r.CreatedAt = t

		m, err := decodeData([]byte(data))
		if err != nil {
			return nil, err
		}
		r.Data = m
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
