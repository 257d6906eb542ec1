package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSchema = "taskpulse"

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "taskpulse").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("notify: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("notify: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: defaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("notify: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema, table and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaDDL(s.schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveNotification inserts a record and returns its UUID.
func (s *PostgresStore) SaveNotification(ctx context.Context, in SaveInput) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("notify: nil store")
	}
	if err := in.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
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

	id := uuid.New()
	var taskID *string
	if in.TaskID != "" {
		taskID = &in.TaskID
	}

	notifications := pgIdent(s.schema, "notifications")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+notifications+` (id, user_id, task_id, type, title, message, data, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, false, $8)`,
		id, in.UserID, taskID, string(in.Kind), in.Title, in.Message, string(data), now.UTC(),
	); err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return id.String(), nil
}

const pgSelectColumns = `SELECT id::text, user_id, task_id, type, title, message, data, is_read, created_at FROM `

// ListForUser returns a page of the user's records, newest first.
func (s *PostgresStore) ListForUser(ctx context.Context, q ListQuery) ([]Record, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, invalidInput("missing user_id")
	}
	q = q.normalized()

	notifications := pgIdent(s.schema, "notifications")
	query := pgSelectColumns + notifications + ` WHERE user_id = $1`
	if q.UnreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, q.UserID, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return scanPGRecords(rows)
}

// ListForTask returns every record tied to the task, newest first.
func (s *PostgresStore) ListForTask(ctx context.Context, taskID string) ([]Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, invalidInput("missing task_id")
	}
	notifications := pgIdent(s.schema, "notifications")
	rows, err := s.pool.Query(ctx,
		pgSelectColumns+notifications+` WHERE task_id = $1 ORDER BY created_at DESC, seq DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task notifications: %w", err)
	}
	return scanPGRecords(rows)
}

// CountUnread returns the number of unread records for the user.
func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	notifications := pgIdent(s.schema, "notifications")
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+notifications+` WHERE user_id = $1 AND NOT is_read`, userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkRead flags one record as read.
func (s *PostgresStore) MarkRead(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	notifications := pgIdent(s.schema, "notifications")
	tag, err := s.pool.Exec(ctx, `UPDATE `+notifications+` SET is_read = true WHERE id = $1`, parsed)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead flags every unread record of the user and returns how many changed.
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	notifications := pgIdent(s.schema, "notifications")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+notifications+` SET is_read = true WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPGRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		var (
			r      Record
			taskID *string
			kind   string
			data   []byte
		)
		if err := rows.Scan(&r.ID, &r.UserID, &taskID, &kind, &r.Title, &r.Message, &data, &r.Read, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if taskID != nil {
			r.TaskID = *taskID
		}
		r.Kind = Kind(kind)
		r.CreatedAt = r.CreatedAt.UTC()

		m, err := decodeData(data)
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

func postgresSchemaDDL(schema string) string {
	notifications := pgIdent(schema, "notifications")
	return `CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize() + `;
CREATE TABLE IF NOT EXISTS ` + notifications + ` (
  id         uuid        PRIMARY KEY,
  seq        bigint      GENERATED ALWAYS AS IDENTITY,
  user_id    text        NOT NULL,
  task_id    text        NULL,
  type       varchar(30) NOT NULL,
  title      varchar(200) NOT NULL,
  message    text        NOT NULL,
  data       jsonb       NOT NULL DEFAULT '{}'::jsonb,
  is_read    boolean     NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notifications_user_created_idx ON ` + notifications + ` (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS notifications_user_unread_idx ON ` + notifications + ` (user_id) WHERE NOT is_read;
CREATE INDEX IF NOT EXISTS notifications_task_idx ON ` + notifications + ` (task_id);`
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
