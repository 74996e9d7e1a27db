package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/lumina/internal/domain"
)

// DefaultSQLiteDSN names a shared in-memory database that lives as long as
// the store keeps its connection open.
const DefaultSQLiteDSN = "file:lumina?mode=memory&cache=shared"

// SQLiteStore implements Store on go-sqlite3.
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	closed atomic.Bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dsn (DefaultSQLiteDSN when empty) and creates the
// schema. A single connection is used so the in-memory database is never
// dropped and writes are serialized.
func NewSQLiteStore(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, opts: buildOptions(opts)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) ensure(ctx context.Context, ex execer, userID string, now time.Time) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, now.UnixNano(), now.UnixNano())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*domain.Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := s.ensure(ctx, s.db, userID, s.opts.now()); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE user_id = ?`, userID,
	).Scan(&created, &updated)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, at FROM turns WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	history := []domain.Turn{}
	for rows.Next() {
		var t domain.Turn
		var role string
		var at int64
		if err := rows.Scan(&t.ID, &role, &t.Text, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = domain.Role(role)
		t.At = time.Unix(0, at)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return &domain.Session{
		UserID:    userID,
		History:   history,
		CreatedAt: time.Unix(0, created),
		UpdatedAt: time.Unix(0, updated),
	}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, userID, human, assistant string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	now := s.opts.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensure(ctx, tx, userID, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	for _, t := range exchange(human, assistant, now) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO turns (id, user_id, role, text, at) VALUES (?, ?, ?, ?, ?)`,
			t.ID, userID, string(t.Role), t.Text, t.At.UnixNano())
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM turns WHERE user_id = ? AND seq NOT IN (
			SELECT seq FROM turns WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		)`, userID, userID, s.opts.limit)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE user_id = ?`, now.UnixNano(), userID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	now := s.opts.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensure(ctx, tx, userID, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE user_id = ?`, now.UnixNano(), userID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the connection, which drops an in-memory database.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
