package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kparsons/timehub/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteRepository is a single-file store for small deployments. It mirrors
// the Postgres schema with rowid insertion order standing in for the position column.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS timers (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		elapsed     INTEGER NOT NULL DEFAULT 0,
		is_running  INTEGER NOT NULL DEFAULT 0,
		start_time  DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_timers_session ON timers(session_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `INSERT INTO sessions (id, title, description, created_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.Title, session.Description, session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT id, title, description, created_at FROM sessions WHERE id = ?`

	var session models.Session
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.Title, &session.Description, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.TimerIDs, err = r.timerIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SQLiteRepository) GetSessionWithTimers(ctx context.Context, id string) (*models.Session, []models.Timer, error) {
	session, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT id, session_id, title, description, elapsed, is_running, start_time
		FROM timers
		WHERE session_id = ?
		ORDER BY rowid
	`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer rows.Close()

	timers := make([]models.Timer, 0)
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, nil, err
		}
		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read timers: %w", err)
	}
	return session, timers, nil
}

func (r *SQLiteRepository) CreateTimer(ctx context.Context, timer *models.Timer) error {
	query := `
		INSERT INTO timers (id, session_id, title, description, elapsed, is_running, start_time)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ?)
	`

	res, err := r.db.ExecContext(ctx, query,
		timer.ID.String(), timer.SessionID, timer.Title, timer.Description,
		timer.Elapsed, timer.IsRunning, sqlTime(timer.StartTime), timer.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert timer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error) {
	query := `
		SELECT id, session_id, title, description, elapsed, is_running, start_time
		FROM timers WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, query, id.String())
	t, err := scanTimer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *SQLiteRepository) UpdateTimer(ctx context.Context, timer *models.Timer) error {
	query := `
		UPDATE timers
		SET title = ?, description = ?, elapsed = ?, is_running = ?, start_time = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		timer.Title, timer.Description, timer.Elapsed, timer.IsRunning,
		sqlTime(timer.StartTime), timer.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update timer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) timerIDs(ctx context.Context, sessionID string) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM timers WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list timer ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan timer id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timer id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row rowScanner) (models.Timer, error) {
	var (
		t         models.Timer
		rawID     string
		startTime sql.NullTime
	)
	if err := row.Scan(&rawID, &t.SessionID, &t.Title, &t.Description, &t.Elapsed, &t.IsRunning, &startTime); err != nil {
		return models.Timer{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return models.Timer{}, fmt.Errorf("failed to parse timer id %q: %w", rawID, err)
	}
	t.ID = id
	if startTime.Valid {
		st := startTime.Time
		t.StartTime = &st
	}
	return t, nil
}

func sqlTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
