package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kparsons/timehub/internal/models"
)

// PostgresRepository stores sessions and timers in Postgres via a pgx pool.
// Timer creation order is kept in a bigserial position column; a session's
// timer list is derived from it rather than stored as an array.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, nil
}

func (r *PostgresRepository) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS timers (
		id          UUID PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		elapsed     BIGINT NOT NULL DEFAULT 0,
		is_running  BOOLEAN NOT NULL DEFAULT FALSE,
		start_time  TIMESTAMPTZ,
		position    BIGSERIAL
	);

	CREATE INDEX IF NOT EXISTS idx_timers_session ON timers(session_id, position);
	`

	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, title, description, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, session.ID, session.Title, session.Description, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT id, title, description, created_at FROM sessions WHERE id = $1`

	var session models.Session
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID, &session.Title, &session.Description, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (r *PostgresRepository) GetSessionWithTimers(ctx context.Context, id string) (*models.Session, []models.Timer, error) {
	session, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT id, session_id, title, description, elapsed, is_running, start_time
		FROM timers
		WHERE session_id = $1
		ORDER BY position
	`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer rows.Close()

	timers := make([]models.Timer, 0)
	for rows.Next() {
		var t models.Timer
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Description, &t.Elapsed, &t.IsRunning, &t.StartTime); err != nil {
			return nil, nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read timers: %w", err)
	}
	return session, timers, nil
}

func (r *PostgresRepository) CreateTimer(ctx context.Context, timer *models.Timer) error {
	query := `
		INSERT INTO timers (id, session_id, title, description, elapsed, is_running, start_time)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $2)
	`

	tag, err := r.pool.Exec(ctx, query,
		timer.ID, timer.SessionID, timer.Title, timer.Description,
		timer.Elapsed, timer.IsRunning, timer.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error) {
	query := `
		SELECT id, session_id, title, description, elapsed, is_running, start_time
		FROM timers WHERE id = $1
	`

	var t models.Timer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.SessionID, &t.Title, &t.Description, &t.Elapsed, &t.IsRunning, &t.StartTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get timer: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) UpdateTimer(ctx context.Context, timer *models.Timer) error {
	query := `
		UPDATE timers
		SET title = $2, description = $3, elapsed = $4, is_running = $5, start_time = $6
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		timer.ID, timer.Title, timer.Description, timer.Elapsed, timer.IsRunning, timer.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to update timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) timerIDs(ctx context.Context, sessionID string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM timers WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list timer ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan timer id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
