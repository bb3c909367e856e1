package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var sessionColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"ip",
	"user_agent",
	"created_at",
	"last_activity",
	"expires_at",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	repo := &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create persists a new session row.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sqlStmt, args, err := r.builder.Insert("gateway.sessions").
		Columns(
			"id",
			"user_id",
			"token_hash",
			"ip",
			"user_agent",
			"created_at",
			"last_activity",
			"expires_at",
		).
		Values(
			session.ID,
			session.UserID,
			session.TokenHash,
			optionalString(session.IP),
			optionalString(session.UserAgent),
			session.CreatedAt,
			session.LastActivity,
			session.ExpiresAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByTokenHash fetches the session owning the supplied token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("gateway.sessions").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)
	session, err := scanSession(row)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// OldestByUser returns the user's stalest session, smallest last_activity first.
// Ties break on created_at so eviction order stays deterministic.
func (r *SessionRepository) OldestByUser(ctx context.Context, userID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("gateway.sessions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("last_activity ASC", "created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select oldest session sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)
	session, err := scanSession(row)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan oldest session: %w", err)
	}

	return session, nil
}

// CountByUser counts the sessions currently stored for the user.
func (r *SessionRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.exec.QueryRow(ctx, "SELECT COUNT(*) FROM gateway.sessions WHERE user_id = $1", userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// ListByUser retrieves all sessions owned by the supplied user, most recent activity first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("gateway.sessions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("last_activity DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// Refresh slides the expiry window and records activity for the session.
func (r *SessionRepository) Refresh(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) error {
	tag, err := r.exec.Exec(ctx,
		"UPDATE gateway.sessions SET last_activity = $2, expires_at = $3 WHERE id = $1",
		sessionID, lastActivity.UTC(), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes the session row by identifier.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	tag, err := r.exec.Exec(ctx, "DELETE FROM gateway.sessions WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeleteByTokenHash removes the session owning the token hash. The boolean
// reports whether a row existed, so logout stays idempotent.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	tag, err := r.exec.Exec(ctx, "DELETE FROM gateway.sessions WHERE token_hash = $1", tokenHash)
	if err != nil {
		return false, fmt.Errorf("delete session by token: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteAllForUser removes every session owned by the user and reports the count.
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.exec.Exec(ctx, "DELETE FROM gateway.sessions WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for user: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteExpiredBefore bulk-removes sessions whose expiry precedes the cutoff.
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.exec.Exec(ctx, "DELETE FROM gateway.sessions WHERE expires_at <= $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session   domain.Session
		ip        sql.NullString
		userAgent sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&ip,
		&userAgent,
		&session.CreatedAt,
		&session.LastActivity,
		&session.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.IP = nullableStringPtr(ip)
	session.UserAgent = nullableStringPtr(userAgent)

	return &session, nil
}

func optionalString(value *string) any {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func nullableStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := strings.TrimSpace(value.String)
	if v == "" {
		return nil
	}
	return &v
}

func nullableTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

var _ port.SessionRepository = (*SessionRepository)(nil)
