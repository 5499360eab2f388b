package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, user_id, token_hash, state, expires_at, ip_address, device, user_agent, location, created_at, authenticated_at, revoked_at`

// SessionRepository persists UserSession records. State changes are conditional
// updates so concurrent transitions resolve in the database.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.UserSession, error) {
	var s models.UserSession

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.State, &s.ExpiresAt,
		&s.Client.IPAddress, &s.Client.Device, &s.Client.UserAgent, &s.Client.Location,
		&s.CreatedAt, &s.AuthenticatedAt, &s.RevokedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.UserSession) (*models.UserSession, error) {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	query := `
		INSERT INTO user_sessions (id, user_id, token_hash, state, expires_at, ip_address, device, user_agent, location, created_at, authenticated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + sessionColumns

	created, err := scanSessionRow(r.pool.QueryRow(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.State, session.ExpiresAt,
		session.Client.IPAddress, session.Client.Device, session.Client.UserAgent, session.Client.Location,
		session.CreatedAt, session.AuthenticatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE token_hash = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// Promote moves an awaiting_otp session to authenticated.
// Returns ErrNotFound if the session is not live and awaiting OTP at now.
func (r *SessionRepository) Promote(ctx context.Context, id string, now time.Time) (*models.UserSession, error) {
	query := `
		UPDATE user_sessions SET state = 'authenticated', authenticated_at = $2
		WHERE id = $1 AND state = 'awaiting_otp' AND expires_at >= $2
		RETURNING ` + sessionColumns

	return scanSessionRow(r.pool.QueryRow(ctx, query, id, now))
}

// MarkExpired moves a live session to expired. No-op for terminal sessions.
func (r *SessionRepository) MarkExpired(ctx context.Context, id string) error {
	query := `UPDATE user_sessions SET state = 'expired' WHERE id = $1 AND state IN ('awaiting_otp', 'authenticated')`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// Revoke moves a live session to revoked. Revoking a terminal or unknown session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE user_sessions SET state = 'revoked', revoked_at = $2
		WHERE id = $1 AND state IN ('awaiting_otp', 'authenticated')
	`

	if _, err := r.pool.Exec(ctx, query, id, now); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// RevokeAllForUser revokes every live session of a user and returns how many changed
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE user_sessions SET state = 'revoked', revoked_at = $2
		WHERE user_id = $1 AND state IN ('awaiting_otp', 'authenticated')
	`

	result, err := r.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions that expired or were revoked before cutoff
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM user_sessions WHERE expires_at < $1 OR revoked_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
