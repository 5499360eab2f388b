package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tokenColumns = `id, purpose, subject_id, token_hash, payload, attempts, issued_at, expires_at, consumed_at`

// VerificationTokenRepository persists single-use verification tokens.
// A partial unique index keeps at most one unconsumed token per (purpose, subject).
type VerificationTokenRepository struct {
	db *database.DB
}

func NewVerificationTokenRepository(db *database.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

func scanTokenRow(scanner rowScanner) (*models.VerificationToken, error) {
	var t models.VerificationToken

	err := scanner.Scan(
		&t.ID, &t.Purpose, &t.SubjectID, &t.TokenHash, &t.Payload, &t.Attempts,
		&t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

// Replace invalidates any live token for the same (purpose, subject) and stores token in one transaction.
// Returns ErrConflict if a concurrent issuer won the race for the live slot.
func (r *VerificationTokenRepository) Replace(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	var stored *models.VerificationToken
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		invalidate := `
			UPDATE verification_tokens SET consumed_at = $3
			WHERE purpose = $1 AND subject_id = $2 AND consumed_at IS NULL
		`
		if _, err := tx.Exec(ctx, invalidate, token.Purpose, token.SubjectID, token.IssuedAt); err != nil {
			return database.MapPostgresError(err)
		}

		insert := `
			INSERT INTO verification_tokens (id, purpose, subject_id, token_hash, payload, attempts, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
			RETURNING ` + tokenColumns

		var err error
		stored, err = scanTokenRow(tx.QueryRow(ctx, insert,
			token.ID, token.Purpose, token.SubjectID, token.TokenHash, token.Payload,
			token.IssuedAt, token.ExpiresAt,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store verification token: %w", err)
	}

	return stored, nil
}

// Consume atomically marks the live, unexpired token with this hash and purpose as consumed.
// A non-empty subjectID must also match. Concurrent callers serialize on the row lock;
// only one sees the row. Returns ErrNotFound if nothing was consumed.
func (r *VerificationTokenRepository) Consume(ctx context.Context, tokenHash string, purpose models.TokenPurpose, subjectID string, now time.Time) (*models.VerificationToken, error) {
	query := `
		UPDATE verification_tokens SET consumed_at = $4
		WHERE token_hash = $1 AND purpose = $2
		  AND ($3::text = '' OR subject_id::text = $3::text)
		  AND consumed_at IS NULL AND expires_at >= $4
		RETURNING ` + tokenColumns

	return scanTokenRow(r.db.Pool.QueryRow(ctx, query, tokenHash, purpose, subjectID, now))
}

// GetByHash returns the token with this hash, preferring the live one
func (r *VerificationTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.VerificationToken, error) {
	query := `
		SELECT ` + tokenColumns + ` FROM verification_tokens
		WHERE token_hash = $1
		ORDER BY consumed_at IS NULL DESC, issued_at DESC
		LIMIT 1
	`

	return scanTokenRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// ReserveAttempt bumps the attempt counter of the live token for (purpose, subject)
// if it is still below maxAttempts. The bound sits in the WHERE clause, so concurrent
// callers re-check it after the row lock and at most maxAttempts of them succeed.
// Returns ErrNotFound when there is no live token or its attempts are used up.
func (r *VerificationTokenRepository) ReserveAttempt(ctx context.Context, purpose models.TokenPurpose, subjectID string, maxAttempts int) (*models.VerificationToken, error) {
	query := `
		UPDATE verification_tokens SET attempts = attempts + 1
		WHERE purpose = $1 AND subject_id = $2 AND consumed_at IS NULL AND attempts < $3
		RETURNING ` + tokenColumns

	return scanTokenRow(r.db.Pool.QueryRow(ctx, query, purpose, subjectID, maxAttempts))
}

// Invalidate consumes the token with this id if it is still live
func (r *VerificationTokenRepository) Invalidate(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE verification_tokens SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`
	if _, err := r.db.Pool.Exec(ctx, query, id, now); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// DeleteExpired removes tokens that expired before cutoff, consumed or not
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
