// file: repository/token_repository.go

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-task-api/db"
	"go-task-api/logger"
	"go-task-api/model"

	"github.com/sirupsen/logrus"
)

// ITokenTx is the set of refresh token operations allowed while a user's row is locked.
type ITokenTx interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	RevokeOthers(ctx context.Context, userID, keepID int) (int64, error)
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// ITokenRepository defines the contract for refresh token database operations.
type ITokenRepository interface {
	// WithUserLock runs fn in a transaction holding the lock on the user's row,
	// so calls for the same user commit one after another.
	WithUserLock(ctx context.Context, userID int, fn func(ctx context.Context, tx ITokenTx) error) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Revoke(ctx context.Context, tokenHash string) error
	ListLiveByUserID(ctx context.Context, userID int, now time.Time) ([]*model.RefreshToken, error)
}

// TokenRepository implements ITokenRepository.
type TokenRepository struct {
	DB *sql.DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{DB: db}
}

func (r *TokenRepository) WithUserLock(ctx context.Context, userID int, fn func(ctx context.Context, tx ITokenTx) error) error {
	return db.WithTx(ctx, r.DB, func(ctx context.Context, tx *sql.Tx) error {
		var id int
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return fn(ctx, &tokenTx{tx: tx})
	})
}

type tokenTx struct {
	tx db.DBTX
}

// Create inserts a new refresh token record.
func (t *tokenTx) Create(ctx context.Context, token *model.RefreshToken) error {
	log := logger.Log.WithFields(logrus.Fields{
		"user_id":    token.UserID,
		"expires_at": token.ExpiresAt,
	})
	log.Info("Executing query to create a new refresh token")

	query := `INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	err := t.tx.QueryRowContext(ctx, query, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).Scan(&token.ID)
	if err != nil {
		log.WithError(err).Error("Failed to execute create refresh token query")
		return err
	}
	return nil
}

// RevokeOthers revokes every live token of the user except keepID. It runs
// under a savepoint so a failure leaves the surrounding transaction usable.
func (t *tokenTx) RevokeOthers(ctx context.Context, userID, keepID int) (int64, error) {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT revoke_others`); err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND id <> $2 AND revoked = FALSE`,
		userID, keepID)
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT revoke_others`); rbErr != nil {
			return 0, errors.Join(err, rbErr)
		}
		return 0, err
	}

	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT revoke_others`); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsRevoked reports whether the token is revoked as seen inside the locked
// transaction, after every earlier rotation for the user has committed.
func (t *tokenTx) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := t.tx.QueryRowContext(ctx, `SELECT revoked FROM refresh_tokens WHERE token_hash = $1`, tokenHash).Scan(&revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return revoked, nil
}

// GetByTokenHash retrieves a refresh token by its hashed value.
func (r *TokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	token := &model.RefreshToken{}
	query := `SELECT id, user_id, token_hash, expires_at, revoked, created_at FROM refresh_tokens WHERE token_hash = $1`
	err := r.DB.QueryRowContext(ctx, query, tokenHash).
		Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.Revoked, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.WithError(err).Error("Failed to execute get refresh token by hash query")
		return nil, err
	}
	return token, nil
}

// Revoke marks one token revoked. Revoking an already revoked token succeeds.
func (r *TokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`, tokenHash)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to execute revoke refresh token query")
		return err
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

// ListLiveByUserID returns the user's unrevoked, unexpired tokens, newest first.
func (r *TokenRepository) ListLiveByUserID(ctx context.Context, userID int, now time.Time) ([]*model.RefreshToken, error) {
	query := `SELECT id, user_id, token_hash, expires_at, revoked, created_at FROM refresh_tokens
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID, now)
	if err != nil {
		logger.Log.WithError(err).WithField("user_id", userID).Error("Failed to execute live refresh tokens query")
		return nil, err
	}
	defer rows.Close()

	tokens := []*model.RefreshToken{}
	for rows.Next() {
		var t model.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
