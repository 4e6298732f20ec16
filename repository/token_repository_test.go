package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"go-task-api/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database, mock
}

const (
	lockUserQuery    = `SELECT id FROM users WHERE id = $1 FOR UPDATE`
	insertTokenQuery = `INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	revokeOthersStmt = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND id <> $2 AND revoked = FALSE`
)

func TestTokenRepository_WithUserLock_InsertAndRevoke(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	now := time.Now()
	token := &model.RefreshToken{UserID: 7, TokenHash: "hash", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(insertTokenQuery)).WithArgs(7, "hash", token.ExpiresAt, token.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(`^SAVEPOINT revoke_others$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(revokeOthersStmt)).WithArgs(7, 11).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`^RELEASE SAVEPOINT revoke_others$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var revoked int64
	err := repo.WithUserLock(context.Background(), 7, func(ctx context.Context, tx ITokenTx) error {
		if err := tx.Create(ctx, token); err != nil {
			return err
		}
		n, err := tx.RevokeOthers(ctx, token.UserID, token.ID)
		revoked = n
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 11, token.ID)
	assert.Equal(t, int64(2), revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_RevokeOthersFailureKeepsTxUsable(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`^SAVEPOINT revoke_others$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(revokeOthersStmt)).WithArgs(3, 20).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT revoke_others$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var revokeErr error
	err := repo.WithUserLock(context.Background(), 3, func(ctx context.Context, tx ITokenTx) error {
		_, revokeErr = tx.RevokeOthers(ctx, 3, 20)
		return nil
	})

	require.NoError(t, err)
	assert.EqualError(t, revokeErr, "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_IsRevokedInsideLock(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT revoked FROM refresh_tokens WHERE token_hash = $1`)).WithArgs("spent").
		WillReturnRows(sqlmock.NewRows([]string{"revoked"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT revoked FROM refresh_tokens WHERE token_hash = $1`)).WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := repo.WithUserLock(context.Background(), 4, func(ctx context.Context, tx ITokenTx) error {
		revoked, err := tx.IsRevoked(ctx, "spent")
		require.NoError(t, err)
		assert.True(t, revoked)

		_, err = tx.IsRevoked(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_WithUserLock_UnknownUser(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).WithArgs(99).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := repo.WithUserLock(context.Background(), 99, func(context.Context, ITokenTx) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_WithUserLock_RollsBackOnError(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockUserQuery)).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(insertTokenQuery)).WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := repo.WithUserLock(context.Background(), 1, func(ctx context.Context, tx ITokenTx) error {
		return tx.Create(ctx, &model.RefreshToken{UserID: 1, TokenHash: "h"})
	})

	assert.EqualError(t, err, "insert failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepository_GetByTokenHash(t *testing.T) {
	query := regexp.QuoteMeta(`SELECT id, user_id, token_hash, expires_at, revoked, created_at FROM refresh_tokens WHERE token_hash = $1`)

	t.Run("found", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTokenRepository(database)
		expires := time.Now().Add(time.Hour)
		created := time.Now()
		mock.ExpectQuery(query).WithArgs("h1").WillReturnRows(
			sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "revoked", "created_at"}).
				AddRow(5, 2, "h1", expires, true, created))

		got, err := repo.GetByTokenHash(context.Background(), "h1")

		require.NoError(t, err)
		assert.Equal(t, &model.RefreshToken{ID: 5, UserID: 2, TokenHash: "h1", ExpiresAt: expires, Revoked: true, CreatedAt: created}, got)
	})

	t.Run("not found", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTokenRepository(database)
		mock.ExpectQuery(query).WithArgs("missing").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByTokenHash(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTokenRepository_Revoke(t *testing.T) {
	stmt := regexp.QuoteMeta(`UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`)

	t.Run("matched", func(t *testing.T) {
		database, mock := newMockDB(t)
		mock.ExpectExec(stmt).WithArgs("h").WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, NewTokenRepository(database).Revoke(context.Background(), "h"))
	})

	t.Run("no such token", func(t *testing.T) {
		database, mock := newMockDB(t)
		mock.ExpectExec(stmt).WithArgs("h").WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, NewTokenRepository(database).Revoke(context.Background(), "h"), ErrNotFound)
	})
}

func TestTokenRepository_ListLiveByUserID(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTokenRepository(database)
	now := time.Now()

	mock.ExpectQuery(`FROM refresh_tokens\s+WHERE user_id = \$1 AND revoked = FALSE AND expires_at > \$2`).
		WithArgs(4, now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "revoked", "created_at"}).
			AddRow(9, 4, "h9", now.Add(time.Hour), false, now))

	tokens, err := repo.ListLiveByUserID(context.Background(), 4, now)

	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, 9, tokens[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
