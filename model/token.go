// file: model/token.go

package model

import "time"

// RefreshToken holds the data for a refresh token in the database.
// Token is the plaintext value handed to the client; it is only set on the
// value returned at issue time and is never persisted.
type RefreshToken struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Token     string    `json:"-"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Live reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}
