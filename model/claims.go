package model

import "github.com/golang-jwt/jwt/v5"

type AppClaims struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the caller resolved from a validated access token.
type Identity struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
