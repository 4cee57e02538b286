package util

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenPurpose = "email_preferences"

var ErrInvalidToken = errors.New("invalid unsubscribe token")

type preferenceClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenMinter issues the opaque token embedded in preference and unsubscribe
// links. Tokens are HS256 JWTs (URL-safe by construction) without expiry, so a
// link in an old email keeps working.
type TokenMinter struct {
	secret []byte
	now    func() time.Time
}

func NewTokenMinter(secret string) *TokenMinter {
	return &TokenMinter{secret: []byte(secret), now: time.Now}
}

// Mint creates a fresh token for userID.
func (m *TokenMinter) Mint(userID int64) (string, error) {
	claims := preferenceClaims{
		Purpose: tokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(userID, 10),
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(m.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse validates the signature and returns the user the token was minted for.
func (m *TokenMinter) Parse(token string) (int64, error) {
	var claims preferenceClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if claims.Purpose != tokenPurpose {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
