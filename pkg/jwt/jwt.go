package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingKey   = errors.New("jwt signing key is empty")
)

// Claims are the access token claims issued by the platform auth server.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// Manager signs and validates HS256 access tokens.
type Manager struct {
	key      []byte
	issuer   string
	duration time.Duration
	now      func() time.Time
}

// NewManager creates a manager for the shared signing secret.
func NewManager(secret, issuer string, duration time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}
	if duration <= 0 {
		duration = time.Hour
	}
	return &Manager{
		key:      []byte(secret),
		issuer:   issuer,
		duration: duration,
		now:      time.Now,
	}, nil
}

// Issue creates an access token for the user.
func (m *Manager) Issue(userID, nickname string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.duration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:   userID,
		Nickname: nickname,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Validate parses a token and returns its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Nickname == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
