package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

var (
	// ErrInvalidToken is returned for malformed or badly signed session tokens.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenExpired is returned for session tokens past their expiry.
	ErrTokenExpired = errors.New("session token expired")
)

const sessionIssuer = "grokgate"

// Claims carried by an admin session token. The subject is the Discord user id.
type Claims struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the admin behind the claims.
func (c *Claims) Identity() models.AdminIdentity {
	return models.AdminIdentity{
		DiscordUserID: c.Subject,
		Username:      c.Username,
		Avatar:        c.Avatar,
	}
}

// SessionManager issues and verifies HS256 admin session tokens.
type SessionManager struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
}

// NewSessionManager creates a session manager signing with key.
func NewSessionManager(key []byte, expiry time.Duration) *SessionManager {
	return &SessionManager{
		key:    key,
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue signs a session token for identity and returns it with its expiry.
func (sm *SessionManager) Issue(identity models.AdminIdentity) (string, time.Time, error) {
	if identity.DiscordUserID == "" {
		return "", time.Time{}, fmt.Errorf("cannot issue a session without a user id")
	}

	now := sm.now()
	expiresAt := now.Add(sm.expiry)
	claims := Claims{
		Username: identity.Username,
		Avatar:   identity.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    sessionIssuer,
			Subject:   identity.DiscordUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sm.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies a session token and returns its claims.
func (sm *SessionManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return sm.key, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(sm.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
