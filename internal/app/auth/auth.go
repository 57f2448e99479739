// Package auth issues and validates the API's JWT credentials.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when a login attempt does not match a
// configured user.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims carries the identity encoded in an issued token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// User is a configured API user. Password holds either a bcrypt hash or, for
// development setups, the plain text itself.
type User struct {
	Username string
	Password string
	Role     string
}

// Manager authenticates configured users and signs short-lived HS256 tokens
// for them.
type Manager struct {
	secret []byte
	users  map[string]User
	issuer string
	ttl    time.Duration
}

// NewManager creates a manager over a static user list. A nil manager is
// valid and rejects every token.
func NewManager(secret string, users []User) *Manager {
	index := make(map[string]User, len(users))
	for _, u := range users {
		if strings.TrimSpace(u.Username) == "" {
			continue
		}
		index[strings.ToLower(u.Username)] = u
	}
	return &Manager{
		secret: []byte(secret),
		users:  index,
		issuer: "progression-engine",
		ttl:    24 * time.Hour,
	}
}

// Authenticate checks a username/password pair against the configured users.
func (m *Manager) Authenticate(username, password string) (User, error) {
	if m == nil {
		return User{}, ErrInvalidCredentials
	}
	user, ok := m.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		// Burn a comparison anyway so unknown and known users take the
		// same time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if !passwordMatches(user.Password, password) {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken signs a token for an authenticated user.
func (m *Manager) IssueToken(user User) (string, error) {
	if m == nil {
		return "", errors.New("auth manager not configured")
	}
	now := time.Now()
	claims := &Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a token, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	if m == nil {
		return nil, errors.New("auth manager not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// passwordMatches compares the stored credential with the supplied password.
// Stored values beginning with a bcrypt version marker are treated as hashes.
func passwordMatches(stored, supplied string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// HashPassword produces a bcrypt hash suitable for config files.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
