// Package auth hashes passwords and issues the X-Auth-Token values carried by
// REST calls and websocket upgrades.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// HeaderToken is the request header carrying the token.
const HeaderToken = "X-Auth-Token"

// QueryToken is the query parameter accepted at websocket upgrade, where
// browsers cannot set headers.
const QueryToken = "token"

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or
	// claim validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Claims is the token payload.
type Claims struct {
	UserID  string `json:"_id"`
	IsAdmin bool   `json:"isAdmin"`
	jwtlib.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A non-positive ttl defaults to 24h.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for userID.
func (i *Issuer) Issue(userID string, isAdmin bool) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify parses token and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwtlib.WithTimeFunc(i.now))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest returns the token presented with r. It reads the
// X-Auth-Token header, then an "Authorization: Bearer" header, then the
// token query parameter.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(HeaderToken)); token != "" {
		return token
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); len(authz) > len("bearer ") &&
		strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryToken))
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hash), nil
}

// CheckPassword compares password with a stored hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
