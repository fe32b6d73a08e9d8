// Package auth checks operator PINs and issues signed session tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "guestlist_session"
	DefaultTTL = 12 * time.Hour
	issuer     = "guestlist"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleKiosk Role = "kiosk"
)

var (
	ErrInvalidCredentials = errors.New("invalid role or pin")
	ErrInvalidSession     = errors.New("invalid session")
	ErrNoSecret           = errors.New("session secret is empty")
)

type Config struct {
	AdminPIN string
	KioskPIN string
	Secret   string
	TTL      time.Duration
}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	pins   map[Role]string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Authenticator{
		pins: map[Role]string{
			RoleAdmin: cfg.AdminPIN,
			RoleKiosk: cfg.KioskPIN,
		},
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

// Login compares pin with the role's PIN and returns a signed token. A role
// without a configured PIN cannot log in.
func (a *Authenticator) Login(role Role, pin string) (string, time.Time, error) {
	want, ok := a.pins[role]
	if !ok || want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(pin)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(role),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session: %w", err)
	}
	return token, expires, nil
}

// Verify checks the signature and expiry of token and returns its role.
func (a *Authenticator) Verify(token string) (Role, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if _, ok := a.pins[claims.Role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidSession, claims.Role)
	}
	return claims.Role, nil
}

// Allows reports whether a session of role r may use a route that requires
// role need. Admins may use every route.
func (r Role) Allows(need Role) bool {
	return r == need || r == RoleAdmin
}
