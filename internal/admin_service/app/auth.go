package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopbridge/golang_services/internal/core_domain"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "shopbridge-admin"

// Operator is the authenticated admin console user.
type Operator struct {
	Username  string
	SessionID string
	ExpiresAt time.Time
}

// Authenticator checks operator credentials and issues HS256 session tokens.
type Authenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
	expiry       time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewAuthenticator(username, passwordHash, secret string, expiry time.Duration, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		expiry:       expiry,
		logger:       logger.With("service", "admin_auth"),
		now:          time.Now,
	}
}

// HashPassword produces a bcrypt hash for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Login returns a signed token for valid credentials. Login is refused outright
// when no password hash is configured.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *Operator, error) {
	if len(a.passwordHash) == 0 {
		a.logger.WarnContext(ctx, "Admin login attempted but no password hash is configured")
		return "", nil, core_domain.ErrAuthentication
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		a.logger.WarnContext(ctx, "Admin login failed", "username", username)
		return "", nil, core_domain.ErrAuthentication
	}

	now := a.now()
	op := &Operator{Username: a.username, SessionID: uuid.NewString(), ExpiresAt: now.Add(a.expiry)}
	claims := jwt.MapClaims{
		"sub": op.Username,
		"jti": op.SessionID,
		"iss": tokenIssuer,
		"iat": now.Unix(),
		"exp": op.ExpiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	a.logger.InfoContext(ctx, "Admin logged in", "username", op.Username, "session_id", op.SessionID)
	return token, op, nil
}

// Validate parses a bearer token and returns its operator.
func (a *Authenticator) Validate(tokenString string) (*Operator, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Join(core_domain.ErrAuthentication, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, core_domain.ErrAuthentication
	}
	sub, _ := claims.GetSubject()
	if sub != a.username {
		return nil, core_domain.ErrAuthentication
	}
	op := &Operator{Username: sub}
	op.SessionID, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		op.ExpiresAt = exp.Time
	}
	return op, nil
}
