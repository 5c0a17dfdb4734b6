// Package identity issues and verifies the bearer tokens that carry an
// actor's id and role.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

// Claims are the JWT claims of an access token. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver signs and verifies HS256 access tokens.
type Resolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewResolver creates a resolver. secret must not be empty.
func NewResolver(secret, issuer string, ttl time.Duration) (*Resolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Resolver{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue signs a token for the user. The role is normalised first; unknown
// roles are rejected.
func (r *Resolver) Issue(userID, role string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, perrors.Validation("user id is required")
	}
	parsed, ok := models.ParseRole(role)
	if !ok {
		return "", time.Time{}, perrors.Validation("unknown role %q", role)
	}

	now := r.now()
	exp := now.Add(r.ttl)
	claims := Claims{
		Role: string(parsed),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}

// Resolve verifies a token and returns its actor. Any failure is reported as
// Unauthorized.
func (r *Resolver) Resolve(token string) (models.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
		jwt.WithLeeway(30 * time.Second),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return models.Actor{}, &perrors.Error{
			Kind:    perrors.KindUnauthorized,
			Message: "invalid or expired token",
			Err:     err,
		}
	}

	if claims.Subject == "" {
		return models.Actor{}, perrors.Unauthorized("token has no subject")
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return models.Actor{}, perrors.Unauthorized("token carries unknown role %q", claims.Role)
	}
	return models.Actor{ID: claims.Subject, Role: role}, nil
}
