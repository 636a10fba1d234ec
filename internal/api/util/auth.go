package util

import (
	"context"
	"errors"
	"net/http"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"

	// AnonymousUserID owns requests when bearer auth is disabled.
	AnonymousUserID = "operator"
)

// Claims is the subset of the bearer token the handlers act on.
type Claims struct {
	UserID string
	Role   string
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanAccessOwner reports whether the caller may act on resources of ownerID.
func (c *Claims) CanAccessOwner(ownerID string) bool {
	return c.IsAdmin() || c.UserID == ownerID
}

type claimsKey struct{}

var ErrNoClaims = errors.New("no user claims in request")

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetUserClaims returns the claims the auth middleware attached to r.
func GetUserClaims(r *http.Request) (*Claims, error) {
	claims, ok := r.Context().Value(claimsKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}
