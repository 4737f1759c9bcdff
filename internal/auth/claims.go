// Package auth mints and validates the HS256 bearer tokens that guard the
// admin surface.
package auth

import "github.com/golang-jwt/jwt/v5"

const (
	// Issuer and Audience are fixed: tokens are only ever minted by this
	// binary for its own admin routes.
	Issuer   = "archivebot"
	Audience = "archivebot-admin"

	// RoleAdmin is the only role the admin surface accepts.
	RoleAdmin = "admin"
)

// Claims represents the JWT claims of an admin token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}
