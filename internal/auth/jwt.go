package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aelexs/archivebot/internal/domain"
)

// ErrTokenExpired is returned when a validly signed token has expired.
// Callers can use errors.Is without importing the JWT library.
var ErrTokenExpired = jwt.ErrTokenExpired

// Validator validates admin bearer tokens.
type Validator struct {
	secret []byte
	clock  domain.Clock
}

// NewValidator creates a validator for tokens signed with secret.
func NewValidator(secret domain.SecretString, clock domain.Clock) *Validator {
	return &Validator{secret: []byte(secret.Expose()), clock: clock}
}

// Validate parses and fully validates tokenString: signature, issuer,
// audience, expiry and the admin role.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc,
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid admin token: %w: %w", domain.ErrUnauthorized, err)
	}

	if claims.Role != RoleAdmin {
		return nil, fmt.Errorf("role %q: %w", claims.Role, domain.ErrForbidden)
	}
	return &claims, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("no signing secret configured")
	}
	return v.secret, nil
}
