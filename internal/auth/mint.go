package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aelexs/archivebot/internal/domain"
)

// MintResult holds a signed token and its metadata.
type MintResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Minter creates signed admin tokens. Used by the admin-token CLI command.
type Minter struct {
	secret []byte
	clock  domain.Clock
}

// NewMinter creates a minter signing with secret.
func NewMinter(secret domain.SecretString, clock domain.Clock) *Minter {
	return &Minter{secret: []byte(secret.Expose()), clock: clock}
}

// Mint issues an admin token for subject valid for ttl.
func (m *Minter) Mint(subject string, ttl time.Duration) (MintResult, error) {
	if len(m.secret) == 0 {
		return MintResult{}, fmt.Errorf("mint admin token: %w", domain.ErrConfigRequired)
	}
	if ttl <= 0 {
		return MintResult{}, fmt.Errorf("mint admin token: ttl %s: %w", ttl, domain.ErrInvalidInput)
	}

	now := m.clock.Now().UTC()
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		Role: RoleAdmin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(m.secret)
	if err != nil {
		return MintResult{}, fmt.Errorf("sign admin token: %w", err)
	}

	return MintResult{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}
