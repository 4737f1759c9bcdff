package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/auth"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/domain/domaintest"
)

const testSecret = domain.SecretString("0123456789abcdef0123456789abcdef")

func newTestMinterAndValidator(t *testing.T) (*auth.Minter, *auth.Validator, *domaintest.FakeClock) {
	t.Helper()
	clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return auth.NewMinter(testSecret, clock), auth.NewValidator(testSecret, clock), clock
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims auth.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, &claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(now time.Time) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    auth.Issuer,
			Audience:  jwt.ClaimStrings{auth.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: auth.RoleAdmin,
	}
}

func TestMintAndValidate(t *testing.T) {
	minter, validator, clock := newTestMinterAndValidator(t)

	result, err := minter.Mint("ops", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), result.ExpiresAt)

	claims, err := validator.Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, result.JTI, claims.ID)
}

func TestValidate_Rejections(t *testing.T) {
	_, validator, clock := newTestMinterAndValidator(t)
	now := clock.Now()

	wrongRole := validClaims(now)
	wrongRole.Role = "viewer"
	wrongIssuer := validClaims(now)
	wrongIssuer.Issuer = "someone-else"
	wrongAudience := validClaims(now)
	wrongAudience.Audience = jwt.ClaimStrings{"archivebot-public"}
	noExpiry := validClaims(now)
	noExpiry.ExpiresAt = nil
	expired := validClaims(now)
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "garbage", token: "not-a-jwt", wantErr: domain.ErrUnauthorized},
		{name: "wrong secret", token: signed(t, jwt.SigningMethodHS256, []byte("other-secret"), validClaims(now)), wantErr: domain.ErrUnauthorized},
		{name: "wrong algorithm", token: signed(t, jwt.SigningMethodHS512, []byte(testSecret.Expose()), validClaims(now)), wantErr: domain.ErrUnauthorized},
		{name: "wrong issuer", token: signed(t, jwt.SigningMethodHS256, []byte(testSecret.Expose()), wrongIssuer), wantErr: domain.ErrUnauthorized},
		{name: "wrong audience", token: signed(t, jwt.SigningMethodHS256, []byte(testSecret.Expose()), wrongAudience), wantErr: domain.ErrUnauthorized},
		{name: "missing expiry", token: signed(t, jwt.SigningMethodHS256, []byte(testSecret.Expose()), noExpiry), wantErr: domain.ErrUnauthorized},
		{name: "expired", token: signed(t, jwt.SigningMethodHS256, []byte(testSecret.Expose()), expired), wantErr: auth.ErrTokenExpired},
		{name: "non-admin role", token: signed(t, jwt.SigningMethodHS256, []byte(testSecret.Expose()), wrongRole), wantErr: domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := validator.Validate(tt.token)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidate_ExpiresWithClock(t *testing.T) {
	minter, validator, clock := newTestMinterAndValidator(t)

	result, err := minter.Mint("ops", 10*time.Minute)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = validator.Validate(result.Token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMint_Errors(t *testing.T) {
	clock := domaintest.NewFakeClock(time.Now())

	_, err := auth.NewMinter("", clock).Mint("ops", time.Hour)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)

	_, err = auth.NewMinter(testSecret, clock).Mint("ops", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
