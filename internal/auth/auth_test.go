package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krigsexe/Yggdrasil/internal/auth"
)

const testSecret = "test-secret-0123456789"

func newManager(t *testing.T, expiration time.Duration) *auth.JWTManager {
	t.Helper()
	mgr, err := auth.NewJWTManager(testSecret, expiration)
	require.NoError(t, err)
	return mgr
}

// forgeToken signs a JWT directly so tests can inject arbitrary claims.
func forgeToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := auth.NewJWTManager("", time.Hour)
	require.Error(t, err)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr := newManager(t, time.Hour)

	token, expiresAt, err := mgr.IssueToken("user-42")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "yggdrasil", claims.Issuer)
}

func TestIssueTokenRejectsEmptyUser(t *testing.T) {
	mgr := newManager(t, time.Hour)
	_, _, err := mgr.IssueToken("")
	require.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	mgr := newManager(t, -time.Minute)

	token, _, err := mgr.IssueToken("user-42")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	mgr := newManager(t, time.Hour)

	now := time.Now().UTC()
	token := forgeToken(t, "some-other-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "yggdrasil",
			Audience:  jwt.ClaimStrings{"yggdrasil"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		UserID: "user-42",
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr := newManager(t, time.Hour)

	now := time.Now().UTC()
	token := forgeToken(t, testSecret, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{"yggdrasil"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		UserID: "user-42",
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_MissingUserID(t *testing.T) {
	mgr := newManager(t, time.Hour)

	now := time.Now().UTC()
	token := forgeToken(t, testSecret, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "yggdrasil",
			Audience:  jwt.ClaimStrings{"yggdrasil"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user id")
}

func TestValidateToken_WrongAlgorithm(t *testing.T) {
	mgr := newManager(t, time.Hour)

	// An unsigned token must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "user-42",
		Issuer:  "yggdrasil",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(signed)
	require.Error(t, err)
}
