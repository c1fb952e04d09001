package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

const testSecret = "unit-test-secret-unit-test-secret"

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, 30*time.Minute)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_EmptySecret(t *testing.T) {
	_, err := NewTokenIssuer("", time.Minute)
	assert.Error(t, err)
}

func TestTokenIssuer_IssueAndValidate(t *testing.T) {
	issuer := newTestIssuer(t)
	companyID := uuid.New()
	user := &models.User{
		ID:        uuid.New(),
		Email:     "ada@example.com",
		CompanyID: &companyID,
		Roles:     []string{models.RoleUser, models.RoleAdmin},
	}

	tok, err := issuer.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, TokenType, tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), tok.ExpiresAt, 5*time.Second)

	claims, err := issuer.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, companyID.String(), claims.CompanyID)
	assert.True(t, claims.HasRole(models.RoleAdmin))
	assert.Equal(t, TokenIssuerName, claims.Issuer)
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer(t)
	other, err := NewTokenIssuer("a-completely-different-secret-value", time.Minute)
	require.NoError(t, err)

	tok, err := other.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	_, err = issuer.ValidateToken(tok.AccessToken)
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := newTestIssuer(t)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := issuer.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.ValidateToken(tok.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenIssuer_RejectsForeignIssuer(t *testing.T) {
	issuer := newTestIssuer(t)
	claims := jwt.MapClaims{
		"sub": uuid.NewString(),
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = issuer.ValidateToken(signed)
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsNoneAlgorithm(t *testing.T) {
	issuer := newTestIssuer(t)
	claims := jwt.MapClaims{"sub": "x", "iss": TokenIssuerName, "exp": time.Now().Add(time.Hour).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(signed, "."))

	_, err = issuer.ValidateToken(signed)
	assert.Error(t, err)
}
