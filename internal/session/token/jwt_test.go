package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
)

var tokens = New("test-signing-key", "govconsent", "govconsent-api")

func TestIssueAndValidate(t *testing.T) {
	now := time.Now()
	raw, issued, err := tokens.Issue("cit-1", domain.RoleCitizen, now, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := tokens.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "cit-1", claims.Subject)
	assert.Equal(t, "citizen", claims.Role)
	assert.Equal(t, issued.ID, claims.ID)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestValidateRejects(t *testing.T) {
	t.Run("expired", func(t *testing.T) {
		raw, _, err := tokens.Issue("cit-1", domain.RoleCitizen, time.Now().Add(-2*time.Hour), time.Hour)
		require.NoError(t, err)
		_, err = tokens.Validate(raw)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Validate("not-a-token")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("other signing key", func(t *testing.T) {
		raw, _, err := New("another-key", "govconsent", "govconsent-api").Issue("cit-1", domain.RoleCitizen, time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = tokens.Validate(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("other audience", func(t *testing.T) {
		raw, _, err := New("test-signing-key", "govconsent", "someone-else").Issue("cit-1", domain.RoleCitizen, time.Now(), time.Hour)
		require.NoError(t, err)
		_, err = tokens.Validate(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "cit-1",
			ID:        "jti",
			Issuer:    "govconsent",
			Audience:  []string{"govconsent-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tokens.Validate(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestMiddlewareAdapter(t *testing.T) {
	raw, issued, err := tokens.Issue("svc-1", domain.RoleServiceProvider, time.Now(), time.Hour)
	require.NoError(t, err)

	claims, err := NewMiddlewareAdapter(tokens).ValidateToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "svc-1", claims.IdentityID)
	assert.Equal(t, issued.ID, claims.JTI)
}
