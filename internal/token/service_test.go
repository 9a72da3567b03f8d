package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var (
	testAccessSecret  = []byte("access-secret-for-tests")
	testRefreshSecret = []byte("refresh-secret-for-tests")
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	service, err := NewService(Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return service
}

// signTestToken mints tokens the service itself would refuse to issue, like
// already-expired ones or tokens from a foreign issuer.
func signTestToken(t *testing.T, claims Claims, secret []byte) string {
	t.Helper()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

func registeredClaims(subject string, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	valid := Config{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing access secret", func(c *Config) { c.AccessSecret = nil }},
		{"missing refresh secret", func(c *Config) { c.RefreshSecret = nil }},
		{"identical secrets", func(c *Config) { c.RefreshSecret = c.AccessSecret }},
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"negative refresh ttl", func(c *Config) { c.RefreshTTL = -time.Hour }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid
			tc.mutate(&config)
			_, err := NewService(config)
			require.Error(t, err)
		})
	}

	_, err := NewService(valid)
	require.NoError(t, err)
}

func TestIssuePairAndVerifyAccess(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	pair, err := service.IssuePair("user-1", "ana@example.com", "user")
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int64(15*60), pair.ExpiresIn)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := service.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "ana@example.com", claims.Email)
	require.Equal(t, "user", claims.Role)
	require.Equal(t, "user-1", claims.Subject)
}

func TestVerifyRefreshReturnsSubject(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	pair, err := service.IssuePair("user-2", "ben@example.com", "user")
	require.NoError(t, err)

	userID, err := service.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-2", userID)
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	pair, err := service.IssuePair("user-3", "cal@example.com", "user")
	require.NoError(t, err)

	_, err = service.VerifyRefresh(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalid)

	// A refresh token presented as an access token fails the signature check
	// first; a refresh-typed token signed with the access secret fails on type.
	_, err = service.VerifyAccess(pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalid)

	forged := signTestToken(t, Claims{
		UserID:           "user-3",
		TokenType:        typeRefresh,
		RegisteredClaims: registeredClaims("user-3", time.Now().Add(time.Hour)),
	}, testAccessSecret)
	_, err = service.VerifyAccess(forged)
	require.ErrorIs(t, err, ErrWrongType)
}

func TestVerifyRejectsExpiredDespiteValidSignature(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	expired := signTestToken(t, Claims{
		UserID:           "user-4",
		TokenType:        typeAccess,
		RegisteredClaims: registeredClaims("user-4", time.Now().Add(-time.Minute)),
	}, testAccessSecret)

	_, err := service.VerifyAccess(expired)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsBadSignatureAndGarbage(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	tampered := signTestToken(t, Claims{
		UserID:           "user-5",
		TokenType:        typeAccess,
		RegisteredClaims: registeredClaims("user-5", time.Now().Add(time.Hour)),
	}, []byte("some-other-secret"))

	_, err := service.VerifyAccess(tampered)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = service.VerifyAccess("not.a.token")
	require.ErrorIs(t, err, ErrInvalid)

	_, err = service.VerifyAccess("")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsForeignIssuerAndAudience(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	wrongIssuer := registeredClaims("user-6", time.Now().Add(time.Hour))
	wrongIssuer.Issuer = "someone-else"
	raw := signTestToken(t, Claims{
		UserID:           "user-6",
		TokenType:        typeAccess,
		RegisteredClaims: wrongIssuer,
	}, testAccessSecret)
	_, err := service.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrInvalid)

	wrongAudience := registeredClaims("user-6", time.Now().Add(time.Hour))
	wrongAudience.Audience = jwt.ClaimStrings{"other-app"}
	raw = signTestToken(t, Claims{
		UserID:           "user-6",
		TokenType:        typeAccess,
		RegisteredClaims: wrongAudience,
	}, testAccessSecret)
	_, err = service.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRequiresExpiryClaim(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	claims := registeredClaims("user-7", time.Now().Add(time.Hour))
	claims.ExpiresAt = nil
	raw := signTestToken(t, Claims{
		UserID:           "user-7",
		TokenType:        typeAccess,
		RegisteredClaims: claims,
	}, testAccessSecret)

	_, err := service.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestRotateIssuesFreshPairForSubject(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	original, err := service.IssuePair("user-8", "dee@example.com", "user")
	require.NoError(t, err)

	rotated, err := service.Rotate(original.RefreshToken, "dee@example.com", "user")
	require.NoError(t, err)

	claims, err := service.VerifyAccess(rotated.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-8", claims.UserID)

	userID, err := service.VerifyRefresh(rotated.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-8", userID)
}

func TestRotateRejectsAccessToken(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	pair, err := service.IssuePair("user-9", "eli@example.com", "user")
	require.NoError(t, err)

	_, err = service.Rotate(pair.AccessToken, "eli@example.com", "user")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestRemainingLifetime(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	pair, err := service.IssuePair("user-10", "fay@example.com", "user")
	require.NoError(t, err)

	remaining := service.RemainingLifetime(pair.AccessToken)
	require.Greater(t, remaining, 14*time.Minute)
	require.LessOrEqual(t, remaining, 15*time.Minute)

	expired := signTestToken(t, Claims{
		UserID:           "user-10",
		TokenType:        typeAccess,
		RegisteredClaims: registeredClaims("user-10", time.Now().Add(-time.Hour)),
	}, testAccessSecret)
	require.Equal(t, time.Duration(0), service.RemainingLifetime(expired))

	require.Equal(t, time.Duration(0), service.RemainingLifetime("garbage"))
}

func TestSubjectDecodesWithoutVerification(t *testing.T) {
	t.Parallel()
	service := newTestService(t)

	// Signed with the wrong secret on purpose: Subject only decodes.
	raw := signTestToken(t, Claims{
		UserID:           "user-11",
		TokenType:        typeAccess,
		RegisteredClaims: registeredClaims("user-11", time.Now().Add(time.Hour)),
	}, []byte("unrelated-secret"))

	subject, err := service.Subject(raw)
	require.NoError(t, err)
	require.Equal(t, "user-11", subject)

	_, err = service.Subject("garbage")
	require.ErrorIs(t, err, ErrInvalid)

	noUID := signTestToken(t, Claims{
		TokenType:        typeAccess,
		RegisteredClaims: registeredClaims("", time.Now().Add(time.Hour)),
	}, testAccessSecret)
	_, err = service.Subject(noUID)
	require.ErrorIs(t, err, ErrInvalid)
}
