package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"voyaj-api/internal/cache"
	"voyaj-api/internal/observability"
	"voyaj-api/internal/session"
	"voyaj-api/internal/token"
)

var (
	gateAccessSecret  = []byte("gate-test-access-secret")
	gateRefreshSecret = []byte("gate-test-refresh-secret")
)

type gateFixture struct {
	gate     *Gate
	tokens   *token.Service
	sessions *session.Store
	cache    *cache.Cache
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	c := cache.New(cache.Options{MaxEntries: 100, CleanupInterval: time.Hour})
	t.Cleanup(c.Close)

	tokens, err := token.NewService(token.Config{
		AccessSecret:  gateAccessSecret,
		RefreshSecret: gateRefreshSecret,
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)

	sessions := session.NewStore(c, tokens)
	logger := observability.NewLogger(observability.LevelError)

	return &gateFixture{
		gate:     NewGate(tokens, sessions, logger, 15*time.Minute),
		tokens:   tokens,
		sessions: sessions,
		cache:    c,
	}
}

// echoIdentity reports the resolved identity, or anonymous when none was set.
func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"anonymous": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": identity.UserID, "email": identity.Email})
	})
}

func doRequest(t *testing.T, handler http.Handler, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func expiredAccessToken(t *testing.T, userID string) string {
	t.Helper()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
		UserID:    userID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    token.Issuer,
			Audience:  jwt.ClaimStrings{token.Audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString(gateAccessSecret)
	require.NoError(t, err)
	return raw
}

func TestAuthenticateMissingToken(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	w := doRequest(t, handler, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "authentication token required", decodeBody(t, w)["error"])

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateValidToken(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	pair, err := fx.tokens.IssuePair("user-1", "ana@example.com", "user")
	require.NoError(t, err)

	w := doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, "user-1", body["user_id"])
	require.Equal(t, "ana@example.com", body["email"])

	// The verified identity is now cached for this exact credential.
	_, ok := fx.sessions.LookupIdentity(pair.AccessToken)
	require.True(t, ok)

	// A second request is served from the cache.
	w = doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", decodeBody(t, w)["user_id"])
}

func TestAuthenticateRevokedToken(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	pair, err := fx.tokens.IssuePair("user-2", "ben@example.com", "user")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, doRequest(t, handler, pair.AccessToken).Code)

	fx.sessions.Revoke(pair.AccessToken)

	// Revocation wins even though the identity is still cached.
	w := doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "token revoked", decodeBody(t, w)["error"])
}

func TestAuthenticateExpiredToken(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	w := doRequest(t, handler, expiredAccessToken(t, "user-3"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "token expired", decodeBody(t, w)["error"])
}

func TestAuthenticateCachedIdentityDiesWithToken(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	// A token about to expire naturally. Claim timestamps have second
	// precision, so the actual lifetime lands between 0.2s and 1.2s.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
		UserID:    "user-10",
		Email:     "gus@example.com",
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-10",
			Issuer:    token.Issuer,
			Audience:  jwt.ClaimStrings{token.Audience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1200 * time.Millisecond)),
		},
	}).SignedString(gateAccessSecret)
	require.NoError(t, err)

	// First request verifies and caches the identity.
	w := doRequest(t, handler, raw)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := fx.sessions.LookupIdentity(raw)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	// Past natural expiry the cached entry must be gone too; a hit here
	// would authenticate an expired credential.
	w = doRequest(t, handler, raw)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "token expired", decodeBody(t, w)["error"])
}

func TestAuthenticateRefreshTokenRejected(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	pair, err := fx.tokens.IssuePair("user-4", "cal@example.com", "user")
	require.NoError(t, err)

	// Signed with the refresh secret, so it fails verification outright.
	w := doRequest(t, handler, pair.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "invalid token", decodeBody(t, w)["error"])
}

func TestAuthenticateGarbageToken(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(echoIdentity())

	w := doRequest(t, handler, "not.a.token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "invalid token", decodeBody(t, w)["error"])

	// Failed verification must not poison the cache.
	require.Equal(t, 0, fx.cache.Len())
}

func TestOptionalAuthenticate(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.OptionalAuthenticate(echoIdentity())

	w := doRequest(t, handler, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["anonymous"])

	w = doRequest(t, handler, "garbage")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["anonymous"])

	pair, err := fx.tokens.IssuePair("user-5", "dee@example.com", "user")
	require.NoError(t, err)
	w = doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-5", decodeBody(t, w)["user_id"])
}

func TestRateLimitPerIdentity(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.Authenticate(fx.gate.RateLimit(2, time.Minute)(echoIdentity()))

	pair, err := fx.tokens.IssuePair("user-6", "eli@example.com", "user")
	require.NoError(t, err)

	first := doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := doRequest(t, handler, pair.AccessToken)
	require.Equal(t, http.StatusTooManyRequests, third.Code)
	require.Equal(t, "rate limit exceeded", decodeBody(t, third)["error"])

	// Another user has an independent counter.
	other, err := fx.tokens.IssuePair("user-7", "fay@example.com", "user")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, doRequest(t, handler, other.AccessToken).Code)
}

func TestRateLimitSkipsAnonymous(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.OptionalAuthenticate(fx.gate.RateLimit(1, time.Minute)(echoIdentity()))

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, doRequest(t, handler, "").Code)
	}
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()
	fx := newGateFixture(t)
	handler := fx.gate.RateLimitByIP(2, time.Minute)(echoIdentity())

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)
	require.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)

	blocked := send("10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, blocked.Code)
	require.Equal(t, "60", blocked.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)
}

func TestBearerTokenParsing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"standard", "Bearer abc123", "abc123", true},
		{"lowercase scheme", "bearer abc123", "abc123", true},
		{"surrounding space", "  Bearer abc123  ", "abc123", true},
		{"empty", "", "", false},
		{"no scheme", "abc123", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"scheme only", "Bearer ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := bearerToken(r)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
