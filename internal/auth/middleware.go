package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voyaj-api/internal/observability"
	"voyaj-api/internal/session"
	"voyaj-api/internal/token"
)

// Gate authenticates incoming requests: it extracts the bearer token, rejects
// revoked tokens, resolves identity from the session cache and only falls back
// to full signature verification on a cache miss.
type Gate struct {
	tokens      *token.Service
	sessions    *session.Store
	logger      *observability.Logger
	identityTTL time.Duration
}

func NewGate(tokens *token.Service, sessions *session.Store, logger *observability.Logger, identityTTL time.Duration) *Gate {
	if identityTTL <= 0 {
		identityTTL = 15 * time.Minute
	}

	return &Gate{
		tokens:      tokens,
		sessions:    sessions,
		logger:      logger,
		identityTTL: identityTTL,
	}
}

func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication token required")
			return
		}

		identity, err := g.resolve(credential)
		if err != nil {
			g.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// OptionalAuthenticate runs the same machine as Authenticate but a missing or
// rejected token continues the request anonymously instead of terminating it.
func (g *Gate) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := g.resolve(credential)
		if err != nil {
			g.logger.Debug("optional_auth_skipped", map[string]any{"reason": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// RateLimit caps authenticated requests per identity and route within a
// window. It composes after Authenticate; anonymous requests pass through.
func (g *Gate) RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			count := g.sessions.RecordRequest(identity.UserID, routeKey(r), window)

			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", time.Now().UTC().Add(window).Format(time.RFC3339))

			if count > int64(limit) {
				g.logger.Warn("rate_limit_exceeded", map[string]any{
					"user_id": identity.UserID,
					"route":   routeKey(r),
				})
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP caps unauthenticated endpoints (login, register, password
// reset) per client address through the same windowed counters.
func (g *Gate) RateLimitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := observability.ClientIP(r)
			count := g.sessions.RecordRequest("ip:"+ip, routeKey(r), window)
			if count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) resolve(credential string) (Identity, error) {
	if g.sessions.IsRevoked(credential) {
		return Identity{}, ErrTokenRevoked
	}

	if claims, ok := g.sessions.LookupIdentity(credential); ok {
		return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
	}

	claims, err := g.tokens.VerifyAccess(credential)
	if err != nil {
		return Identity{}, err
	}

	g.sessions.CacheIdentity(credential, claims, g.identityTTL)
	return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token revoked")
	case errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, token.ErrWrongType):
		writeError(w, http.StatusUnauthorized, "invalid token type")
	default:
		g.logger.Debug("auth_rejected", map[string]any{
			"path": r.URL.Path,
			"ip":   observability.ClientIP(r),
		})
		writeError(w, http.StatusUnauthorized, "invalid token")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", false
	}

	return tokenStr, true
}

func routeKey(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}
