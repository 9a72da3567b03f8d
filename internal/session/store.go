package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"voyaj-api/internal/cache"
	"voyaj-api/internal/token"
)

// Key namespaces inside the shared cache. One cache instance holds them all;
// the prefixes keep the partitions disjoint.
const (
	identityPrefix  = "identity:"
	blacklistPrefix = "blacklist:"
	ratePrefix      = "rate:"
	refreshPrefix   = "refresh:"
	verifyPrefix    = "verify:"
	resetPrefix     = "reset:"
)

// Store layers session, revocation and rate bookkeeping over one expiring
// cache. It is an optimization and a best-effort denylist, never a source of
// truth: a cache miss falls back to cryptographic verification, and a process
// restart forgets revocations not persisted elsewhere.
type Store struct {
	cache  *cache.Cache
	tokens *token.Service
}

func NewStore(c *cache.Cache, tokens *token.Service) *Store {
	return &Store{cache: c, tokens: tokens}
}

// CacheIdentity records verified claims for the exact credential they were
// derived from. The key binds user id and credential digest together, so a
// lookup can only hit for a credential that already passed VerifyAccess. The
// entry never outlives the credential: its ttl is capped at the expiry claim,
// so a cache hit can never resurrect a naturally-expired token.
func (s *Store) CacheIdentity(credential string, claims *token.Claims, ttl time.Duration) {
	if claims == nil || claims.UserID == "" {
		return
	}
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining < ttl {
			ttl = remaining
		}
	}
	s.cache.Set(identityKey(claims.UserID, credential), *claims, ttl)
}

func (s *Store) LookupIdentity(credential string) (*token.Claims, bool) {
	userID, err := s.tokens.Subject(credential)
	if err != nil {
		return nil, false
	}

	value, ok := s.cache.Get(identityKey(userID, credential))
	if !ok {
		return nil, false
	}

	claims, ok := value.(token.Claims)
	if !ok {
		return nil, false
	}
	return &claims, true
}

// InvalidateIdentity drops every cached claim set for userID, forcing the
// next request to re-derive fresh claims. Every identity-mutating operation
// must call this or stale role/status is served until the TTL lapses.
func (s *Store) InvalidateIdentity(userID string) int {
	return s.cache.InvalidatePrefix(identityPrefix + userID + ":")
}

// Revoke blacklists a credential for exactly its remaining validity. Revoking
// an already-expired credential is a no-op: expiry rejects it anyway.
func (s *Store) Revoke(credential string) {
	remaining := s.tokens.RemainingLifetime(credential)
	if remaining <= 0 {
		return
	}
	s.cache.Set(blacklistPrefix+digest(credential), true, remaining)
}

// IsRevoked reports whether credential is known to be revoked. A miss means
// "not known revoked"; validity is still gated by verification and expiry.
func (s *Store) IsRevoked(credential string) bool {
	return s.cache.Has(blacklistPrefix + digest(credential))
}

// RecordRequest bumps the windowed counter for (userID, routeKey) and returns
// the post-increment count. The window starts at the first hit and is not
// extended by later ones.
func (s *Store) RecordRequest(userID, routeKey string, window time.Duration) int64 {
	return s.cache.Increment(ratePrefix+userID+":"+routeKey, window)
}

// TrackRefresh remembers an outstanding refresh credential for userID so a
// password change can revoke all of them. The entry lives as long as the
// credential itself.
func (s *Store) TrackRefresh(userID, credential string) {
	remaining := s.tokens.RemainingLifetime(credential)
	if remaining <= 0 {
		return
	}
	s.cache.Set(refreshPrefix+userID+":"+digest(credential), credential, remaining)
}

// UntrackRefresh forgets the tracking entry for a spent credential so a later
// RevokeRefreshTokens does not re-revoke it.
func (s *Store) UntrackRefresh(userID, credential string) {
	s.cache.Delete(refreshPrefix + userID + ":" + digest(credential))
}

// RevokeRefreshTokens blacklists every tracked refresh credential for userID
// and forgets the tracking entries. Returns how many were revoked.
func (s *Store) RevokeRefreshTokens(userID string) int {
	prefix := refreshPrefix + userID + ":"

	revoked := 0
	s.cache.Range(func(key string, value any) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		if credential, ok := value.(string); ok {
			s.Revoke(credential)
			revoked++
		}
		return true
	})

	s.cache.InvalidatePrefix(prefix)
	return revoked
}

// GetOrComputeUserFact caches an auxiliary per-user fact under the identity
// namespace, so InvalidateIdentity drops it together with the cached claims.
func (s *Store) GetOrComputeUserFact(userID, name string, fn func() (any, error), ttl time.Duration) (any, error) {
	return s.cache.GetOrCompute(identityPrefix+userID+":fact:"+name, fn, ttl)
}

// StoreVerificationCode keeps an email-verification code for email, replacing
// any previous one.
func (s *Store) StoreVerificationCode(email, code string, ttl time.Duration) {
	s.cache.Set(verifyPrefix+email, code, ttl)
}

// ConsumeVerificationCode checks code against the stored one and deletes it on
// a match, so a code is usable at most once.
func (s *Store) ConsumeVerificationCode(email, code string) bool {
	return s.consumeCode(verifyPrefix+email, code)
}

func (s *Store) StoreResetCode(email, code string, ttl time.Duration) {
	s.cache.Set(resetPrefix+email, code, ttl)
}

func (s *Store) ConsumeResetCode(email, code string) bool {
	return s.consumeCode(resetPrefix+email, code)
}

func (s *Store) consumeCode(key, code string) bool {
	value, ok := s.cache.Get(key)
	if !ok {
		return false
	}

	stored, ok := value.(string)
	if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return false
	}

	s.cache.Delete(key)
	return true
}

func identityKey(userID, credential string) string {
	return identityPrefix + userID + ":" + digest(credential)
}

// digest keeps raw credentials out of cache keys.
func digest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
