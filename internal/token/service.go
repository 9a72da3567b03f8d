package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer   = "voyaj-api"
	Audience = "voyaj-app"

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrExpired   = errors.New("token expired")
	ErrInvalid   = errors.New("token invalid")
	ErrWrongType = errors.New("wrong token type")
)

type Claims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Service mints and validates access/refresh token pairs. Access tokens carry
// full identity claims and a short TTL; refresh tokens carry only the subject
// and are signed with a separate secret so neither secret can forge the other
// kind.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewService(config Config) (*Service, error) {
	if len(config.AccessSecret) == 0 || len(config.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(config.AccessSecret) == string(config.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if config.AccessTTL <= 0 || config.RefreshTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}

	return &Service{
		accessSecret:  config.AccessSecret,
		refreshSecret: config.RefreshSecret,
		accessTTL:     config.AccessTTL,
		refreshTTL:    config.RefreshTTL,
	}, nil
}

func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Service) IssuePair(userID, email, role string) (Pair, error) {
	now := time.Now().UTC()

	// Claims have second precision, so without a jti two pairs minted in the
	// same second would be byte-identical and share one revocation fate.
	access, err := s.sign(Claims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}, s.accessSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := s.sign(Claims{
		UserID:    userID,
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}, s.refreshSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess validates signature, issuer, audience and expiry against the
// access secret. Expiry is checked even when the signature is valid.
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	claims, err := s.verify(raw, s.accessSecret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != typeAccess {
		return nil, ErrWrongType
	}

	return claims, nil
}

// VerifyRefresh validates raw against the refresh secret and returns the
// subject user id.
func (s *Service) VerifyRefresh(raw string) (string, error) {
	claims, err := s.verify(raw, s.refreshSecret)
	if err != nil {
		return "", err
	}
	if claims.TokenType != typeRefresh {
		return "", ErrWrongType
	}

	return claims.UserID, nil
}

// Rotate verifies the old refresh token and issues a fresh pair for its
// subject. Revoking the old token is the caller's responsibility.
func (s *Service) Rotate(oldRefresh, email, role string) (Pair, error) {
	userID, err := s.VerifyRefresh(oldRefresh)
	if err != nil {
		return Pair{}, err
	}

	return s.IssuePair(userID, email, role)
}

// RemainingLifetime decodes raw without verifying the signature and reports
// how long until its expiry claim, zero for garbage or already-expired input.
// It only sizes revocation TTLs and is never an authorization input.
func (s *Service) RemainingLifetime(raw string) time.Duration {
	claims, err := decodeUnverified(raw)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Subject decodes raw without verifying the signature and returns its user id
// claim. Only used to build cache keys; authorization always goes through
// VerifyAccess or a cache entry written after a successful VerifyAccess.
func (s *Service) Subject(raw string) (string, error) {
	claims, err := decodeUnverified(raw)
	if err != nil {
		return "", ErrInvalid
	}
	if claims.UserID == "" {
		return "", ErrInvalid
	}

	return claims.UserID, nil
}

func (s *Service) sign(claims Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Service) verify(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}

func decodeUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
