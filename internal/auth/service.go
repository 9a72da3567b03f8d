package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"voyaj-api/internal/email"
	"voyaj-api/internal/observability"
	"voyaj-api/internal/session"
	"voyaj-api/internal/token"
)

const (
	defaultVerifyCodeTTL = 24 * time.Hour
	defaultResetCodeTTL  = 10 * time.Minute
	defaultIdentityTTL   = 15 * time.Minute

	roleUser = "user"
)

// UserStore is the durable-storage collaborator. The Repository implements it
// against Postgres; tests substitute an in-memory fake.
type UserStore interface {
	Create(ctx context.Context, user User) error
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id, name, bio string) error
	SetEmailVerified(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
}

type Service struct {
	store    UserStore
	tokens   *token.Service
	sessions *session.Store
	mailer   email.Sender
	logger   *observability.Logger

	verifyCodeTTL time.Duration
	resetCodeTTL  time.Duration
	identityTTL   time.Duration
}

func NewService(store UserStore, tokens *token.Service, sessions *session.Store, mailer email.Sender, logger *observability.Logger) *Service {
	return &Service{
		store:         store,
		tokens:        tokens,
		sessions:      sessions,
		mailer:        mailer,
		logger:        logger,
		verifyCodeTTL: defaultVerifyCodeTTL,
		resetCodeTTL:  defaultResetCodeTTL,
		identityTTL:   defaultIdentityTTL,
	}
}

type RegisterResult struct {
	User   Profile    `json:"user"`
	Tokens token.Pair `json:"tokens"`
}

func (s *Service) Register(ctx context.Context, emailAddr, password, name string) (RegisterResult, error) {
	emailAddr = normalizeEmail(emailAddr)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return RegisterResult{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	user := User{
		ID:           id.String(),
		Email:        emailAddr,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		Role:         roleUser,
		CreatedAt:    time.Now().UTC(),
	}
	user.UpdatedAt = user.CreatedAt

	if err := s.store.Create(ctx, user); err != nil {
		return RegisterResult{}, err
	}

	s.queueVerificationCode(user.Email)

	pair, err := s.issueTrackedPair(user)
	if err != nil {
		return RegisterResult{}, err
	}

	return RegisterResult{User: user.profile(), Tokens: pair}, nil
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (token.Pair, error) {
	user, err := s.activeUserByEmail(ctx, emailAddr)
	if err != nil {
		return token.Pair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return token.Pair{}, ErrInvalidCredentials
	}

	return s.issueTrackedPair(user)
}

// Refresh rotates a credential pair: the presented refresh token is checked
// against the blacklist, verified, and revoked once the new pair exists.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	if s.sessions.IsRevoked(refreshToken) {
		return token.Pair{}, ErrTokenRevoked
	}

	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return token.Pair{}, err
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return token.Pair{}, err
	}
	if user.DeletedAt != nil {
		return token.Pair{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.Rotate(refreshToken, user.Email, user.Role)
	if err != nil {
		return token.Pair{}, err
	}

	s.sessions.Revoke(refreshToken)
	s.sessions.UntrackRefresh(user.ID, refreshToken)
	s.sessions.TrackRefresh(user.ID, pair.RefreshToken)

	return pair, nil
}

// Logout revokes both presented credentials and drops the cached identity so
// neither token is accepted again within its lifetime.
func (s *Service) Logout(userID, accessToken, refreshToken string) {
	s.sessions.Revoke(accessToken)
	if refreshToken != "" {
		s.sessions.Revoke(refreshToken)
	}
	s.sessions.InvalidateIdentity(userID)
}

func (s *Service) VerifyEmail(ctx context.Context, emailAddr, code string) error {
	emailAddr = normalizeEmail(emailAddr)
	if !s.sessions.ConsumeVerificationCode(emailAddr, code) {
		return ErrInvalidCode
	}

	user, err := s.store.GetByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}

	if err := s.store.SetEmailVerified(ctx, user.ID); err != nil {
		return err
	}

	s.sessions.InvalidateIdentity(user.ID)
	return nil
}

func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	s.queueVerificationCode(user.Email)
	return nil
}

// ForgotPassword never reveals whether the address exists.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)

	user, err := s.store.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.DeletedAt != nil {
		return nil
	}

	code, err := randomCode()
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}

	s.sessions.StoreResetCode(emailAddr, code, s.resetCodeTTL)
	s.deliver(func(ctx context.Context) error {
		return s.mailer.SendPasswordResetCode(ctx, emailAddr, code)
	})

	return nil
}

func (s *Service) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	emailAddr = normalizeEmail(emailAddr)
	if !s.sessions.ConsumeResetCode(emailAddr, code) {
		return ErrInvalidCode
	}

	user, err := s.store.GetByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}

	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	return s.setPassword(ctx, userID, newPassword)
}

// setPassword updates the hash and fences every outstanding credential: all
// tracked refresh tokens are revoked and the cached identity is dropped.
func (s *Service) setPassword(ctx context.Context, userID, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	revoked := s.sessions.RevokeRefreshTokens(userID)
	s.sessions.InvalidateIdentity(userID)
	s.logger.Info("password_changed", map[string]any{"user_id": userID, "revoked_refresh_tokens": revoked})

	return nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if user.DeletedAt != nil {
		return Profile{}, ErrUserNotFound
	}

	return user.profile(), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, name, bio string) (Profile, error) {
	if err := s.store.UpdateProfile(ctx, userID, strings.TrimSpace(name), strings.TrimSpace(bio)); err != nil {
		return Profile{}, err
	}

	s.sessions.InvalidateIdentity(userID)
	return s.GetProfile(ctx, userID)
}

func (s *Service) DeleteAccount(ctx context.Context, userID, accessToken string) error {
	if err := s.store.SoftDelete(ctx, userID); err != nil {
		return err
	}

	s.sessions.RevokeRefreshTokens(userID)
	s.sessions.Revoke(accessToken)
	s.sessions.InvalidateIdentity(userID)
	s.logger.Info("account_deleted", map[string]any{"user_id": userID})

	return nil
}

// IsEmailVerified answers from the identity-namespace cache so verified-only
// endpoints skip the storage round trip; InvalidateIdentity clears it.
func (s *Service) IsEmailVerified(ctx context.Context, userID string) (bool, error) {
	value, err := s.sessions.GetOrComputeUserFact(userID, "email_verified", func() (any, error) {
		user, err := s.store.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return user.EmailVerified, nil
	}, s.identityTTL)
	if err != nil {
		return false, err
	}

	verified, _ := value.(bool)
	return verified, nil
}

func (s *Service) activeUserByEmail(ctx context.Context, emailAddr string) (User, error) {
	user, err := s.store.GetByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if user.DeletedAt != nil {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

func (s *Service) issueTrackedPair(user User) (token.Pair, error) {
	pair, err := s.tokens.IssuePair(user.ID, user.Email, user.Role)
	if err != nil {
		return token.Pair{}, err
	}

	s.sessions.TrackRefresh(user.ID, pair.RefreshToken)
	return pair, nil
}

func (s *Service) queueVerificationCode(emailAddr string) {
	code, err := randomCode()
	if err != nil {
		s.logger.Error("generate_verification_code_failed", map[string]any{"error": err.Error()})
		return
	}

	s.sessions.StoreVerificationCode(emailAddr, code, s.verifyCodeTTL)
	s.deliver(func(ctx context.Context) error {
		return s.mailer.SendVerificationCode(ctx, emailAddr, code)
	})
}

// deliver runs a mail send off the request path. Failures are logged, never
// surfaced: the codes stay valid and can be re-requested.
func (s *Service) deliver(send func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := send(ctx); err != nil {
			s.logger.Error("email_send_failed", map[string]any{"error": err.Error()})
		}
	}()
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
