package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/jwt"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/password"
)

// UserStore persists user accounts
type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Service handles account registration and login. This is supporting glue
// around the lifecycle engine: it issues the authenticated actor identity
// the conversation and message managers consume.
type Service struct {
	users      UserStore
	jwtManager *jwt.Manager
}

// NewService creates a new auth service
func NewService(users UserStore, jwtManager *jwt.Manager) *Service {
	return &Service{
		users:      users,
		jwtManager: jwtManager,
	}
}

// TokenPair contains an access and refresh token
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Register creates a new account and issues tokens
func (s *Service) Register(ctx context.Context, username, email, plaintext, displayName string) (*domain.User, *TokenPair, error) {
	if username == "" || email == "" {
		return nil, nil, apperrors.InvalidInputError("username and email are required")
	}
	if err := password.ValidateStrength(plaintext); err != nil {
		return nil, nil, apperrors.ValidationError(err.Error())
	}

	hash, err := password.Hash(plaintext)
	if err != nil {
		return nil, nil, apperrors.InternalError("failed to hash password")
	}

	user := &domain.User{
		UserID:       uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("user registered", zap.String("user_id", user.UserID.String()))

	return user, tokens, nil
}

// Login verifies credentials and issues tokens
func (s *Service) Login(ctx context.Context, username, plaintext string) (*domain.User, *TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeUserNotFound) {
			return nil, nil, apperrors.InvalidCredentialsError()
		}
		return nil, nil, err
	}

	if !password.Verify(plaintext, user.PasswordHash) {
		return nil, nil, apperrors.InvalidCredentialsError()
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}

	return user, tokens, nil
}

func (s *Service) issueTokens(user *domain.User) (*TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.UserID, user.Username)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue access token")
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.UserID)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
