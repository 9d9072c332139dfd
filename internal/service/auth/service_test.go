package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/jwt"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/password"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// Mocks

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func newTestService(users UserStore) *Service {
	manager := jwt.NewManager("test-secret-key-at-least-32-chars!!", 15*time.Minute, 24*time.Hour)
	return NewService(users, manager)
}

// Tests

func TestRegister(t *testing.T) {
	users := new(MockUserStore)
	users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)
	svc := newTestService(users)

	user, tokens, err := svc.Register(context.Background(), "alice", "alice@example.com", "Str0ngPassw0rd", "Alice")

	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "Str0ngPassw0rd", user.PasswordHash)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	users.AssertExpectations(t)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := newTestService(new(MockUserStore))

	_, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "short", "Alice")

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	users := new(MockUserStore)
	users.On("Create", mock.Anything, mock.Anything).Return(apperrors.UsernameExistsError())
	svc := newTestService(users)

	_, _, err := svc.Register(context.Background(), "alice", "alice@example.com", "Str0ngPassw0rd", "Alice")

	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	hash, err := password.Hash("Str0ngPassw0rd")
	require.NoError(t, err)

	users := new(MockUserStore)
	users.On("GetByUsername", mock.Anything, "alice").Return(&domain.User{
		Username:     "alice",
		PasswordHash: hash,
	}, nil)
	svc := newTestService(users)

	user, tokens, err := svc.Login(context.Background(), "alice", "Str0ngPassw0rd")

	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, tokens.AccessToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	hash, err := password.Hash("Str0ngPassw0rd")
	require.NoError(t, err)

	users := new(MockUserStore)
	users.On("GetByUsername", mock.Anything, "alice").Return(&domain.User{
		Username:     "alice",
		PasswordHash: hash,
	}, nil)
	svc := newTestService(users)

	_, _, err = svc.Login(context.Background(), "alice", "wrong")

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCreds))
}

func TestLogin_UnknownUser(t *testing.T) {
	users := new(MockUserStore)
	users.On("GetByUsername", mock.Anything, "ghost").Return(nil, apperrors.UserNotFoundError())
	svc := newTestService(users)

	// Unknown user and bad password are indistinguishable to the caller
	_, _, err := svc.Login(context.Background(), "ghost", "whatever")

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCreds))
}
