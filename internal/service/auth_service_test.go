package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil // not used in auth tests
}

func (m *MockUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool, lastSeen *time.Time) error {
	args := m.Called(ctx, id, isOnline, lastSeen)
	return args.Error(0)
}

func TestRegister(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "newuser").Return(nil, nil)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.HashedPassword != "Password1!"
		})).Return(nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "newuser",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.NotNil(t, user)
		assert.Equal(t, "newuser", user.Username)
		mockRepo.AssertExpectations(t)
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		existing := &domain.User{Username: "existing"}
		mockRepo.On("GetByUsername", mock.Anything, "existing").Return(existing, nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("MissingFields", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		user, err := svc.Register(context.Background(), service.RegisterInput{Username: "nopass"})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestLogin(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4)

	hashed, _ := hasher.Hash("Password1!")
	stored := &domain.User{ID: 7, Username: "alice", HashedPassword: hashed, IsActive: true}

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "alice",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.Equal(t, "bearer", resp.TokenType)

		id, err := tokenSvc.ParseUserID(resp.AccessToken)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), id)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "alice",
			Password: "wrong",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "ghost",
			Password: "whatever",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("InactiveUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		inactive := &domain.User{ID: 8, Username: "gone", HashedPassword: hashed, IsActive: false}
		mockRepo.On("GetByUsername", mock.Anything, "gone").Return(inactive, nil)

		resp, err := svc.Login(context.Background(), service.LoginInput{
			Username: "gone",
			Password: "Password1!",
		})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
