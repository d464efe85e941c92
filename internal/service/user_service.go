package service

import (
	"context"

	"chatcore/internal/domain"
)

// UserService exposes read operations over users.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.users.ListActive(ctx, offset, limit)
}

func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListOnline(ctx)
}
