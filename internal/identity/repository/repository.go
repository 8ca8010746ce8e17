package repository

import (
	"context"

	"skillforge/platform/internal/identity/domain"
)

// Repository defines persistence for identities.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}
