package repository

import (
	"context"

	"skillforge/platform/internal/session/domain"
)

// Repository defines persistence for refresh records. Rotation never mutates
// a live secret: it revokes the consumed record and creates a fresh one.
type Repository interface {
	// ListActiveByIdentity returns the identity's non-revoked, unexpired records.
	ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.RefreshRecord, error)
	// ListRevokedUnexpiredByIdentity returns records that were revoked but whose
	// natural expiry has not passed. Used for reuse detection only.
	ListRevokedUnexpiredByIdentity(ctx context.Context, identityID string) ([]*domain.RefreshRecord, error)
	Create(ctx context.Context, r *domain.RefreshRecord) error
	// Revoke marks the record revoked iff it is currently active. The boolean
	// reports whether this call consumed the record; under concurrent rotation
	// of one secret exactly one caller observes true.
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllByIdentity(ctx context.Context, identityID string) error
}
