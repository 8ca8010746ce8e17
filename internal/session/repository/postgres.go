package repository

import (
	"context"
	"database/sql"
	"time"

	"skillforge/platform/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh-record repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, identity_id, secret_hash, expires_at, revoked_at, user_agent, ip_address, created_at`

// ListActiveByIdentity returns the identity's non-revoked, unexpired records.
func (r *PostgresRepository) ListActiveByIdentity(ctx context.Context, identityID string) ([]*domain.RefreshRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM refresh_records
		WHERE identity_id = $1 AND revoked_at IS NULL AND expires_at > $2`,
		identityID, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRevokedUnexpiredByIdentity returns revoked records whose expiry has not
// passed, for reuse detection.
func (r *PostgresRepository) ListRevokedUnexpiredByIdentity(ctx context.Context, identityID string) ([]*domain.RefreshRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM refresh_records
		WHERE identity_id = $1 AND revoked_at IS NOT NULL AND expires_at > $2`,
		identityID, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Create persists the record. The record must have ID and SecretHash set.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.RefreshRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_records (id, identity_id, secret_hash, expires_at, revoked_at, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.IdentityID,
		rec.SecretHash,
		rec.ExpiresAt,
		timeToNullTime(rec.RevokedAt),
		nullString(rec.UserAgent),
		nullString(rec.IPAddress),
		rec.CreatedAt,
	)
	return err
}

// Revoke marks the record revoked iff it is still active. The WHERE clause is
// the concurrency guarantee: two simultaneous rotations of one secret get
// exactly one row update between them.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_records SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeAllByIdentity revokes every active record of the identity
// ("logout everywhere"). Already-revoked records are untouched.
func (r *PostgresRepository) RevokeAllByIdentity(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_records SET revoked_at = $2
		WHERE identity_id = $1 AND revoked_at IS NULL`,
		identityID, time.Now().UTC(),
	)
	return err
}

func scanRecords(rows *sql.Rows) ([]*domain.RefreshRecord, error) {
	var out []*domain.RefreshRecord
	for rows.Next() {
		var (
			rec       domain.RefreshRecord
			revokedAt sql.NullTime
			ua, ip    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.SecretHash, &rec.ExpiresAt, &revokedAt, &ua, &ip, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RevokedAt = nullTimeToPtr(revokedAt)
		rec.UserAgent = ua.String
		rec.IPAddress = ip.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
