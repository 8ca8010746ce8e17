package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"skillforge/platform/internal/identity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository backed by the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const identityColumns = `id, email, name, password_hash, role, department_id, created_at, updated_at`

// GetByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// GetByEmail returns the identity with the given (already normalized) email,
// or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	return scanIdentity(row)
}

// Create persists the identity. The identity must have ID set; it is not
// assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, name, password_hash, role, department_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.ID,
		i.Email,
		nullString(i.Name),
		i.PasswordHash,
		string(i.Role),
		nullString(i.DepartmentID),
		i.CreatedAt,
		i.UpdatedAt,
	)
	return err
}

// UpdatePassword replaces the stored password hash for id.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC(),
	)
	return err
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var (
		i          domain.Identity
		name, dept sql.NullString
		role       string
	)
	err := row.Scan(&i.ID, &i.Email, &name, &i.PasswordHash, &role, &dept, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.Name = name.String
	i.DepartmentID = dept.String
	i.Role = domain.Role(role)
	return &i, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
