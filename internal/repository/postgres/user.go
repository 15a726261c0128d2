package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/ordersvc/internal/db"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
)

// UserStore persists users. Emails are unique across all tenants.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, tenant_id, email, name, password_hash, role, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.TenantID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.Role,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user row. Postgres generates the UUID and timestamps.
// A taken email surfaces as repository.ErrDuplicate via the unique index.
func (s *UserStore) Create(ctx context.Context, u models.User) (*models.User, error) {
	query := `
		INSERT INTO users (tenant_id, email, name, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + userColumns

	created, err := scanUser(db.Conn(ctx, s.pool).QueryRow(ctx, query,
		u.TenantID, u.Email, u.Name, u.PasswordHash, u.Role, u.IsActive))
	if err != nil {
		return nil, mapWriteErr("insert user", err)
	}
	return created, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(db.Conn(ctx, s.pool).QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByEmail looks up a user by email (globally, not tenant-scoped).
// Login only has the email to go on.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(db.Conn(ctx, s.pool).QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) Update(ctx context.Context, userID uuid.UUID, upd repository.UserUpdate) (*models.User, error) {
	query := `
		UPDATE users
		SET name = COALESCE($2, name),
		    role = COALESCE($3, role),
		    is_active = COALESCE($4, is_active),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(db.Conn(ctx, s.pool).QueryRow(ctx, query, userID, upd.Name, upd.Role, upd.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}
