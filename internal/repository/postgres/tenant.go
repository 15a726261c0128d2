package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/ordersvc/internal/db"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
)

const uniqueViolation = "23505"

// mapWriteErr turns a unique-constraint violation into repository.ErrDuplicate
// so callers never import pgconn.
func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, repository.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// TenantStore persists tenants. Slugs are unique.
type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

const tenantColumns = `id, name, slug, is_active, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TenantStore) Create(ctx context.Context, name, slug string, isActive bool) (*models.Tenant, error) {
	query := `
		INSERT INTO tenants (name, slug, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING ` + tenantColumns

	t, err := scanTenant(db.Conn(ctx, s.pool).QueryRow(ctx, query, name, slug, isActive))
	if err != nil {
		return nil, mapWriteErr("insert tenant", err)
	}
	return t, nil
}

func (s *TenantStore) GetByID(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	t, err := scanTenant(db.Conn(ctx, s.pool).QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`

	t, err := scanTenant(db.Conn(ctx, s.pool).QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant by slug: %w", err)
	}
	return t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at`

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// Update applies only the non-nil fields. COALESCE keeps the stored value
// for fields the caller left out.
func (s *TenantStore) Update(ctx context.Context, tenantID uuid.UUID, upd repository.TenantUpdate) (*models.Tenant, error) {
	query := `
		UPDATE tenants
		SET name = COALESCE($2, name),
		    slug = COALESCE($3, slug),
		    is_active = COALESCE($4, is_active),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + tenantColumns

	t, err := scanTenant(db.Conn(ctx, s.pool).QueryRow(ctx, query, tenantID, upd.Name, upd.Slug, upd.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapWriteErr("update tenant", err)
	}
	return t, nil
}
