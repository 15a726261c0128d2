package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
	"go.uber.org/zap"
)

// The operations below are cross-tenant. Routes that reach them are guarded
// by RequireRoles(models.RoleSuperAdmin).

// ListTenants returns every tenant, active or not.
func (s *Service) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// UpdateTenant renames or (de)activates a tenant. Deactivating one locks
// all of its users out on their next request, since every request re-checks
// the tenant.
func (s *Service) UpdateTenant(ctx context.Context, tenantID uuid.UUID, upd repository.TenantUpdate) (*models.Tenant, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperr.New(apperr.KindValidation, "tenant name must not be empty")
		}
		upd.Name = &name
	}
	t, err := s.tenants.Update(ctx, tenantID, upd)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrTenantNotFound
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperr.New(apperr.KindConflict, "tenant slug already taken")
	}
	if err != nil {
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	s.logger.Info("tenant updated", zap.String("tenant_id", tenantID.String()))
	return t, nil
}

// UpdateUser changes a user's name, role or active flag in any tenant.
func (s *Service) UpdateUser(ctx context.Context, userID uuid.UUID, upd repository.UserUpdate) (*models.User, error) {
	u, err := s.users.Update(ctx, userID, upd)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.logger.Info("user updated", zap.String("user_id", userID.String()))
	return u, nil
}

// EnsureSuperAdmin creates a SUPER_ADMIN in the tenant named tenantName,
// creating the tenant first if needed. An existing user with the same email
// is promoted and reactivated instead; its password is left unchanged.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, password, name, tenantName string) (*models.User, error) {
	var user *models.User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			role, active := models.RoleSuperAdmin, true
			user, err = s.users.Update(ctx, existing.ID, repository.UserUpdate{Role: &role, IsActive: &active})
			return err
		}

		tenant, err := s.tenants.GetBySlug(ctx, Slugify(tenantName))
		if err != nil {
			return err
		}
		if tenant == nil {
			if tenant, err = s.createTenant(ctx, tenantName); err != nil {
				return err
			}
		}

		hash, err := s.hasher.Hash(password)
		if err != nil {
			return hashFailure("hash admin password", err)
		}
		user, err = s.users.Create(ctx, models.User{
			TenantID:     tenant.ID,
			Email:        email,
			Name:         name,
			PasswordHash: hash,
			Role:         models.RoleSuperAdmin,
			IsActive:     true,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure super admin: %w", err)
	}
	return user, nil
}
