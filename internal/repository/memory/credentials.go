package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
)

type TenantStore struct {
	db *DB
}

func (s *TenantStore) Create(ctx context.Context, name, slug string, isActive bool) (*models.Tenant, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, t := range s.db.tenants {
		if t.Slug == slug {
			return nil, repository.ErrDuplicate
		}
	}
	now := s.db.now()
	t := models.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.db.tenants[t.ID] = t
	s.db.mark(t.ID)
	return &t, nil
}

func (s *TenantStore) GetByID(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, ok := s.db.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, t := range s.db.tenants {
		if t.Slug == slug {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *TenantStore) List(ctx context.Context) ([]models.Tenant, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]models.Tenant, 0, len(s.db.tenants))
	for _, t := range s.db.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return s.db.seq[out[i].ID] < s.db.seq[out[j].ID] })
	return out, nil
}

func (s *TenantStore) Update(ctx context.Context, tenantID uuid.UUID, upd repository.TenantUpdate) (*models.Tenant, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, ok := s.db.tenants[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Slug != nil && *upd.Slug != t.Slug {
		for _, other := range s.db.tenants {
			if other.Slug == *upd.Slug {
				return nil, repository.ErrDuplicate
			}
		}
		t.Slug = *upd.Slug
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.IsActive != nil {
		t.IsActive = *upd.IsActive
	}
	t.UpdatedAt = s.db.now()
	s.db.tenants[tenantID] = t
	return &t, nil
}

type UserStore struct {
	db *DB
}

func (s *UserStore) Create(ctx context.Context, u models.User) (*models.User, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, existing := range s.db.users {
		if existing.Email == u.Email {
			return nil, repository.ErrDuplicate
		}
	}
	now := s.db.now()
	u.ID = uuid.New()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.db.users[u.ID] = u
	s.db.mark(u.ID)
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, ok := s.db.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, u := range s.db.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) Update(ctx context.Context, userID uuid.UUID, upd repository.UserUpdate) (*models.User, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, ok := s.db.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	u.UpdatedAt = s.db.now()
	s.db.users[userID] = u
	return &u, nil
}
