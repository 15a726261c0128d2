package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/lalith-99/ordersvc/internal/repository"
	"go.uber.org/zap"
)

// Service is the authentication service: login, self-service registration
// and per-request principal validation. Passwords and tokens are never
// logged.
type Service struct {
	users   repository.UserRepository
	tenants repository.TenantRepository
	tx      repository.TxManager
	hasher  Hasher
	tokens  *TokenManager
	logger  *zap.Logger
	metrics *observ.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// NewService builds the auth service. metrics may be nil.
func NewService(
	users repository.UserRepository,
	tenants repository.TenantRepository,
	tx repository.TxManager,
	hasher Hasher,
	tokens *TokenManager,
	logger *zap.Logger,
	metrics *observ.Metrics,
) *Service {
	return &Service{
		users:   users,
		tenants: tenants,
		tx:      tx,
		hasher:  hasher,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
	}
}

// AuthResult is what login and register hand back to the transport.
type AuthResult struct {
	User      *models.User
	Tenant    *models.Tenant
	Principal *Principal
	Token     string
	ExpiresAt time.Time
}

// Login fails with apperr.ErrInvalidCredentials for an unknown email and for
// a wrong password alike.
func (s *Service) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	defer func() { s.metrics.AuthAttempt("login", err) }()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if user == nil {
		// Burn a comparison so unknown emails cost the same as wrong passwords.
		_ = s.hasher.Compare(s.dummy(), password)
		return nil, apperr.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, apperr.New(apperr.KindUnauthorized, "user is inactive")
	}
	if user.TenantID == uuid.Nil {
		return nil, apperr.ErrNoTenant
	}

	tenant, err := s.tenants.GetByID(ctx, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("login: load tenant: %w", err)
	}
	if tenant == nil {
		return nil, apperr.ErrNoTenant
	}
	if !tenant.IsActive {
		return nil, apperr.New(apperr.KindForbidden, "tenant is inactive")
	}

	return s.issue(user, tenant)
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// RegisterInput is a self-service signup. TenantRef is a tenant id or slug
// to join; CompanyName creates a new tenant when TenantRef is empty.
type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	TenantRef   string
	CompanyName string
}

// Register creates the user (role STAFF) and, when needed, its tenant in one
// transaction, then signs a token for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	defer func() { s.metrics.AuthAttempt("register", err) }()

	in.TenantRef = strings.TrimSpace(in.TenantRef)
	in.CompanyName = strings.TrimSpace(in.CompanyName)

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if existing != nil {
		return nil, apperr.ErrEmailConflict
	}
	if in.TenantRef == "" && in.CompanyName == "" {
		return nil, apperr.ErrMissingTenantInfo
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, hashFailure("register", err)
	}

	var (
		user   *models.User
		tenant *models.Tenant
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if in.TenantRef != "" {
			tenant, err = s.lookupTenant(ctx, in.TenantRef)
		} else {
			tenant, err = s.createTenant(ctx, in.CompanyName)
		}
		if err != nil {
			return err
		}

		user, err = s.users.Create(ctx, models.User{
			TenantID:     tenant.ID,
			Email:        in.Email,
			Name:         in.Name,
			PasswordHash: hash,
			Role:         models.RoleStaff,
			IsActive:     true,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent signup for the same email.
			return apperr.ErrEmailConflict
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", tenant.ID.String()),
	)
	return s.issue(user, tenant)
}

// lookupTenant resolves a tenant by id or, failing to parse one, by slug.
func (s *Service) lookupTenant(ctx context.Context, ref string) (*models.Tenant, error) {
	var (
		tenant *models.Tenant
		err    error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		tenant, err = s.tenants.GetByID(ctx, id)
	} else {
		tenant, err = s.tenants.GetBySlug(ctx, strings.ToLower(ref))
	}
	if err != nil {
		return nil, fmt.Errorf("lookup tenant: %w", err)
	}
	if tenant == nil || !tenant.IsActive {
		return nil, apperr.ErrTenantNotFound
	}
	return tenant, nil
}

const maxSlugAttempts = 5

func (s *Service) createTenant(ctx context.Context, name string) (*models.Tenant, error) {
	slug := Slugify(name)
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		taken, err := s.tenants.GetBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("check slug: %w", err)
		}
		if taken == nil {
			tenant, err := s.tenants.Create(ctx, name, slug, true)
			if err == nil {
				return tenant, nil
			}
			if !errors.Is(err, repository.ErrDuplicate) {
				return nil, err
			}
		}
		slug = withSuffix(Slugify(name))
	}
	return nil, apperr.New(apperr.KindConflict, "could not allocate a unique tenant slug")
}

func (s *Service) issue(user *models.User, tenant *models.Tenant) (*AuthResult, error) {
	p := principalFor(user, tenant)
	token, exp, err := s.tokens.Issue(*p)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:      user,
		Tenant:    tenant,
		Principal: p,
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

func principalFor(user *models.User, tenant *models.Tenant) *Principal {
	return &Principal{
		SubjectID:  user.ID,
		Email:      user.Email,
		Roles:      []models.Role{user.Role},
		Role:       user.Role,
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
	}
}

// ValidateFromToken re-reads the user named by the token's subject. It
// returns nil, nil when the token should be treated as unauthenticated:
// the user is gone or inactive, moved to another tenant, or the tenant is
// inactive. Roles come from the stored user, not from the token, so role
// changes apply on the next request.
func (s *Service) ValidateFromToken(ctx context.Context, claims *Claims) (p *Principal, err error) {
	defer func() {
		if err == nil && p == nil {
			s.metrics.AuthAttempt("validate", apperr.ErrUnauthorized)
			return
		}
		s.metrics.AuthAttempt("validate", err)
	}()

	tokenView, err := PrincipalFromClaims(claims)
	if err != nil {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, tokenView.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if user == nil || !user.IsActive || user.TenantID != tokenView.TenantID {
		return nil, nil
	}

	tenant, err := s.tenants.GetByID(ctx, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("validate token: load tenant: %w", err)
	}
	if tenant == nil || !tenant.IsActive {
		return nil, nil
	}
	return principalFor(user, tenant), nil
}

// Profile returns the stored user and tenant behind a principal.
func (s *Service) Profile(ctx context.Context, p *Principal) (*models.User, *models.Tenant, error) {
	user, err := s.users.GetByID(ctx, p.SubjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("profile: %w", err)
	}
	if user == nil {
		return nil, nil, apperr.ErrUnauthorized
	}
	tenant, err := s.tenants.GetByID(ctx, user.TenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("profile: load tenant: %w", err)
	}
	if tenant == nil {
		return nil, nil, apperr.ErrNoTenant
	}
	return user, tenant, nil
}
