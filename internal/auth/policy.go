package auth

import (
	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/models"
)

// Principal is the authenticated caller, rebuilt on every request.
//
// Roles is the role collection; Role is the single-role fallback used when
// Roles is empty.
type Principal struct {
	SubjectID  uuid.UUID     `json:"sub"`
	Email      string        `json:"email"`
	Roles      []models.Role `json:"roles"`
	Role       models.Role   `json:"role,omitempty"`
	TenantID   uuid.UUID     `json:"tenant_id"`
	TenantName string        `json:"tenant_name"`
}

func (p *Principal) heldRoles() []models.Role {
	if len(p.Roles) > 0 {
		return p.Roles
	}
	if p.Role != "" {
		return []models.Role{p.Role}
	}
	return nil
}

// HasRole reports whether the principal holds r.
func (p *Principal) HasRole(r models.Role) bool {
	for _, held := range p.heldRoles() {
		if held == r {
			return true
		}
	}
	return false
}

// Authorize is the single role policy every guard goes through. It passes
// when the principal holds at least one of the required roles; with no
// required roles any authenticated principal passes.
//
// Role names are case-normalized by models.ParseRole before they get here,
// so "staff" in a token and RoleStaff in a route compare equal.
func Authorize(p *Principal, required ...models.Role) error {
	if p == nil {
		return apperr.ErrUnauthorized
	}
	if len(required) == 0 {
		return nil
	}
	for _, r := range required {
		if p.HasRole(r) {
			return nil
		}
	}
	return apperr.ErrForbidden
}
