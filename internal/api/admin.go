package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
	"go.uber.org/zap"
)

// AdminHandler is the cross-tenant surface. The router mounts it behind
// RequireRoles(models.RoleSuperAdmin).
type AdminHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

// NewAdminHandler wraps the admin half of auth.Service.
func NewAdminHandler(svc *auth.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

type updateTenantRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// ListTenants handles GET /v1/admin/tenants
func (h *AdminHandler) ListTenants(c *gin.Context) {
	tenants, err := h.svc.ListTenants(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tenants)
}

// UpdateTenant handles PATCH /v1/admin/tenants/:id
func (h *AdminHandler) UpdateTenant(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, apperr.ErrTenantNotFound)
		return
	}
	var req updateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	t, err := h.svc.UpdateTenant(c.Request.Context(), id, repository.TenantUpdate{
		Name:     req.Name,
		IsActive: req.IsActive,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateUser handles PATCH /v1/admin/users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, apperr.New(apperr.KindNotFound, "user not found"))
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	upd := repository.UserUpdate{Name: req.Name, IsActive: req.IsActive}
	if req.Role != nil {
		role, ok := models.ParseRole(*req.Role)
		if !ok {
			respondError(c, h.logger, apperr.New(apperr.KindValidation, "unknown role "+*req.Role))
			return
		}
		upd.Role = &role
	}

	u, err := h.svc.UpdateUser(c.Request.Context(), id, upd)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
