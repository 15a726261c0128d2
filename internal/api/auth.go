package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/middleware"
	"github.com/lalith-99/ordersvc/internal/models"
	"go.uber.org/zap"
)

// AuthHandler serves login and register, the only routes that run without
// a bearer token, plus /me.
type AuthHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

// NewAuthHandler wraps svc for the /v1/auth routes.
func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
	Name        string `json:"name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	TenantID    string `json:"tenant_id"`
	CompanyName string `json:"company_name"`
}

func (r registerRequest) displayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

type tenantView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
	Tenant      tenantView   `json:"tenant"`
}

func newAuthResponse(res *auth.AuthResult) authResponse {
	return authResponse{
		AccessToken: res.Token,
		TokenType:   "Bearer",
		ExpiresAt:   res.ExpiresAt,
		User:        res.User,
		Tenant: tenantView{
			ID:   res.Tenant.ID.String(),
			Name: res.Tenant.Name,
			Slug: res.Tenant.Slug,
		},
	}
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(res))
}

// Register handles POST /v1/auth/register
//
// A tenant_id in the body wins, then company_name. With neither, the tenant
// resolved from the request (header, query or subdomain) is joined.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}

	tenantRef := strings.TrimSpace(req.TenantID)
	if tenantRef == "" && strings.TrimSpace(req.CompanyName) == "" {
		tenantRef = middleware.GetTenantRef(c)
	}

	res, err := h.svc.Register(c.Request.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.displayName(),
		TenantRef:   tenantRef,
		CompanyName: req.CompanyName,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, newAuthResponse(res))
}

// Me handles GET /v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}

	user, tenant, err := h.svc.Profile(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":   user,
		"tenant": tenantView{ID: tenant.ID.String(), Name: tenant.Name, Slug: tenant.Slug},
		"roles":  p.Roles,
	})
}
