package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/models"
	"go.uber.org/zap"
)

// Context keys for values stored in gin.Context.
const (
	ContextKeyPrincipal = "principal"
	ContextKeyTenantRef = "tenant_ref"
	ContextKeyRequestID = "request_id"
)

// TokenVerifier is the signature/expiry check (auth.TokenManager).
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// PrincipalValidator re-resolves the caller behind verified claims
// (auth.Service). A nil principal with a nil error means "not authenticated".
type PrincipalValidator interface {
	ValidateFromToken(ctx context.Context, claims *auth.Claims) (*auth.Principal, error)
}

// Abort writes err as {"error", "kind"} with the status for its kind and
// stops the chain.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.PublicMessage(err),
		"kind":  apperr.KindOf(err),
	})
}

// Authenticate is the first stage of the guard chain. It verifies the bearer
// token, then re-reads the user behind it; any failure is a 401 before the
// handler runs. The principal's tenant comes from the token and is the only
// tenant protected handlers use.
func Authenticate(tokens TokenVerifier, validator PrincipalValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			Abort(c, apperr.New(apperr.KindUnauthorized, "missing or malformed authorization header"))
			return
		}

		claims, err := tokens.Verify(tokenString)
		if err != nil {
			Abort(c, err)
			return
		}

		principal, err := validator.ValidateFromToken(c.Request.Context(), claims)
		if err != nil {
			logger.Error("validate token", zap.Error(err), zap.String("request_id", GetRequestID(c)))
			Abort(c, apperr.ErrInternal)
			return
		}
		if principal == nil {
			Abort(c, apperr.ErrUnauthorized)
			return
		}

		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// websocket feed also accepts ?access_token= because browsers cannot set
// headers on an upgrade request.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if t := c.Query("access_token"); t != "" && c.IsWebsocket() {
			return t, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// RequireRoles is the second stage. It must run after Authenticate.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(GetPrincipal(c), roles...); err != nil {
			Abort(c, err)
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated caller, or nil outside the guard chain.
func GetPrincipal(c *gin.Context) *auth.Principal {
	val, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil
	}
	p, ok := val.(*auth.Principal)
	if !ok {
		return nil
	}
	return p
}

// MustPrincipal is for handlers mounted behind Authenticate. It writes a
// 401 and returns false if the principal is somehow missing.
func MustPrincipal(c *gin.Context) (*auth.Principal, bool) {
	p := GetPrincipal(c)
	if p == nil {
		Abort(c, apperr.ErrUnauthorized)
		return nil, false
	}
	return p, true
}
