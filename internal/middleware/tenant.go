package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/ordersvc/internal/observ"
)

const (
	TenantHeader     = "x-tenant-id"
	TenantQueryParam = "tenantId"
)

// ResolveTenantID derives a tenant reference from the request alone, in
// priority order: the x-tenant-id header, the tenantId query parameter, then
// the first label of the host name unless it is "www" or "api".
//
// The result is an id or a slug; callers decide how to look it up. An empty
// string means nothing could be resolved.
func ResolveTenantID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(TenantHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get(TenantQueryParam)); v != "" {
		return v
	}
	return subdomain(r.Host)
}

func subdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return ""
	}
	label := host[:strings.IndexByte(host, '.')]
	if label == "www" || label == "api" {
		return ""
	}
	return label
}

// ResolveTenant stores ResolveTenantID's result under ContextKeyTenantRef.
// It never fails the request.
//
// Only pre-authentication routes (registration) read this value. On
// protected routes the token's tenant is authoritative and this value is
// ignored.
func ResolveTenant(metrics *observ.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ref := ResolveTenantID(c.Request); ref != "" {
			c.Set(ContextKeyTenantRef, ref)
		} else {
			metrics.TenantUnresolved()
		}
		c.Next()
	}
}

// GetTenantRef returns the tenant reference ResolveTenant found, or "".
func GetTenantRef(c *gin.Context) string {
	return c.GetString(ContextKeyTenantRef)
}
