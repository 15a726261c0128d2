// Package api is the HTTP surface: gin handlers over the auth and orders
// services, plus the router that wires them behind the middleware chain.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/events"
	"github.com/lalith-99/ordersvc/internal/middleware"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/lalith-99/ordersvc/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker pings the backing store (db.DB or memory.DB).
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps is everything the router needs. Idempotency, Subscriber, Metrics and
// Gatherer are optional.
type Deps struct {
	Auth           *auth.Service
	Tokens         *auth.TokenManager
	Orders         *orders.Service
	Idempotency    orders.IdempotencyStore
	Subscriber     events.Subscriber
	Health         HealthChecker
	Metrics        *observ.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter builds the engine. Middleware order matters: the request id
// comes first so every later log line carries it, and tenant resolution
// runs last because it only reads the request.
//
// Why is the websocket feed under /v1 with the REST routes?
// Browsers cannot set an Authorization header on an upgrade, so
// Authenticate also accepts ?access_token= there, and the feed shares the same
// principal checks as everything else.
func NewRouter(d Deps) *gin.Engine {
	useJSONFieldNames()

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(d.Logger),
		middleware.Metrics(d.Metrics),
		gin.Recovery(),
		middleware.Timeout(d.RequestTimeout),
		middleware.ResolveTenant(d.Metrics),
	)

	// Public: load balancers and scrapers hit these without a token.
	r.GET("/v1/health", healthHandler(d.Health))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authH := NewAuthHandler(d.Auth, d.Logger)
	orderH := NewOrderHandler(d.Orders, d.Idempotency, d.Logger)
	streamH := NewStreamHandler(d.Subscriber, d.Logger)
	adminH := NewAdminHandler(d.Auth, d.Logger)

	public := r.Group("/v1/auth")
	public.POST("/login", authH.Login)
	public.POST("/register", authH.Register)

	v1 := r.Group("/v1")
	v1.Use(middleware.Authenticate(d.Tokens, d.Auth, d.Logger))

	v1.GET("/auth/me", authH.Me)

	ord := v1.Group("/orders")
	ord.POST("", orderH.Create)
	ord.GET("", orderH.List)
	ord.GET("/stream", streamH.Stream)
	ord.GET("/:id", orderH.Get)
	ord.PATCH("/:id", orderH.Update)
	ord.PATCH("/:id/status", orderH.UpdateStatus)
	ord.DELETE("/:id", orderH.Delete)

	admin := v1.Group("/admin", middleware.RequireRoles(models.RoleSuperAdmin))
	admin.GET("/tenants", adminH.ListTenants)
	admin.PATCH("/tenants/:id", adminH.UpdateTenant)
	admin.PATCH("/users/:id", adminH.UpdateUser)

	return r
}

func healthHandler(h HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h != nil {
			if err := h.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
