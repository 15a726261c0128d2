package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/events"
	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/lalith-99/ordersvc/internal/orders"
	"github.com/lalith-99/ordersvc/internal/repository/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memIdem struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
}

func (m *memIdem) Reserve(_ context.Context, tenantID uuid.UUID, key string) (orders.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[tenantID.String()+key]
	if !ok {
		m.keys[tenantID.String()+key] = uuid.Nil
		return orders.Reservation{}, nil
	}
	if id == uuid.Nil {
		return orders.Reservation{InFlight: true}, nil
	}
	return orders.Reservation{OrderID: id}, nil
}

func (m *memIdem) Complete(_ context.Context, tenantID uuid.UUID, key string, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[tenantID.String()+key] = orderID
	return nil
}

func (m *memIdem) Release(_ context.Context, tenantID uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, tenantID.String()+key)
	return nil
}

type testApp struct {
	router http.Handler
	auth   *auth.Service
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	logger := zap.NewNop()
	db := memory.New()
	reg := prometheus.NewRegistry()
	metrics := observ.NewMetrics(reg, "ordersvc")
	hub := events.NewHub(16)

	tokens := auth.NewTokenManager("test-secret-test-secret-test-secret", "ordersvc", time.Hour)
	authSvc := auth.NewService(db.Users(), db.Tenants(), db, auth.NewBcryptHasher(bcrypt.MinCost), tokens, logger, metrics)
	numbers, err := orders.NewSnowflakeNumbers(1)
	require.NoError(t, err)
	orderSvc := orders.NewService(db.Orders(), db, numbers, hub, logger, metrics)

	router := NewRouter(Deps{
		Auth:        authSvc,
		Tokens:      tokens,
		Orders:      orderSvc,
		Idempotency: &memIdem{keys: make(map[string]uuid.UUID)},
		Subscriber:  hub,
		Health:      db,
		Metrics:     metrics,
		Gatherer:    reg,
		Logger:      logger,
	})
	return testApp{router: router, auth: authSvc}
}

type call struct {
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
}

func (a testApp) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	// httptest defaults to example.com, which would resolve as tenant "example".
	req.Host = "localhost"
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func kind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	k, _ := decode(t, w)["kind"].(string)
	return k
}

func (a testApp) register(t *testing.T, email, company string) (token string, tenantID string) {
	t.Helper()
	w := a.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: map[string]string{
		"email":        email,
		"password":     "secret123",
		"first_name":   "Grace",
		"last_name":    "Hopper",
		"company_name": company,
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	return body["access_token"].(string), body["tenant"].(map[string]any)["id"].(string)
}

func assertAmount(t *testing.T, want string, got any) {
	t.Helper()
	s, ok := got.(string)
	require.True(t, ok, "amount %v is not a JSON string", got)
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(s)), "want %s, got %s", want, s)
}

var scenarioBody = map[string]any{
	"tax_amount":    "2.00",
	"shipping_cost": "3.00",
	"items": []map[string]any{
		{"product_id": uuid.NewString(), "quantity": 2, "unit_price": "10.00"},
		{"product_id": uuid.NewString(), "quantity": 1, "unit_price": "5.00"},
	},
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)

	w := a.do(t, call{method: http.MethodGet, path: "/v1/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = a.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ordersvc_http_requests_total")
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "grace@navy.mil", "US Navy")
	assert.NotEmpty(t, token)

	tests := []struct {
		name     string
		path     string
		body     any
		status   int
		wantKind string
	}{
		{"login ok", "/v1/auth/login", map[string]string{"email": "grace@navy.mil", "password": "secret123"}, http.StatusOK, ""},
		{"wrong password", "/v1/auth/login", map[string]string{"email": "grace@navy.mil", "password": "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"unknown email", "/v1/auth/login", map[string]string{"email": "ghost@navy.mil", "password": "secret123"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"malformed email", "/v1/auth/login", map[string]string{"email": "nope", "password": "x"}, http.StatusBadRequest, "VALIDATION"},
		{"duplicate email", "/v1/auth/register", map[string]string{"email": "grace@navy.mil", "password": "secret123", "company_name": "Other"}, http.StatusConflict, "EMAIL_CONFLICT"},
		{"no tenant info", "/v1/auth/register", map[string]string{"email": "new@navy.mil", "password": "secret123"}, http.StatusBadRequest, "MISSING_TENANT_INFO"},
		{"short password", "/v1/auth/register", map[string]string{"email": "new@navy.mil", "password": "12345", "company_name": "X"}, http.StatusBadRequest, "VALIDATION"},
		{"password over 72 bytes", "/v1/auth/register", map[string]string{"email": "new@navy.mil", "password": strings.Repeat("a", 80), "company_name": "X"}, http.StatusBadRequest, "VALIDATION"},
		{"40 runes over 72 bytes", "/v1/auth/register", map[string]string{"email": "new@navy.mil", "password": strings.Repeat("é", 40), "company_name": "X"}, http.StatusBadRequest, "VALIDATION"},
		{"unknown tenant", "/v1/auth/register", map[string]string{"email": "new@navy.mil", "password": "secret123", "tenant_id": uuid.NewString()}, http.StatusNotFound, "TENANT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodPost, path: tt.path, body: tt.body})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, kind(t, w))
			}
			assert.NotContains(t, w.Body.String(), "password_hash")
		})
	}
}

func TestRegister_JoinsResolvedTenant(t *testing.T) {
	a := newTestApp(t)
	_, tenantID := a.register(t, "owner@acme.io", "Acme")

	w := a.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/auth/register",
		body:    map[string]string{"email": "staff@acme.io", "password": "secret123", "name": "Staff"},
		headers: map[string]string{"x-tenant-id": "acme"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, tenantID, decode(t, w)["tenant"].(map[string]any)["id"])
}

func TestMe(t *testing.T) {
	a := newTestApp(t)
	token, tenantID := a.register(t, "me@x.io", "Me Co")

	w := a.do(t, call{method: http.MethodGet, path: "/v1/auth/me"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/auth/me", token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", kind(t, w))

	w = a.do(t, call{method: http.MethodGet, path: "/v1/auth/me", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "me@x.io", body["user"].(map[string]any)["email"])
	assert.Equal(t, "Grace Hopper", body["user"].(map[string]any)["name"])
	assert.Equal(t, tenantID, body["tenant"].(map[string]any)["id"])
	assert.NotContains(t, w.Body.String(), "password")
}

func TestOrders_Lifecycle(t *testing.T) {
	a := newTestApp(t)
	token, tenantID := a.register(t, "ops@shop.io", "Shop")

	w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: scenarioBody})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assertAmount(t, "25.00", created["subtotal"])
	assertAmount(t, "30.00", created["total_amount"])
	assert.Equal(t, "DRAFT", created["status"])
	assert.Equal(t, tenantID, created["tenant_id"])
	assert.Len(t, created["items"], 2)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders?status=shipped", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders?status=LOST", token: token})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Replace items.
	w = a.do(t, call{method: http.MethodPatch, path: "/v1/orders/" + id, token: token, body: map[string]any{
		"items": []map[string]any{{"product_id": uuid.NewString(), "quantity": 3, "unit_price": "1.10"}},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode(t, w)
	assert.Len(t, updated["items"], 1)
	assertAmount(t, "3.30", updated["subtotal"])
	assertAmount(t, "8.30", updated["total_amount"])
	version := updated["version"].(float64)

	// Stale version.
	w = a.do(t, call{method: http.MethodPatch, path: "/v1/orders/" + id + "/status", token: token, body: map[string]any{
		"status": "CONFIRMED", "expected_version": version - 1,
	}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", kind(t, w))

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/orders/" + id + "/status", token: token, body: map[string]any{
		"status": "delivered", "expected_version": version,
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "DELIVERED", decode(t, w)["status"])

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/orders/" + id + "/status", token: token, body: map[string]any{"status": "PENDING"}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", kind(t, w))

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/orders/" + id + "/status", token: token, body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, call{method: http.MethodDelete, path: "/v1/orders/" + id, token: token})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders/" + id, token: token})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", kind(t, w))
}

func TestOrders_Validation(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "v@shop.io", "Shop")

	bodies := []map[string]any{
		{"items": []map[string]any{{"product_id": uuid.NewString(), "quantity": 0}}},
		{"items": []map[string]any{{"quantity": 1}}},
		{"tax_amount": "-1"},
		{"shipping_cost": "1.005"},
		{"status": "LOST"},
		{"items": []map[string]any{{"product_id": uuid.NewString(), "quantity": 3_000_000_000}}},
		{"items": []map[string]any{{"product_id": uuid.NewString(), "quantity": 1, "unit_price": "1000000000000.00"}}},
		{"items": []map[string]any{{"product_id": uuid.NewString(), "quantity": 1001, "unit_price": "999999999.99"}}},
		{"tax_amount": "999999999999.99", "shipping_cost": "1.00"},
	}
	for _, body := range bodies {
		w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: body})
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v: %s", body, w.Body.String())
		assert.Equal(t, "VALIDATION", kind(t, w))
	}

	w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: map[string]any{"tax_amount": "abc"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBadRequest_HidesDecoderDetail(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "b@shop.io", "Shop")

	w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: map[string]any{"items": "not-a-list"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", kind(t, w))
	assert.Equal(t, "invalid request body", decode(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "Go struct")
	assert.NotContains(t, w.Body.String(), "api.")

	w = a.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: map[string]string{"email": "x@shop.io", "password": "123", "company_name": "X"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body: password failed min=6", decode(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "registerRequest")
}

func TestOrders_TenantIsolation(t *testing.T) {
	a := newTestApp(t)
	ownerToken, ownerTenant := a.register(t, "a@one.io", "One")
	otherToken, _ := a.register(t, "b@two.io", "Two")

	w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: ownerToken, body: scenarioBody})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	missing := a.do(t, call{method: http.MethodGet, path: "/v1/orders/" + uuid.NewString(), token: otherToken})
	malformed := a.do(t, call{method: http.MethodGet, path: "/v1/orders/not-a-uuid", token: otherToken})
	// A tenant header naming the owner changes nothing once authenticated.
	cross := a.do(t, call{
		method:  http.MethodGet,
		path:    "/v1/orders/" + id,
		token:   otherToken,
		headers: map[string]string{"x-tenant-id": ownerTenant},
	})
	assert.Equal(t, http.StatusNotFound, cross.Code)
	assert.Equal(t, missing.Body.String(), cross.Body.String())
	assert.Equal(t, missing.Body.String(), malformed.Body.String())

	for _, c := range []call{
		{method: http.MethodPatch, path: "/v1/orders/" + id, body: map[string]any{"notes": "mine now"}},
		{method: http.MethodPatch, path: "/v1/orders/" + id + "/status", body: map[string]any{"status": "CANCELLED"}},
		{method: http.MethodDelete, path: "/v1/orders/" + id},
	} {
		c.token = otherToken
		w := a.do(t, c)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", c.method, c.path)
	}

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders", token: otherToken})
	assert.JSONEq(t, "[]", w.Body.String())

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders/" + id, token: ownerToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DRAFT", decode(t, w)["status"])
}

func TestOrders_IdempotencyKey(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "idem@shop.io", "Shop")
	headers := map[string]string{IdempotencyKeyHeader: "order-123"}

	first := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: scenarioBody, headers: headers})
	require.Equal(t, http.StatusCreated, first.Code)

	second := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: scenarioBody, headers: headers})
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode(t, first)["id"], decode(t, second)["id"])

	long := map[string]string{IdempotencyKeyHeader: strings.Repeat("k", 256)}
	w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: scenarioBody, headers: long})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin(t *testing.T) {
	a := newTestApp(t)
	staffToken, _ := a.register(t, "staff@shop.io", "Shop")

	_, err := a.auth.EnsureSuperAdmin(context.Background(), "root@ops.io", "rootpass", "Root", "Ops")
	require.NoError(t, err)
	w := a.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"email": "root@ops.io", "password": "rootpass"}})
	require.Equal(t, http.StatusOK, w.Code)
	rootToken := decode(t, w)["access_token"].(string)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", token: staffToken})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", kind(t, w))

	w = a.do(t, call{method: http.MethodGet, path: "/v1/admin/tenants", token: rootToken})
	require.Equal(t, http.StatusOK, w.Code)
	var tenants []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenants))
	assert.Len(t, tenants, 2)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/auth/me", token: staffToken})
	staffID := decode(t, w)["user"].(map[string]any)["id"].(string)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/users/" + staffID, token: rootToken, body: map[string]any{"role": "wizard"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/users/" + uuid.NewString(), token: rootToken, body: map[string]any{"is_active": false}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/users/" + staffID, token: rootToken, body: map[string]any{"role": "manager"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "MANAGER", decode(t, w)["role"])

	// Deactivation applies to a token issued before it.
	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/users/" + staffID, token: rootToken, body: map[string]any{"is_active": false}})
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, call{method: http.MethodGet, path: "/v1/auth/me", token: staffToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_DeactivatedTenantLocksOut(t *testing.T) {
	a := newTestApp(t)
	token, tenantID := a.register(t, "user@gone.io", "Gone")
	_, err := a.auth.EnsureSuperAdmin(context.Background(), "root@ops.io", "rootpass", "Root", "Ops")
	require.NoError(t, err)
	w := a.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"email": "root@ops.io", "password": "rootpass"}})
	rootToken := decode(t, w)["access_token"].(string)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/tenants/" + tenantID, token: rootToken, body: map[string]any{"is_active": false}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, call{method: http.MethodGet, path: "/v1/orders", token: token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/tenants/" + uuid.NewString(), token: rootToken, body: map[string]any{"name": "x"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStream_OnlyOwnTenant(t *testing.T) {
	a := newTestApp(t)
	token, tenantID := a.register(t, "feed@one.io", "One")
	otherToken, _ := a.register(t, "feed@two.io", "Two")

	srv := httptest.NewServer(a.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/orders/stream?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	w := a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: otherToken, body: scenarioBody})
	require.Equal(t, http.StatusCreated, w.Code)
	w = a.do(t, call{method: http.MethodPost, path: "/v1/orders", token: token, body: scenarioBody})
	require.Equal(t, http.StatusCreated, w.Code)
	ownID := decode(t, w)["id"].(string)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, events.OrderCreated, env.EventType)
	assert.Equal(t, tenantID, env.TenantID)
	assert.Equal(t, ownID, env.OrderID)
}

func TestStream_RequiresToken(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/orders/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
