package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/models"
)

// Claims is the payload inside every bearer token.
//
// Roles are stored lower-cased ("staff") and parsed back into models.Role
// on use. TenantName rides along so clients can show it without a lookup.
//
// Why embed jwt.RegisteredClaims?
//   - sub, iat, exp and jti come from it, with the standard JSON names.
//   - The jwt library validates exp against them during Parse.
type Claims struct {
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	TenantID   string   `json:"tenantId"`
	TenantName string   `json:"tenantName"`
	jwt.RegisteredClaims
}

// SubjectID parses the sub claim.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TenantUUID parses the tenantId claim.
func (c *Claims) TenantUUID() (uuid.UUID, error) {
	return uuid.Parse(c.TenantID)
}

// TokenManager issues and verifies HS256 tokens with one server-held secret.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager signs with secret and stamps issuer on every token.
// Tokens expire ttl after issue.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the principal. It returns the token and its
// expiry so handlers can report expires_at without decoding it again.
func (m *TokenManager) Issue(p Principal) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)

	roles := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, strings.ToLower(string(r)))
	}

	claims := Claims{
		Email:      p.Email,
		Roles:      roles,
		TenantID:   p.TenantID.String(),
		TenantName: p.TenantName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.SubjectID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// jti gives every token a distinct identity in logs.
			ID: uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and expiry. It does not touch the database;
// Service.ValidateFromToken does that.
//
// An expired token fails with apperr.ErrTokenExpired, anything else with
// apperr.ErrInvalidToken. No clock-skew leeway is allowed.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return m.secret, nil
		},
		// Pinning the algorithm rejects "none" and RSA/HMAC confusion.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.KindTokenExpired, "token expired", err)
		}
		return nil, apperr.Wrap(apperr.KindInvalidToken, "invalid token", err)
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, apperr.New(apperr.KindInvalidToken, "invalid token")
	}
	if _, err := claims.SubjectID(); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidToken, "invalid token subject", err)
	}
	return claims, nil
}

// PrincipalFromClaims builds the token's view of the caller. Unknown role
// strings are dropped rather than failing the whole token.
func PrincipalFromClaims(c *Claims) (*Principal, error) {
	sub, err := c.SubjectID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidToken, "invalid token subject", err)
	}
	tenantID, err := c.TenantUUID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidToken, "invalid token tenant", err)
	}
	return &Principal{
		SubjectID:  sub,
		Email:      c.Email,
		Roles:      ParseRoles(c.Roles),
		TenantID:   tenantID,
		TenantName: c.TenantName,
	}, nil
}

// ParseRoles keeps the names it recognizes and drops the rest.
func ParseRoles(names []string) []models.Role {
	roles := make([]models.Role, 0, len(names))
	for _, n := range names {
		if r, ok := models.ParseRole(n); ok {
			roles = append(roles, r)
		}
	}
	return roles
}
