// Package auth resolves bearer tokens into caller identities. Tokens are
// issued elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/keyshop/internal/webserver"
	"go.uber.org/zap"
)

const (
	RoleAdmin    = "ADMIN"
	RoleCustomer = "CUSTOMER"

	contextKey = "auth.token"
)

// Claims is the token payload: {userId, email, role}.
type Claims struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is an authenticated caller.
type Identity struct {
	UserID int64
	Email  string
	Role   string
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Resolver verifies HS256 tokens signed with the shop secret.
type Resolver struct {
	secret []byte
	ttl    time.Duration
}

func NewResolver(secret string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Resolver{secret: []byte(secret), ttl: ttl}
}

func (r *Resolver) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, errors.New("unexpected signing method")
	}
	return r.secret, nil
}

// Parse verifies a raw token string.
func (r *Resolver) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, r.keyFunc)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ResolveIdentity reads an Authorization header value. A missing,
// malformed, expired or forged token yields nil: the caller is a guest.
func (r *Resolver) ResolveIdentity(header string) *Identity {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil
	}
	claims, err := r.Parse(strings.TrimSpace(token))
	if err != nil {
		zap.L().Debug("bearer token ignored, continuing as guest", zap.Error(err))
		return nil
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}
}

// Sign issues a token for id. Used by the operator CLI and tests.
func (r *Resolver) Sign(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// AdminMiddleware requires a valid token carrying the ADMIN role. A missing
// token is 401, a bad token or a non admin role is 403.
func (r *Resolver) AdminMiddleware() []echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    r.secret,
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    contextKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			if strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization)) == "" {
				return webserver.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Access denied. No token provided.", nil)
			}
			return webserver.Fail(c, http.StatusForbidden, "FORBIDDEN", "Invalid token.", nil)
		},
	})
	return []echo.MiddlewareFunc{verify, RequireAdmin}
}

// RequireAdmin rejects callers whose verified token is not an admin's.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !IdentityFrom(c).IsAdmin() {
			return webserver.Fail(c, http.StatusForbidden, "FORBIDDEN", "Access denied. Admins only.", nil)
		}
		return next(c)
	}
}

// IdentityFrom returns the identity verified by AdminMiddleware, if any.
func IdentityFrom(c echo.Context) *Identity {
	tok, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || tok == nil {
		return nil
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok {
		return nil
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}
}
